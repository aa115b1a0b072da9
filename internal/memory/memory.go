// Package memory derives the long-term memory artifacts of a synthesized
// story: rolling summary, essence, context snippets and essence embedding.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/prompts"
)

const (
	// maxSummaryWords is the hard cap on the rolling summary.
	maxSummaryWords = 100
	minSnippets     = 3
	maxSnippets     = 5
)

// TextGenerator is the LLM surface the processor needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Embedder produces the essence embedding.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// Processor generates memory components from a story's analysis report.
type Processor struct {
	gen      TextGenerator
	embedder Embedder
	prompts  *prompts.Store
	retry    llm.RetryPolicy
	log      *slog.Logger
}

// NewProcessor creates a memory processor over the shared LLM client.
func NewProcessor(gen TextGenerator, embedder Embedder, store *prompts.Store) *Processor {
	return &Processor{
		gen:      gen,
		embedder: embedder,
		prompts:  store,
		retry:    llm.DefaultRetryPolicy(),
		log:      logger.Get(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests.
func (p *Processor) WithRetryPolicy(policy llm.RetryPolicy) *Processor {
	p.retry = policy
	return p
}

// Generate derives the memory components from the analysis report and
// embeds the story essence. The summary is truncated to the word cap;
// excess snippets are clamped and a shortfall is tolerated with a warning.
func (p *Processor) Generate(ctx context.Context, analysisSummary string) (*core.MemoryComponents, error) {
	prompt, err := p.prompts.Render(prompts.TaskMemoryGeneration, map[string]any{
		"AnalysisSummary": analysisSummary,
	})
	if err != nil {
		return nil, err
	}

	var components *core.MemoryComponents
	err = p.retry.Do(ctx, "memory_generation", func() error {
		response, err := p.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.3})
		if err != nil {
			return err
		}
		parsed, err := p.parseComponents(response)
		if err != nil {
			return err
		}
		components = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	embedding, err := p.embedder.GenerateEmbedding(ctx, components.StoryEssence)
	if err != nil {
		return nil, fmt.Errorf("essence embedding failed: %w", err)
	}
	components.EssenceEmbedding = embedding

	return components, nil
}

func (p *Processor) parseComponents(response string) (*core.MemoryComponents, error) {
	block, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var raw struct {
		RollingSummary  string   `json:"rolling_summary"`
		StoryEssence    string   `json:"story_essence"`
		ContextSnippets []string `json:"context_snippets"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("invalid memory JSON: %w", err)
	}

	raw.RollingSummary = strings.TrimSpace(raw.RollingSummary)
	raw.StoryEssence = strings.TrimSpace(raw.StoryEssence)
	if raw.RollingSummary == "" || raw.StoryEssence == "" {
		return nil, fmt.Errorf("memory reply missing rolling_summary or story_essence")
	}

	snippets := make([]string, 0, len(raw.ContextSnippets))
	for _, s := range raw.ContextSnippets {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			snippets = append(snippets, trimmed)
		}
	}
	if len(snippets) == 0 {
		return nil, fmt.Errorf("memory reply has no context snippets")
	}
	if len(snippets) > maxSnippets {
		snippets = snippets[:maxSnippets]
	}
	if len(snippets) < minSnippets {
		p.log.Warn("Memory reply returned fewer snippets than expected", "count", len(snippets))
	}

	return &core.MemoryComponents{
		RollingSummary:  TruncateWords(raw.RollingSummary, maxSummaryWords),
		StoryEssence:    raw.StoryEssence,
		ContextSnippets: snippets,
	}, nil
}

// TruncateWords keeps at most limit whitespace-separated tokens.
func TruncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ")
}

// Package synthesize writes the strategic-signal markdown report for a
// validated, enriched story.
package synthesize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/prompts"
)

// Disclaimer is the mandatory final line of every report.
const Disclaimer = "This report is generated automatically and is not investment advice."

// defaultHistoricalContext is used when no similar historical stories
// were retrieved.
const defaultHistoricalContext = "No related historical stories were found."

// TextGenerator is the LLM surface the synthesizer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Input carries everything one report needs.
type Input struct {
	Label        string
	Rationale    string
	Articles     []core.Article
	Historical   []core.SimilarStory
	MacroContext string
}

// Synthesizer produces analysis summaries.
type Synthesizer struct {
	gen     TextGenerator
	prompts *prompts.Store
	retry   llm.RetryPolicy
	log     *slog.Logger
}

// NewSynthesizer creates a synthesizer over the shared LLM client.
func NewSynthesizer(gen TextGenerator, store *prompts.Store) *Synthesizer {
	return &Synthesizer{
		gen:     gen,
		prompts: store,
		retry:   llm.DefaultRetryPolicy(),
		log:     logger.Get(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests.
func (s *Synthesizer) WithRetryPolicy(policy llm.RetryPolicy) *Synthesizer {
	s.retry = policy
	return s
}

// Synthesize runs one LLM call over the fixed report template and
// guarantees the disclaimer ends the returned markdown.
func (s *Synthesizer) Synthesize(ctx context.Context, input Input) (string, error) {
	prompt, err := s.prompts.Render(prompts.TaskSynthesis, map[string]any{
		"Label":             input.Label,
		"Rationale":         input.Rationale,
		"Snippets":          FormatSnippets(input.Articles),
		"HistoricalContext": formatHistorical(input.Historical),
		"MacroContext":      input.MacroContext,
		"Disclaimer":        Disclaimer,
	})
	if err != nil {
		return "", err
	}

	var report string
	err = s.retry.Do(ctx, "report_synthesis", func() error {
		response, err := s.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.4, MaxTokens: 2048})
		if err != nil {
			return err
		}
		trimmed := strings.TrimSpace(response)
		if trimmed == "" {
			return fmt.Errorf("empty synthesis reply")
		}
		report = trimmed
		return nil
	})
	if err != nil {
		return "", err
	}

	if !strings.HasSuffix(report, Disclaimer) {
		report = report + "\n\n" + Disclaimer
	}

	s.log.Info("Report synthesized", "label", input.Label, "chars", len(report))
	return report, nil
}

// FormatSnippets renders the member articles as bullet lines of
// "title — source (publication time)".
func FormatSnippets(articles []core.Article) string {
	var b strings.Builder
	for _, article := range articles {
		b.WriteString("- ")
		b.WriteString(article.Title)
		if article.Source != "" {
			b.WriteString(" — ")
			b.WriteString(article.Source)
		}
		if article.PublishedAt != nil {
			fmt.Fprintf(&b, " (%s)", article.PublishedAt.Format("2006-01-02 15:04 MST"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatHistorical(stories []core.SimilarStory) string {
	if len(stories) == 0 {
		return defaultHistoricalContext
	}
	var b strings.Builder
	for _, story := range stories {
		fmt.Fprintf(&b, "- %s: %s\n", story.Title, story.EssenceText)
	}
	return b.String()
}

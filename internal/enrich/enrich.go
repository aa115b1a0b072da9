// Package enrich turns a validated cluster into a named story: first an
// analytical label, then a rationale for why the articles belong together.
package enrich

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

// TextGenerator is the LLM surface the enricher needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Enrichment is the label and rationale for a validated cluster.
type Enrichment struct {
	Label     string
	Rationale string
}

// Enricher produces labels and rationales for validated clusters.
type Enricher struct {
	gen     TextGenerator
	prompts *prompts.Store
	retry   llm.RetryPolicy
	log     *slog.Logger
}

// NewEnricher creates an enricher over the shared LLM client.
func NewEnricher(gen TextGenerator, store *prompts.Store) *Enricher {
	return &Enricher{
		gen:     gen,
		prompts: store,
		retry:   llm.DefaultRetryPolicy(),
		log:     logger.Get(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests.
func (e *Enricher) WithRetryPolicy(policy llm.RetryPolicy) *Enricher {
	e.retry = policy
	return e
}

// Enrich runs the two calls sequentially: the rationale prompt needs the
// label, so labeling failure aborts the whole enrichment.
func (e *Enricher) Enrich(ctx context.Context, articles []core.Article) (*Enrichment, error) {
	headlines := formatHeadlines(articles)

	label, err := e.generateLabel(ctx, headlines)
	if err != nil {
		return nil, fmt.Errorf("labeling failed: %w", err)
	}

	rationale, err := e.generateRationale(ctx, headlines, label)
	if err != nil {
		return nil, fmt.Errorf("justification failed: %w", err)
	}

	e.log.Info("Cluster enriched", "label", label)
	return &Enrichment{Label: label, Rationale: rationale}, nil
}

func (e *Enricher) generateLabel(ctx context.Context, headlines string) (string, error) {
	prompt, err := e.prompts.Render(prompts.TaskLabeling, map[string]any{"Headlines": headlines})
	if err != nil {
		return "", err
	}

	var label string
	err = e.retry.Do(ctx, "story_labeling", func() error {
		response, err := e.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.4})
		if err != nil {
			return err
		}
		label, err = parseStringField(response, "label")
		return err
	})
	return label, err
}

func (e *Enricher) generateRationale(ctx context.Context, headlines, label string) (string, error) {
	prompt, err := e.prompts.Render(prompts.TaskJustification, map[string]any{
		"Headlines": headlines,
		"Label":     label,
	})
	if err != nil {
		return "", err
	}

	var rationale string
	err = e.retry.Do(ctx, "story_justification", func() error {
		response, err := e.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.3})
		if err != nil {
			return err
		}
		rationale, err = parseStringField(response, "rationale")
		return err
	})
	return rationale, err
}

// parseStringField extracts a single required non-empty string field from
// a JSON object reply.
func parseStringField(response, field string) (string, error) {
	block, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return "", err
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return "", fmt.Errorf("invalid %s JSON: %w", field, err)
	}

	value := strings.TrimSpace(raw[field])
	if value == "" {
		return "", fmt.Errorf("reply missing %q", field)
	}
	return value, nil
}

func formatHeadlines(articles []core.Article) string {
	var b strings.Builder
	for i, article := range articles {
		fmt.Fprintf(&b, "%d. %s", i+1, article.Title)
		if article.Source != "" {
			fmt.Fprintf(&b, " (%s)", article.Source)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Package validate judges whether a detected article community forms a
// coherent cross-event story worth tracking.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/prompts"
)

var validStrengths = map[string]struct{}{
	"strong": {},
	"medium": {},
	"weak":   {},
}

// TextGenerator is the LLM surface the validator needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Validator asks the LLM to accept or reject a cluster as a story.
type Validator struct {
	gen     TextGenerator
	prompts *prompts.Store
	retry   llm.RetryPolicy
	log     *slog.Logger
}

// NewValidator creates a validator over the shared LLM client.
func NewValidator(gen TextGenerator, store *prompts.Store) *Validator {
	return &Validator{
		gen:     gen,
		prompts: store,
		retry:   llm.DefaultRetryPolicy(),
		log:     logger.Get(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests.
func (v *Validator) WithRetryPolicy(policy llm.RetryPolicy) *Validator {
	v.retry = policy
	return v
}

// Validate renders the cluster's headlines and shared entities into the
// validation prompt and parses the strict tagged reply. A rejection
// carries reasoning but no strength or confidence.
func (v *Validator) Validate(ctx context.Context, articles []core.Article) (*core.Validation, error) {
	if len(articles) < 2 {
		return nil, fmt.Errorf("cluster has %d articles, need at least 2", len(articles))
	}

	prompt, err := v.prompts.Render(prompts.TaskValidation, map[string]any{
		"Headlines":      formatHeadlines(articles),
		"SharedEntities": strings.Join(SharedEntities(articles), ", "),
	})
	if err != nil {
		return nil, err
	}

	var validation *core.Validation
	err = v.retry.Do(ctx, "cluster_validation", func() error {
		response, err := v.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.2})
		if err != nil {
			return err
		}
		parsed, err := parseValidation(response)
		if err != nil {
			return err
		}
		validation = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.log.Info("Cluster validated",
		"articles", len(articles), "is_story", validation.IsStory,
		"signal_strength", validation.SignalStrength)
	return validation, nil
}

// SharedEntities returns entity names appearing in at least two of the
// articles, sorted alphabetically.
func SharedEntities(articles []core.Article) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, article := range articles {
		for name := range article.EntityNames() {
			counts[name]++
		}
		for _, entity := range article.Entities {
			lowered := strings.ToLower(entity.Name)
			if _, ok := display[lowered]; !ok {
				display[lowered] = entity.Name
			}
		}
	}

	var shared []string
	for name, count := range counts {
		if count >= 2 {
			shared = append(shared, display[name])
		}
	}
	sort.Strings(shared)
	return shared
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

// parseValidation enforces the tagged reply shape: a rejection needs only
// is_story and reasoning, an acceptance needs a known strength and a
// confidence in [0, 1].
func parseValidation(response string) (*core.Validation, error) {
	block, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var raw struct {
		IsStory         *bool    `json:"is_story"`
		SignalStrength  string   `json:"signal_strength"`
		ConfidenceScore *float64 `json:"confidence_score"`
		Reasoning       string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("invalid validation JSON: %w", err)
	}
	if raw.IsStory == nil {
		return nil, fmt.Errorf("validation reply missing is_story")
	}

	validation := &core.Validation{IsStory: *raw.IsStory, Reasoning: strings.TrimSpace(raw.Reasoning)}
	if !validation.IsStory {
		return validation, nil
	}

	strength := strings.ToLower(strings.TrimSpace(raw.SignalStrength))
	if _, ok := validStrengths[strength]; !ok {
		return nil, fmt.Errorf("invalid signal_strength %q", raw.SignalStrength)
	}
	if raw.ConfidenceScore == nil || *raw.ConfidenceScore < 0 || *raw.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidence_score missing or out of range")
	}

	validation.SignalStrength = strength
	validation.ConfidenceScore = *raw.ConfidenceScore
	return validation, nil
}

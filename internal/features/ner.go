package features

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storyline/internal/llm"
	"storyline/internal/prompts"
)

// EntityTypes are the recognized named-entity categories, in report order.
var EntityTypes = []string{"organization", "person", "place", "monetary", "date", "event"}

// maxNERChars bounds the text sent to the entity extraction prompt.
const maxNERChars = 6000

// TextGenerator is the LLM surface the recognizer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// GeminiRecognizer extracts named entities with a structured LLM call.
type GeminiRecognizer struct {
	gen     TextGenerator
	prompts *prompts.Store
	retry   llm.RetryPolicy
}

// NewGeminiRecognizer creates an entity recognizer over the shared client.
func NewGeminiRecognizer(gen TextGenerator, store *prompts.Store) *GeminiRecognizer {
	return &GeminiRecognizer{gen: gen, prompts: store, retry: llm.DefaultRetryPolicy()}
}

// WithRetryPolicy overrides the retry policy (used by tests).
func (r *GeminiRecognizer) WithRetryPolicy(policy llm.RetryPolicy) *GeminiRecognizer {
	r.retry = policy
	return r
}

// ExtractEntities runs NER over text and returns type -> ordered unique
// names. Names whose trimmed length is 2 or less are dropped.
func (r *GeminiRecognizer) ExtractEntities(ctx context.Context, text string) (map[string][]string, error) {
	if len(text) > maxNERChars {
		text = text[:maxNERChars]
	}

	prompt, err := r.prompts.Render(prompts.TaskEntityExtraction, map[string]any{"Text": text})
	if err != nil {
		return nil, err
	}

	var raw map[string][]string
	err = r.retry.Do(ctx, "entity_extraction", func() error {
		response, genErr := r.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.1})
		if genErr != nil {
			return genErr
		}
		block, parseErr := llm.ExtractJSONBlock(response)
		if parseErr != nil {
			return parseErr
		}
		raw = nil
		return json.Unmarshal([]byte(block), &raw)
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}

	return normalizeEntities(raw), nil
}

// normalizeEntities keeps only known types, dedupes within each type
// preserving order, and drops names of trimmed length <= 2.
func normalizeEntities(raw map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, typ := range EntityTypes {
		seen := make(map[string]struct{})
		for _, name := range raw[typ] {
			name = strings.TrimSpace(name)
			if len([]rune(name)) <= 2 {
				continue
			}
			key := strings.ToLower(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out[typ] = append(out[typ], name)
		}
	}
	return out
}

// Package assets reduces rule-mapped candidate instruments to the ones an
// article genuinely implicates, with per-asset polarity.
package assets

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/prompts"
)

// maxArticleChars bounds the article text included in the filter prompt.
const maxArticleChars = 3000

var validImpacts = map[string]struct{}{
	"positive": {},
	"negative": {},
	"neutral":  {},
}

// TextGenerator is the LLM surface the filter needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Filter asks the LLM which candidate assets the article truly implicates.
type Filter struct {
	gen     TextGenerator
	prompts *prompts.Store
	log     *slog.Logger
}

// NewFilter creates an asset filter over the shared LLM client.
func NewFilter(gen TextGenerator, store *prompts.Store) *Filter {
	return &Filter{gen: gen, prompts: store, log: logger.Get()}
}

// FilterAssets runs one LLM call and parses the strict JSON array reply.
// Schema violations yield an empty list; retries belong to the caller.
func (f *Filter) FilterAssets(ctx context.Context, articleText string, candidates []string) ([]core.AssetImpact, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(articleText) > maxArticleChars {
		articleText = articleText[:maxArticleChars]
	}

	prompt, err := f.prompts.Render(prompts.TaskAssetImpact, map[string]any{
		"ArticleText": articleText,
		"Candidates":  strings.Join(candidates, ", "),
	})
	if err != nil {
		return nil, err
	}

	response, err := f.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.1})
	if err != nil {
		return nil, err
	}

	impacts, ok := parseImpacts(response, candidates)
	if !ok {
		f.log.Warn("Asset filter response failed strict parsing, dropping candidates", "candidates", len(candidates))
		return nil, nil
	}
	return impacts, nil
}

// parseImpacts enforces the schema: a JSON array of objects with non-empty
// asset drawn from the candidates and a known impact value. Any violation
// invalidates the whole response.
func parseImpacts(response string, candidates []string) ([]core.AssetImpact, bool) {
	block, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, false
	}

	var impacts []core.AssetImpact
	if err := json.Unmarshal([]byte(block), &impacts); err != nil {
		return nil, false
	}

	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[strings.ToLower(c)] = struct{}{}
	}

	for i := range impacts {
		impacts[i].Asset = strings.TrimSpace(impacts[i].Asset)
		impacts[i].Impact = strings.ToLower(strings.TrimSpace(impacts[i].Impact))
		if impacts[i].Asset == "" {
			return nil, false
		}
		if _, ok := allowed[strings.ToLower(impacts[i].Asset)]; !ok {
			return nil, false
		}
		if _, ok := validImpacts[impacts[i].Impact]; !ok {
			return nil, false
		}
	}
	return impacts, true
}

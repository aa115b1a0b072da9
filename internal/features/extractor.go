// Package features enriches raw articles with full text, named entities
// and a dense semantic embedding. Extraction is best-effort: subcomponent
// failures produce partial results, never a panic or an aborted batch.
package features

import (
	"context"
	"log/slog"
	"strings"

	"storyline/internal/core"
	"storyline/internal/logger"
)

// DefaultTokenBudget is the whitespace-token budget for embedding input.
// Longer texts are truncated head plus tail around a sentinel so both the
// lead and the closing signal survive.
const DefaultTokenBudget = 512

const truncationSentinel = "..."

// TextFetcher retrieves cleaned article body text.
type TextFetcher interface {
	FetchArticleText(ctx context.Context, url string) (string, error)
}

// EntityRecognizer extracts named entities grouped by type.
type EntityRecognizer interface {
	ExtractEntities(ctx context.Context, text string) (map[string][]string, error)
}

// Embedder produces a fixed-dimension dense vector for a text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// Result carries whatever Phase 1 managed to produce for one article.
// Missing lists the subfeatures that failed, for the processing log.
type Result struct {
	FullText  string
	Entities  map[string][]string
	Embedding []float64
	Missing   []string
}

// HasEntities reports whether at least one entity was extracted.
func (r Result) HasEntities() bool {
	for _, names := range r.Entities {
		if len(names) > 0 {
			return true
		}
	}
	return false
}

// Status derives the processing-log status for this result: success when
// both entities and embedding are present, failed when neither is, and
// partial otherwise.
func (r Result) Status() core.ProcessingStatus {
	hasEmbedding := len(r.Embedding) > 0
	switch {
	case r.HasEntities() && hasEmbedding:
		return core.StatusSuccess
	case r.HasEntities() || hasEmbedding:
		return core.StatusPartial
	default:
		return core.StatusFailed
	}
}

// ErrorMessage joins the missing subfeatures into a log-friendly string.
func (r Result) ErrorMessage() string {
	return strings.Join(r.Missing, "; ")
}

// Extractor runs the per-article enrichment: fetch, NER, embedding.
type Extractor struct {
	fetcher     TextFetcher
	ner         EntityRecognizer
	embedder    Embedder
	tokenBudget int
	log         *slog.Logger
}

// NewExtractor wires the three subcomponents together.
func NewExtractor(fetcher TextFetcher, ner EntityRecognizer, embedder Embedder) *Extractor {
	return &Extractor{
		fetcher:     fetcher,
		ner:         ner,
		embedder:    embedder,
		tokenBudget: DefaultTokenBudget,
		log:         logger.Get(),
	}
}

// WithTokenBudget overrides the embedding token budget.
func (e *Extractor) WithTokenBudget(budget int) *Extractor {
	if budget > 0 {
		e.tokenBudget = budget
	}
	return e
}

// Extract enriches one article. It always returns a Result; failed
// subfeatures are recorded in Result.Missing.
func (e *Extractor) Extract(ctx context.Context, article core.Article) Result {
	var result Result

	text, err := e.fetcher.FetchArticleText(ctx, article.URL)
	if err != nil {
		e.log.Warn("Article text fetch failed", "article_id", article.ID, "url", article.URL, "error", err.Error())
		result.Missing = append(result.Missing, "text: "+err.Error())
		return result
	}
	result.FullText = text

	entities, err := e.ner.ExtractEntities(ctx, text)
	if err != nil {
		e.log.Warn("Entity extraction failed", "article_id", article.ID, "error", err.Error())
		result.Missing = append(result.Missing, "entities: "+err.Error())
	} else {
		result.Entities = entities
	}

	embeddingInput := TruncateForEmbedding(article.Title+"\n\n"+text, e.tokenBudget)
	embedding, err := e.embedder.GenerateEmbedding(ctx, embeddingInput)
	if err != nil {
		e.log.Warn("Embedding generation failed", "article_id", article.ID, "error", err.Error())
		result.Missing = append(result.Missing, "embedding: "+err.Error())
	} else {
		result.Embedding = embedding
	}

	return result
}

// TruncateForEmbedding limits text to budget whitespace tokens by keeping
// the first floor(budget/2) and last ceil(budget/2) tokens with a sentinel
// between them.
func TruncateForEmbedding(text string, budget int) string {
	tokens := strings.Fields(text)
	if budget <= 0 || len(tokens) <= budget {
		return strings.Join(tokens, " ")
	}

	head := budget / 2
	tail := budget - head
	parts := make([]string, 0, budget+1)
	parts = append(parts, tokens[:head]...)
	parts = append(parts, truncationSentinel)
	parts = append(parts, tokens[len(tokens)-tail:]...)
	return strings.Join(parts, " ")
}

package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"storyline/internal/core"
)

type stubFetcher struct {
	text string
	err  error
}

func (s *stubFetcher) FetchArticleText(ctx context.Context, url string) (string, error) {
	return s.text, s.err
}

type stubRecognizer struct {
	entities map[string][]string
	err      error
}

func (s *stubRecognizer) ExtractEntities(ctx context.Context, text string) (map[string][]string, error) {
	return s.entities, s.err
}

type stubEmbedder struct {
	embedding []float64
	err       error
	lastInput string
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	s.lastInput = text
	return s.embedding, s.err
}

func TestExtractFullSuccess(t *testing.T) {
	extractor := NewExtractor(
		&stubFetcher{text: "The ECB held rates."},
		&stubRecognizer{entities: map[string][]string{"organization": {"ECB"}}},
		&stubEmbedder{embedding: []float64{0.1, 0.2}},
	)

	result := extractor.Extract(context.Background(), core.Article{ID: 1, URL: "http://example.com/a"})
	if got := result.Status(); got != core.StatusSuccess {
		t.Errorf("status: got %s, want %s", got, core.StatusSuccess)
	}
	if len(result.Missing) != 0 {
		t.Errorf("unexpected missing parts: %v", result.Missing)
	}
}

func TestExtractFetchFailureShortCircuits(t *testing.T) {
	extractor := NewExtractor(
		&stubFetcher{err: errors.New("status 404")},
		&stubRecognizer{entities: map[string][]string{"organization": {"ECB"}}},
		&stubEmbedder{embedding: []float64{0.1}},
	)

	result := extractor.Extract(context.Background(), core.Article{ID: 1, URL: "http://example.com/a"})
	if got := result.Status(); got != core.StatusFailed {
		t.Errorf("status: got %s, want %s", got, core.StatusFailed)
	}
	if result.HasEntities() || len(result.Embedding) != 0 {
		t.Error("no subfeatures should be produced when the text fetch fails")
	}
	if result.ErrorMessage() == "" {
		t.Error("expected an error message for the log row")
	}
}

func TestExtractPartialOnEmbeddingFailure(t *testing.T) {
	extractor := NewExtractor(
		&stubFetcher{text: "The ECB held rates."},
		&stubRecognizer{entities: map[string][]string{"organization": {"ECB"}}},
		&stubEmbedder{err: errors.New("quota exceeded")},
	)

	result := extractor.Extract(context.Background(), core.Article{ID: 1})
	if got := result.Status(); got != core.StatusPartial {
		t.Errorf("status: got %s, want %s", got, core.StatusPartial)
	}
	if !strings.Contains(result.ErrorMessage(), "embedding") {
		t.Errorf("error message should name the missing subfeature, got %q", result.ErrorMessage())
	}
}

func TestExtractPartialOnEntityFailure(t *testing.T) {
	extractor := NewExtractor(
		&stubFetcher{text: "The ECB held rates."},
		&stubRecognizer{err: errors.New("parse failure")},
		&stubEmbedder{embedding: []float64{0.1}},
	)

	result := extractor.Extract(context.Background(), core.Article{ID: 1})
	if got := result.Status(); got != core.StatusPartial {
		t.Errorf("status: got %s, want %s", got, core.StatusPartial)
	}
}

func TestTruncateForEmbeddingKeepsHeadAndTail(t *testing.T) {
	tokens := make([]string, 10)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("t%d", i)
	}
	text := strings.Join(tokens, " ")

	got := TruncateForEmbedding(text, 4)
	want := "t0 t1 ... t8 t9"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncateForEmbeddingOddBudget(t *testing.T) {
	text := "a b c d e f g h"
	got := TruncateForEmbedding(text, 5)
	// floor(5/2)=2 head tokens, ceil(5/2)=3 tail tokens
	want := "a b ... f g h"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncateForEmbeddingShortTextUntouched(t *testing.T) {
	if got := TruncateForEmbedding("a b c", 10); got != "a b c" {
		t.Errorf("got %q, want unchanged text", got)
	}
}

func TestNormalizeEntities(t *testing.T) {
	raw := map[string][]string{
		"organization": {"ECB", "ecb", " EU ", "AB"},
		"person":       {"Christine Lagarde"},
		"unknown_type": {"dropped"},
	}
	got := normalizeEntities(raw)

	if len(got["organization"]) != 1 || got["organization"][0] != "ECB" {
		// "ecb" is a case-duplicate, "EU" trims to 2 runes, "AB" is too short
		t.Errorf("organization: got %v, want [ECB]", got["organization"])
	}
	if len(got["person"]) != 1 {
		t.Errorf("person: got %v", got["person"])
	}
	if _, ok := got["unknown_type"]; ok {
		t.Error("unknown types must be dropped")
	}
}

package synthesize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/prompts"
)

type stubGenerator struct {
	response string
	err      error
	prompt   string
	calls    int
}

func (s *stubGenerator) GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.response, s.err
}

func loadStore(t *testing.T) *prompts.Store {
	t.Helper()
	store, err := prompts.Load("")
	if err != nil {
		t.Fatalf("failed to load prompt templates: %v", err)
	}
	return store
}

func noRetry() llm.RetryPolicy {
	return llm.RetryPolicy{Attempts: 1}
}

func sampleInput() Input {
	pub := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return Input{
		Label:     "Supply Shocks Converge On Oil",
		Rationale: "Two independent constraints hit the same market.",
		Articles: []core.Article{
			{Title: "OPEC extends cuts", Source: "Reuters", PublishedAt: &pub},
			{Title: "Red Sea disruptions persist", Source: "FT"},
		},
		Historical: []core.SimilarStory{
			{Title: "Oil Supply Squeeze", EssenceText: "Earlier round of the same dynamic."},
		},
	}
}

func TestSynthesize(t *testing.T) {
	gen := &stubGenerator{response: "## Signal\nOil is tightening.\n\n" + Disclaimer}

	report, err := NewSynthesizer(gen, loadStore(t)).WithRetryPolicy(noRetry()).
		Synthesize(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if !strings.HasSuffix(report, Disclaimer) {
		t.Error("report must end with the disclaimer")
	}

	for _, want := range []string{
		"Supply Shocks Converge On Oil",
		"OPEC extends cuts — Reuters (2025-03-14 09:30 UTC)",
		"Oil Supply Squeeze",
		Disclaimer,
	} {
		if !strings.Contains(gen.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSynthesizeAppendsMissingDisclaimer(t *testing.T) {
	gen := &stubGenerator{response: "## Signal\nSomething happened."}

	report, err := NewSynthesizer(gen, loadStore(t)).WithRetryPolicy(noRetry()).
		Synthesize(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if !strings.HasSuffix(report, Disclaimer) {
		t.Errorf("disclaimer not appended: %q", report)
	}
}

func TestSynthesizeDefaultHistoricalContext(t *testing.T) {
	gen := &stubGenerator{response: "report\n" + Disclaimer}
	input := sampleInput()
	input.Historical = nil

	if _, err := NewSynthesizer(gen, loadStore(t)).WithRetryPolicy(noRetry()).
		Synthesize(context.Background(), input); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if !strings.Contains(gen.prompt, defaultHistoricalContext) {
		t.Error("prompt missing default historical context")
	}
}

func TestSynthesizeEmptyReplyFails(t *testing.T) {
	gen := &stubGenerator{response: "   "}
	if _, err := NewSynthesizer(gen, loadStore(t)).WithRetryPolicy(noRetry()).
		Synthesize(context.Background(), sampleInput()); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestSynthesizeTransportErrorPropagates(t *testing.T) {
	gen := &stubGenerator{err: errors.New("rate limited")}
	if _, err := NewSynthesizer(gen, loadStore(t)).WithRetryPolicy(noRetry()).
		Synthesize(context.Background(), sampleInput()); err == nil {
		t.Fatal("expected transport error")
	}
}

// Package stories links newly synthesized stories to the historical
// stories they continue.
package stories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/prompts"
	"storyline/internal/vectorstore"
)

const (
	// DefaultWindowDays bounds how far back candidate predecessors are
	// searched.
	DefaultWindowDays = 14
	// DefaultCandidates is how many nearest historical stories are
	// offered to the continuity judgement.
	DefaultCandidates = 3
)

// TextGenerator is the LLM surface the tracker needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Tracker decides whether a new story continues a historical one.
type Tracker struct {
	retriever  vectorstore.StoryRetriever
	gen        TextGenerator
	prompts    *prompts.Store
	retry      llm.RetryPolicy
	windowDays int
	candidates int
	log        *slog.Logger
}

// NewTracker creates a tracker with the production window and candidate
// count.
func NewTracker(retriever vectorstore.StoryRetriever, gen TextGenerator, store *prompts.Store) *Tracker {
	return &Tracker{
		retriever:  retriever,
		gen:        gen,
		prompts:    store,
		retry:      llm.DefaultRetryPolicy(),
		windowDays: DefaultWindowDays,
		candidates: DefaultCandidates,
		log:        logger.Get(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests.
func (t *Tracker) WithRetryPolicy(policy llm.RetryPolicy) *Tracker {
	t.retry = policy
	return t
}

// WithWindow overrides the lookback window and candidate count.
func (t *Tracker) WithWindow(windowDays, candidates int) *Tracker {
	t.windowDays = windowDays
	t.candidates = candidates
	return t
}

// FindParent retrieves recent similar stories and asks the LLM whether
// the new story continues one of them. It returns the parent story, or
// nil when the story stands alone. A nil representative vector means no
// continuity search and therefore no parent.
func (t *Tracker) FindParent(ctx context.Context, label, rationale string, vector []float64) (*core.SimilarStory, error) {
	if vector == nil {
		t.log.Debug("No representative vector, skipping continuity search", "label", label)
		return nil, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -t.windowDays)
	candidates, err := t.retriever.RetrieveRecent(ctx, vector, t.candidates, since)
	if err != nil {
		return nil, fmt.Errorf("historical retrieval failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	prompt, err := t.prompts.Render(prompts.TaskContinuity, map[string]any{
		"Label":      label,
		"Rationale":  rationale,
		"Candidates": formatCandidates(candidates),
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]core.SimilarStory, len(candidates))
	for _, c := range candidates {
		byID[c.StoryID] = c
	}

	var parentID *int64
	err = t.retry.Do(ctx, "story_continuity", func() error {
		response, err := t.gen.GenerateText(ctx, prompt, llm.TextGenerationOptions{Temperature: 0.2})
		if err != nil {
			return err
		}
		parsed, err := parseContinuity(response, byID)
		if err != nil {
			return err
		}
		parentID = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if parentID == nil {
		return nil, nil
	}

	parent := byID[*parentID]
	t.log.Info("Story continuation detected", "label", label, "parent_story_id", parent.StoryID)
	return &parent, nil
}

// RepresentativeVector averages the member embeddings. Fewer than two
// embedded members yields nil.
func RepresentativeVector(members []core.Article) []float64 {
	var dim, count int
	for _, m := range members {
		if len(m.Embedding) > 0 {
			dim = len(m.Embedding)
			count++
		}
	}
	if count < 2 {
		return nil
	}

	vector := make([]float64, dim)
	for _, m := range members {
		if len(m.Embedding) != dim {
			continue
		}
		for i, v := range m.Embedding {
			vector[i] += v
		}
	}
	for i := range vector {
		vector[i] /= float64(count)
	}
	return vector
}

func formatCandidates(candidates []core.SimilarStory) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id %d: %s. %s\n", c.StoryID, c.Title, c.EssenceText)
	}
	return b.String()
}

// parseContinuity enforces the tagged reply: a continuation must name
// exactly one of the offered candidate ids.
func parseContinuity(response string, allowed map[int64]core.SimilarStory) (*int64, error) {
	block, err := llm.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}

	var raw struct {
		IsContinuation *bool  `json:"is_continuation"`
		ParentStoryID  *int64 `json:"parent_story_id"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("invalid continuity JSON: %w", err)
	}
	if raw.IsContinuation == nil {
		return nil, fmt.Errorf("continuity reply missing is_continuation")
	}
	if !*raw.IsContinuation {
		return nil, nil
	}
	if raw.ParentStoryID == nil {
		return nil, fmt.Errorf("continuation without parent_story_id")
	}
	if _, ok := allowed[*raw.ParentStoryID]; !ok {
		return nil, fmt.Errorf("parent_story_id %d is not an offered candidate", *raw.ParentStoryID)
	}
	return raw.ParentStoryID, nil
}

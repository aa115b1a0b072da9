package pipeline

import (
	"context"
	"time"

	"storyline/internal/clustering"
	"storyline/internal/core"
	"storyline/internal/enrich"
	"storyline/internal/features"
	"storyline/internal/submit"
	"storyline/internal/synthesize"
)

// The orchestrator depends on small per-stage interfaces so tests can
// swap any stage for a stub.

// FeatureExtractor runs the per-article enrichment (text, NER, embedding).
type FeatureExtractor interface {
	Extract(ctx context.Context, article core.Article) features.Result
}

// EventClassifier picks the best-matching event rule for an article.
type EventClassifier interface {
	Classify(text string, entities map[string][]string) *core.EventClassification
}

// AssetMapper expands extracted entities into candidate instruments.
type AssetMapper interface {
	MapAssets(entities map[string][]string) []string
}

// AssetFilter reduces candidate instruments to the confirmed ones.
type AssetFilter interface {
	FilterAssets(ctx context.Context, articleText string, candidates []string) ([]core.AssetImpact, error)
}

// SurpriseScorer joins an article to nearby economic events.
type SurpriseScorer interface {
	Score(ctx context.Context, eventType string, publishedAt *time.Time) (*float64, error)
}

// BatchScorer builds thresholded interaction edges over a batch.
type BatchScorer interface {
	ScoreBatch(articles []core.Article, runDate time.Time) []core.GraphEdge
}

// Clusterer detects article communities for a run date.
type Clusterer interface {
	ClusterRun(ctx context.Context, runDate time.Time) ([]clustering.Cluster, error)
}

// ClusterValidator accepts or rejects a cluster as a story.
type ClusterValidator interface {
	Validate(ctx context.Context, articles []core.Article) (*core.Validation, error)
}

// StoryEnricher labels a validated cluster and justifies the grouping.
type StoryEnricher interface {
	Enrich(ctx context.Context, articles []core.Article) (*enrich.Enrichment, error)
}

// ContinuityTracker finds the historical story a new one continues.
type ContinuityTracker interface {
	FindParent(ctx context.Context, label, rationale string, vector []float64) (*core.SimilarStory, error)
}

// HistoricalRetriever fetches similar historical stories for context.
type HistoricalRetriever interface {
	Retrieve(ctx context.Context, embedding []float64, k int) ([]core.SimilarStory, error)
}

// ReportSynthesizer writes the analysis summary.
type ReportSynthesizer interface {
	Synthesize(ctx context.Context, input synthesize.Input) (string, error)
}

// MemoryGenerator derives the story's memory components.
type MemoryGenerator interface {
	Generate(ctx context.Context, analysisSummary string) (*core.MemoryComponents, error)
}

// ResultSender posts the aggregate batch result downstream.
type ResultSender interface {
	Send(ctx context.Context, submission submit.Submission) error
}

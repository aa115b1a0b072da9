// Package pipeline orchestrates one analysis run: concurrent per-article
// feature enrichment, interaction scoring, community detection, and the
// per-cluster story formation sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storyline/internal/clustering"
	"storyline/internal/core"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/stories"
	"storyline/internal/submit"
	"storyline/internal/synthesize"
)

// errClusterRejected marks a cluster the validator turned down. Not a
// failure: the articles simply do not form a story.
var errClusterRejected = errors.New("cluster rejected by validation")

// Options bound the run.
type Options struct {
	MaxWorkers     int
	NewsBatchSize  int
	ProcessedLimit int // Cap on the scoring batch
	MaxClusters    int // 0 = no limit
	HistoricalK    int
	ModelVersion   string // Recorded in every processing-log row
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:     5,
		NewsBatchSize:  50,
		ProcessedLimit: 500,
		HistoricalK:    3,
	}
}

// Stats are the terminal counters of one run.
type Stats struct {
	RunID             string
	ArticlesFetched   int
	ArticlesProcessed int64
	ArticlesFailed    int64
	EdgesPersisted    int
	ClustersDetected  int
	ClustersRejected  int
	ClustersFailed    int
	StoriesCreated    int
	Continuations     int
}

// Deps are the wired stage implementations.
type Deps struct {
	Store       persistence.Store
	Extractor   FeatureExtractor
	Classifier  EventClassifier
	Mapper      AssetMapper
	AssetFilter AssetFilter
	Surprise    SurpriseScorer
	Scorer      BatchScorer
	Clusterer   Clusterer
	Validator   ClusterValidator
	Enricher    StoryEnricher
	Tracker     ContinuityTracker
	Retriever   HistoricalRetriever
	Synthesizer ReportSynthesizer
	Memory      MemoryGenerator
	Sender      ResultSender
}

// Pipeline is the run orchestrator.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a pipeline from wired dependencies.
func New(deps Deps, opts Options) *Pipeline {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.NewsBatchSize < 1 {
		opts.NewsBatchSize = DefaultOptions().NewsBatchSize
	}
	if opts.ProcessedLimit < 1 {
		opts.ProcessedLimit = DefaultOptions().ProcessedLimit
	}
	if opts.HistoricalK < 1 {
		opts.HistoricalK = DefaultOptions().HistoricalK
	}
	return &Pipeline{deps: deps, opts: opts, log: logger.Get()}
}

// Run executes the phases strictly in order and returns the counters.
// Per-article and per-cluster failures are isolated; only infrastructure
// failures (batch fetch, edge persistence) abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{RunID: uuid.NewString()}
	runDate := time.Now().UTC()

	p.log.Info("Pipeline run starting", "run_id", stats.RunID)

	if err := p.runPhase1(ctx, stats); err != nil {
		return stats, err
	}

	processed, err := p.runPhase2a(ctx, stats, runDate)
	if err != nil {
		return stats, err
	}

	clusters, err := p.runPhase2b(ctx, stats, runDate)
	if err != nil {
		return stats, err
	}

	p.runPhase3(ctx, stats, clusters, processed)

	p.log.Info("Pipeline run complete",
		"run_id", stats.RunID,
		"articles_processed", stats.ArticlesProcessed,
		"articles_failed", stats.ArticlesFailed,
		"edges", stats.EdgesPersisted,
		"clusters", stats.ClustersDetected,
		"stories", stats.StoriesCreated,
		"continuations", stats.Continuations)
	return stats, nil
}

// runPhase1 enriches the unprocessed batch on a bounded worker pool.
// Worker errors are absorbed per article; the pool never aborts.
func (p *Pipeline) runPhase1(ctx context.Context, stats *Stats) error {
	articles, err := p.deps.Store.Articles().GetUnprocessed(ctx, p.opts.NewsBatchSize)
	if err != nil {
		return fmt.Errorf("phase 1 batch fetch failed: %w", err)
	}
	stats.ArticlesFetched = len(articles)
	if len(articles) == 0 {
		p.log.Info("No unprocessed articles")
		return nil
	}

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)

	for _, article := range articles {
		article := article
		g.Go(func() error {
			if err := p.processArticle(gctx, article); err != nil {
				failed.Add(1)
				p.log.Warn("Article processing failed", "article_id", article.ID, "error", err.Error())
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	// Workers always return nil; failures are counted, not propagated
	_ = g.Wait()

	stats.ArticlesProcessed = processed.Load()
	stats.ArticlesFailed = failed.Load()
	p.log.Info("Phase 1 complete", "processed", stats.ArticlesProcessed, "failed", stats.ArticlesFailed)
	return nil
}

func (p *Pipeline) processArticle(ctx context.Context, article core.Article) error {
	result := p.deps.Extractor.Extract(ctx, article)

	enriched := core.EnrichedArticle{
		Article:      article,
		Entities:     result.Entities,
		Embedding:    result.Embedding,
		Status:       result.Status(),
		ErrorMessage: result.ErrorMessage(),
	}

	if result.FullText != "" {
		if classification := p.deps.Classifier.Classify(result.FullText, result.Entities); classification != nil {
			eventType := classification.EventType
			enriched.EventType = &eventType

			score, err := p.deps.Surprise.Score(ctx, eventType, article.PublishedAt)
			if err != nil {
				p.log.Warn("Surprise scoring failed", "article_id", article.ID, "error", err.Error())
			} else {
				enriched.SurpriseScore = score
			}
		}

		candidates := p.deps.Mapper.MapAssets(result.Entities)
		impacts, err := p.deps.AssetFilter.FilterAssets(ctx, result.FullText, candidates)
		if err != nil {
			p.log.Warn("Asset filtering failed", "article_id", article.ID, "error", err.Error())
		} else {
			enriched.AffectedAssets = impacts
		}
	}

	return p.deps.Store.SaveFeatures(ctx, enriched, p.opts.ModelVersion)
}

// runPhase2a scores the processed batch and persists the edges.
func (p *Pipeline) runPhase2a(ctx context.Context, stats *Stats, runDate time.Time) ([]core.Article, error) {
	processed, err := p.deps.Store.Articles().GetProcessed(ctx, p.opts.ProcessedLimit)
	if err != nil {
		return nil, fmt.Errorf("phase 2a batch fetch failed: %w", err)
	}

	edges := p.deps.Scorer.ScoreBatch(processed, runDate)
	if err := p.deps.Store.Edges().SaveEdges(ctx, edges); err != nil {
		return nil, fmt.Errorf("phase 2a edge persistence failed: %w", err)
	}
	stats.EdgesPersisted = len(edges)
	return processed, nil
}

// runPhase2b detects communities for the run date.
func (p *Pipeline) runPhase2b(ctx context.Context, stats *Stats, runDate time.Time) ([]clustering.Cluster, error) {
	clusters, err := p.deps.Clusterer.ClusterRun(ctx, runDate)
	if err != nil {
		return nil, fmt.Errorf("phase 2b clustering failed: %w", err)
	}
	if p.opts.MaxClusters > 0 && len(clusters) > p.opts.MaxClusters {
		p.log.Warn("Truncating cluster list", "detected", len(clusters), "limit", p.opts.MaxClusters)
		clusters = clusters[:p.opts.MaxClusters]
	}
	stats.ClustersDetected = len(clusters)
	return clusters, nil
}

// runPhase3 walks the clusters sequentially. Any failure skips to the
// next cluster; at the end the aggregate result goes downstream.
func (p *Pipeline) runPhase3(ctx context.Context, stats *Stats, clusters []clustering.Cluster, processed []core.Article) {
	var analyzed []submit.AnalyzedStory
	var storyClusters []clustering.Cluster

	for i, cluster := range clusters {
		story, err := p.processCluster(ctx, stats.RunID, cluster)
		switch {
		case errors.Is(err, errClusterRejected):
			stats.ClustersRejected++
		case err != nil:
			stats.ClustersFailed++
			logger.Error("Cluster processing failed", err, "cluster", i, "articles", len(cluster.ArticleIDs))
		default:
			stats.StoriesCreated++
			if story.ParentID != nil {
				stats.Continuations++
			}
			analyzed = append(analyzed, p.buildStoryEntry(ctx, story.Story))
			storyClusters = append(storyClusters, cluster)
		}
	}

	processedIDs := make([]int64, len(processed))
	for i, article := range processed {
		processedIDs[i] = article.ID
	}
	ungrouped := clustering.Ungrouped(processedIDs, storyClusters)

	submission := submit.Submission{
		AnalyzedStories:  analyzed,
		UngroupedNewsIDs: submit.FormatIDs(ungrouped),
	}
	if err := p.deps.Sender.Send(ctx, submission); err != nil {
		p.log.Warn("Downstream submission failed, not retrying", "error", err.Error())
	}
}

// storyResult carries the persisted story plus its continuity outcome.
type storyResult struct {
	Story    core.Story
	ParentID *int64
}

func (p *Pipeline) processCluster(ctx context.Context, runID string, cluster clustering.Cluster) (*storyResult, error) {
	articles, err := p.deps.Store.Articles().GetByIDs(ctx, cluster.ArticleIDs)
	if err != nil {
		return nil, fmt.Errorf("cluster article load failed: %w", err)
	}
	if len(articles) < 2 {
		return nil, fmt.Errorf("cluster resolved to %d articles", len(articles))
	}

	validation, err := p.deps.Validator.Validate(ctx, articles)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if !validation.IsStory {
		p.log.Info("Cluster rejected", "articles", len(articles), "reasoning", validation.Reasoning)
		return nil, errClusterRejected
	}

	enrichment, err := p.deps.Enricher.Enrich(ctx, articles)
	if err != nil {
		return nil, err
	}

	vector := stories.RepresentativeVector(articles)

	parent, err := p.deps.Tracker.FindParent(ctx, enrichment.Label, enrichment.Rationale, vector)
	if err != nil {
		return nil, fmt.Errorf("continuity tracking failed: %w", err)
	}
	var parentID *int64
	if parent != nil {
		parentID = &parent.StoryID
	}

	var historical []core.SimilarStory
	if vector != nil {
		historical, err = p.deps.Retriever.Retrieve(ctx, vector, p.opts.HistoricalK)
		if err != nil {
			p.log.Warn("Historical retrieval failed, synthesizing without context", "error", err.Error())
			historical = nil
		}
	}
	// Empty retrieval falls back to the identified parent's context
	if len(historical) == 0 && parent != nil {
		historical = []core.SimilarStory{*parent}
	}

	report, err := p.deps.Synthesizer.Synthesize(ctx, synthesize.Input{
		Label:      enrichment.Label,
		Rationale:  enrichment.Rationale,
		Articles:   articles,
		Historical: historical,
	})
	if err != nil {
		return nil, err
	}

	components, err := p.deps.Memory.Generate(ctx, report)
	if err != nil {
		return nil, err
	}

	assets, err := p.deps.Store.Logs().GetAffectedAssets(ctx, cluster.ArticleIDs)
	if err != nil {
		p.log.Warn("Affected asset aggregation failed", "error", err.Error())
		assets = nil
	}

	story := core.Story{
		Title:               enrichment.Label,
		ConnectionRationale: enrichment.Rationale,
		AnalysisSummary:     report,
		EssenceText:         components.StoryEssence,
		ContextSnippets:     components.ContextSnippets,
		EssenceEmbedding:    components.EssenceEmbedding,
		AffectedAssets:      assets,
		ArticleIDs:          cluster.ArticleIDs,
	}
	storyID, err := p.deps.Store.Stories().SaveStory(ctx, &story)
	if err != nil {
		return nil, fmt.Errorf("story persistence failed: %w", err)
	}

	if parentID != nil {
		rel := core.StoryRelationship{
			SourceStoryID:    storyID,
			TargetStoryID:    *parentID,
			RelationshipType: core.RelationshipEvolvedFrom,
			CreatedBy:        runID,
		}
		if err := p.deps.Store.Stories().SaveRelationship(ctx, rel); err != nil {
			return nil, fmt.Errorf("relationship persistence failed: %w", err)
		}
		if err := p.deps.Store.Stories().TouchLastUpdate(ctx, *parentID); err != nil {
			p.log.Warn("Failed to touch parent story", "parent_story_id", *parentID, "error", err.Error())
		}
	}

	return &storyResult{Story: story, ParentID: parentID}, nil
}

// buildStoryEntry derives the downstream payload entry, using the member
// articles' classified event types for category mapping.
func (p *Pipeline) buildStoryEntry(ctx context.Context, story core.Story) submit.AnalyzedStory {
	var eventTypes []string
	types, err := p.deps.Store.Logs().GetEventTypes(ctx, story.ArticleIDs)
	if err != nil {
		p.log.Warn("Event type lookup failed for categorization", "error", err.Error())
	} else {
		for _, et := range types {
			eventTypes = append(eventTypes, et)
		}
	}
	return submit.BuildStory(story, eventTypes)
}

// Package persistence owns all durable state: articles, entities, edges,
// stories, relationships, economic events and the processing log.
package persistence

import (
	"context"
	"time"

	"storyline/internal/core"
)

// ArticleRepository handles article reads and embedding writes.
type ArticleRepository interface {
	// GetUnprocessed retrieves articles with no log row or status pending
	GetUnprocessed(ctx context.Context, limit int) ([]core.Article, error)

	// GetProcessed retrieves articles with status success and a non-null
	// embedding, with their entities joined
	GetProcessed(ctx context.Context, limit int) ([]core.Article, error)

	// GetByIDs retrieves the given articles with their entities joined
	GetByIDs(ctx context.Context, ids []int64) ([]core.Article, error)

	// UpdateEmbedding sets the article's embedding vector
	UpdateEmbedding(ctx context.Context, articleID int64, embedding []float64) error
}

// EntityRepository handles entity upserts and article links.
type EntityRepository interface {
	// Upsert inserts the entity if absent and returns its id either way.
	// (name, type) is unique; duplicates collapse.
	Upsert(ctx context.Context, name, entityType string) (int64, error)

	// Link records the article-entity association, ignoring duplicates
	Link(ctx context.Context, articleID, entityID int64) error
}

// ProcessingLogRepository handles the per-article processing state.
type ProcessingLogRepository interface {
	// Upsert writes the log row keyed by article id
	Upsert(ctx context.Context, entry LogEntry) error

	// MarkFailed writes a failed log row with a truncated error message.
	// Used as the best-effort fallback after a rolled-back transaction.
	MarkFailed(ctx context.Context, articleID int64, message string) error

	// GetEventTypes returns the classified event type per article, for
	// articles that have one
	GetEventTypes(ctx context.Context, articleIDs []int64) (map[int64]string, error)

	// GetAffectedAssets aggregates the filtered asset names across the
	// given articles, deduplicated and sorted
	GetAffectedAssets(ctx context.Context, articleIDs []int64) ([]string, error)
}

// LogEntry is one processing-log upsert.
type LogEntry struct {
	ArticleID      int64
	Status         core.ProcessingStatus
	ModelVersion   string
	EventType      *string
	SurpriseScore  *float64
	AffectedAssets []core.AssetImpact
	ErrorMessage   string
}

// EdgeRepository handles thresholded interaction edges.
type EdgeRepository interface {
	// SaveEdges bulk-upserts edges on (source, target, run_date). Edges
	// must arrive orientation-canonicalized (source < target).
	SaveEdges(ctx context.Context, edges []core.GraphEdge) error

	// GetEdges retrieves edges for a run date with total_score >= minTotal
	GetEdges(ctx context.Context, runDate time.Time, minTotal float64) ([]core.GraphEdge, error)
}

// StoryRepository handles stories, links and relationships.
type StoryRepository interface {
	// SaveStory inserts the story and its article links, returning the id
	SaveStory(ctx context.Context, story *core.Story) (int64, error)

	// SaveRelationship inserts the typed edge; duplicate keys are a no-op
	SaveRelationship(ctx context.Context, rel core.StoryRelationship) error

	// TouchLastUpdate refreshes the story's last_update_time
	TouchLastUpdate(ctx context.Context, storyID int64) error
}

// EventRepository handles economic calendar events.
type EventRepository interface {
	// FindEvents retrieves events in [start, end] whose name matches any
	// keyword case-insensitively
	FindEvents(ctx context.Context, start, end time.Time, keywords []string) ([]core.EconomicEvent, error)

	// SaveEvents bulk-upserts on (event_name, country, event_time)
	SaveEvents(ctx context.Context, events []core.EconomicEvent) error
}

// Store is the full persistence surface the pipeline consumes.
type Store interface {
	Articles() ArticleRepository
	Entities() EntityRepository
	Logs() ProcessingLogRepository
	Edges() EdgeRepository
	Stories() StoryRepository
	Events() EventRepository

	// SaveFeatures commits one article's enrichment atomically: entity
	// upserts, link upserts, embedding write and log row in a single
	// transaction. On failure everything rolls back and a best-effort
	// failed log row is written outside the transaction.
	SaveFeatures(ctx context.Context, enriched core.EnrichedArticle, modelVersion string) error

	Ping(ctx context.Context) error
	Close() error
}

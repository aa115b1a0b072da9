package core

import (
	"strings"
	"time"
)

// ProcessingStatus is the lifecycle state of one article in the processing log.
type ProcessingStatus string

const (
	StatusPending ProcessingStatus = "pending" // Not yet processed (or reset for retry)
	StatusSuccess ProcessingStatus = "success" // Entities and embedding both produced
	StatusPartial ProcessingStatus = "partial" // At least one of entities or embedding produced
	StatusFailed  ProcessingStatus = "failed"  // Nothing produced, or processing threw
)

// Article represents one ingested news item. Articles are created by the
// ingestion collaborator; the engine only enriches them.
type Article struct {
	ID          int64      `json:"id"`                     // Monotonic database identifier
	URL         string     `json:"url"`                    // Unique source URL
	Title       string     `json:"title"`                  // Headline
	Source      string     `json:"source"`                 // Provider name (e.g., "reuters")
	PublishedAt *time.Time `json:"published_at,omitempty"` // Publication timestamp (may be missing)
	FetchedAt   time.Time  `json:"fetched_at"`             // When the ingestion layer stored the row
	FullText    string     `json:"-"`                      // Scraped body text; transient, never persisted
	Embedding   []float64  `json:"embedding,omitempty"`    // Dense semantic vector (nil until enriched)
	Entities    []Entity   `json:"entities,omitempty"`     // Extracted named entities (joined on load)
}

// Entity is a named thing mentioned in article text.
type Entity struct {
	ID   int64  `json:"id"`   // Database identifier
	Name string `json:"name"` // Surface form, trimmed
	Type string `json:"type"` // organization, person, place, monetary, date, event
}

// EntityNames flattens the article's entities to a lower-cased name set,
// collapsing duplicates across types. Used for Jaccard overlap scoring.
func (a Article) EntityNames() map[string]struct{} {
	names := make(map[string]struct{}, len(a.Entities))
	for _, e := range a.Entities {
		names[strings.ToLower(e.Name)] = struct{}{}
	}
	return names
}

// AssetImpact is one LLM-filtered asset judgement for an article.
type AssetImpact struct {
	Asset  string `json:"asset"`  // Instrument symbol or common name
	Reason string `json:"reason"` // One-line justification
	Impact string `json:"impact"` // positive, negative or neutral
}

// EventClassification is the single best rule match for an article.
type EventClassification struct {
	EventType   string `json:"event_type"`
	Priority    int    `json:"priority"` // Lower value = higher priority
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
}

// EnrichedArticle bundles everything Phase 1 produced for one article,
// ready to be committed in a single transaction.
type EnrichedArticle struct {
	Article        Article             `json:"article"`
	Entities       map[string][]string `json:"entities"`        // type -> ordered unique names
	Embedding      []float64           `json:"embedding"`       // nil when embedding failed
	EventType      *string             `json:"event_type"`      // nil when no rule matched
	SurpriseScore  *float64            `json:"surprise_score"`  // nil when no economic event matched
	AffectedAssets []AssetImpact       `json:"affected_assets"` // LLM-filtered asset list
	Status         ProcessingStatus    `json:"status"`
	ErrorMessage   string              `json:"error_message"` // Empty unless partial or failed
}

// GraphEdge is one thresholded pairwise interaction between two articles.
// Orientation is canonical: SourceID < TargetID always holds for stored rows.
type GraphEdge struct {
	SourceID      int64     `json:"source_article_id"`
	TargetID      int64     `json:"target_article_id"`
	SemanticScore float64   `json:"semantic_score"` // Clipped cosine similarity, [0,1]
	EntityScore   float64   `json:"entity_score"`   // Jaccard over entity names, [0,1]
	TemporalScore float64   `json:"temporal_score"` // exp(-days/tau), [0,1]
	TotalScore    float64   `json:"total_score"`    // Weighted sum, [0,1]
	RunDate       time.Time `json:"run_date"`       // Pipeline run date (date precision)
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validation is the LLM verdict for one candidate cluster.
// SignalStrength, ConfidenceScore and Reasoning are only meaningful
// when IsStory is true.
type Validation struct {
	IsStory         bool    `json:"is_story"`
	SignalStrength  string  `json:"signal_strength"`  // strong, medium or weak
	ConfidenceScore float64 `json:"confidence_score"` // [0,1]
	Reasoning       string  `json:"reasoning"`
}

// MemoryComponents are the derived memory artifacts for a synthesized story.
type MemoryComponents struct {
	RollingSummary   string    `json:"rolling_summary"`  // At most 100 whitespace tokens
	StoryEssence     string    `json:"story_essence"`    // 1-2 sentence core of the story
	ContextSnippets  []string  `json:"context_snippets"` // 3-5 entries
	EssenceEmbedding []float64 `json:"essence_embedding"`
}

// Story is a validated, enriched and synthesized narrative.
type Story struct {
	ID                  int64     `json:"id"`
	Title               string    `json:"title"`                // 4-8 word analytical label
	ConnectionRationale string    `json:"connection_rationale"` // Why the articles belong together
	AnalysisSummary     string    `json:"analysis_summary"`     // Markdown report, ends with disclaimer
	EssenceText         string    `json:"essence_text"`
	ContextSnippets     []string  `json:"context_snippets"`
	EssenceEmbedding    []float64 `json:"essence_embedding"`
	AffectedAssets      []string  `json:"affected_assets,omitempty"`
	IsActive            bool      `json:"is_active"` // Deactivation is owned by an external policy
	CreatedAt           time.Time `json:"created_at"`
	LastUpdateTime      time.Time `json:"last_update_time"`
	ArticleIDs          []int64   `json:"article_ids"` // Member articles, linked on save
}

// SimilarStory is one ANN hit against stored story essence embeddings.
type SimilarStory struct {
	StoryID     int64   `json:"story_id"`
	Title       string  `json:"title"`
	EssenceText string  `json:"essence_text"`
	Distance    float64 `json:"distance"` // Cosine distance, ascending = closer
}

// RelationshipEvolvedFrom links a newer story to the older story it continues.
const RelationshipEvolvedFrom = "EVOLVED_FROM"

// StoryRelationship is a typed directed edge between two stories.
type StoryRelationship struct {
	SourceStoryID    int64     `json:"source_story_id"` // The newer story
	TargetStoryID    int64     `json:"target_story_id"` // The older story it evolved from
	RelationshipType string    `json:"relationship_type"`
	IsActive         bool      `json:"is_active"`
	CreatedBy        string    `json:"created_by"` // Actor tag, e.g. pipeline run id
	CreatedAt        time.Time `json:"created_at"`
}

// EconomicEvent is one macro calendar entry used for surprise scoring.
type EconomicEvent struct {
	ID            int64     `json:"id"`
	EventName     string    `json:"event_name"`
	Country       string    `json:"country"`
	EventTime     time.Time `json:"event_time"`
	ActualValue   *float64  `json:"actual_value"`
	ForecastValue *float64  `json:"forecast_value"`
	PreviousValue *float64  `json:"previous_value"`
	Impact        string    `json:"impact"` // Provider-reported impact level
	Unit          string    `json:"unit"`
}

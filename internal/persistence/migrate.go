package persistence

import (
	"context"
	"fmt"

	"storyline/internal/logger"
)

// migrations run in order; each statement is idempotent.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		embedding vector(768)
	)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		UNIQUE (name, type)
	)`,

	`CREATE TABLE IF NOT EXISTS article_entities (
		article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		UNIQUE (article_id, entity_id)
	)`,

	`CREATE TABLE IF NOT EXISTS processing_log (
		article_id BIGINT PRIMARY KEY REFERENCES articles(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		embedding_model_version TEXT NOT NULL DEFAULT '',
		event_type TEXT,
		surprise_score DOUBLE PRECISION,
		affected_assets JSONB,
		error_message TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS graph_edges (
		id BIGSERIAL PRIMARY KEY,
		source_article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		target_article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		semantic_score DOUBLE PRECISION NOT NULL,
		entity_score DOUBLE PRECISION NOT NULL,
		temporal_score DOUBLE PRECISION NOT NULL,
		total_score DOUBLE PRECISION NOT NULL,
		run_date DATE NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_article_id, target_article_id, run_date),
		CHECK (source_article_id < target_article_id)
	)`,

	`CREATE TABLE IF NOT EXISTS stories (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		connection_rationale TEXT NOT NULL DEFAULT '',
		analysis_summary TEXT NOT NULL DEFAULT '',
		essence_text TEXT NOT NULL DEFAULT '',
		context_snippets JSONB,
		essence_embedding vector(768),
		affected_assets JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_update_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS story_articles (
		story_id BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		UNIQUE (story_id, article_id)
	)`,

	`CREATE TABLE IF NOT EXISTS story_relationships (
		id BIGSERIAL PRIMARY KEY,
		source_story_id BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		target_story_id BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		relationship_type TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_story_id, target_story_id, relationship_type)
	)`,

	`CREATE TABLE IF NOT EXISTS economic_events (
		id BIGSERIAL PRIMARY KEY,
		event_name TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		event_time TIMESTAMPTZ NOT NULL,
		actual_value DOUBLE PRECISION,
		forecast_value DOUBLE PRECISION,
		previous_value DOUBLE PRECISION,
		impact TEXT,
		unit TEXT,
		UNIQUE (event_name, country, event_time)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_graph_edges_run_date ON graph_edges (run_date)`,
	`CREATE INDEX IF NOT EXISTS idx_economic_events_time ON economic_events (event_time)`,
	`CREATE INDEX IF NOT EXISTS idx_stories_last_update ON stories (last_update_time)`,
}

// Migrate applies the schema. Safe to run repeatedly.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	logger.Info("Schema migration complete", "statements", len(migrations))
	return nil
}

// Package vectorstore provides pgvector-backed similarity search over
// story essence embeddings.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storyline/internal/core"
	"storyline/internal/persistence"
)

// StoryRetriever finds historical stories similar to a query embedding.
type StoryRetriever interface {
	// Retrieve returns up to k active stories ordered by cosine distance
	Retrieve(ctx context.Context, embedding []float64, k int) ([]core.SimilarStory, error)

	// RetrieveRecent restricts the search to stories updated since the
	// given time
	RetrieveRecent(ctx context.Context, embedding []float64, k int, since time.Time) ([]core.SimilarStory, error)
}

// PgVectorRetriever implements StoryRetriever over the stories table.
type PgVectorRetriever struct {
	db *sql.DB
}

// NewPgVectorRetriever creates a retriever over the shared pool.
func NewPgVectorRetriever(db *sql.DB) *PgVectorRetriever {
	return &PgVectorRetriever{db: db}
}

func (p *PgVectorRetriever) Retrieve(ctx context.Context, embedding []float64, k int) ([]core.SimilarStory, error) {
	query := `
		SELECT id, title, essence_text, essence_embedding <=> $1::vector AS distance
		FROM stories
		WHERE is_active AND essence_embedding IS NOT NULL
		ORDER BY essence_embedding <=> $1::vector
		LIMIT $2
	`
	return p.search(ctx, query, persistence.FormatVector(embedding), k)
}

func (p *PgVectorRetriever) RetrieveRecent(ctx context.Context, embedding []float64, k int, since time.Time) ([]core.SimilarStory, error) {
	query := `
		SELECT id, title, essence_text, essence_embedding <=> $1::vector AS distance
		FROM stories
		WHERE is_active AND essence_embedding IS NOT NULL
		  AND last_update_time >= $3
		ORDER BY essence_embedding <=> $1::vector
		LIMIT $2
	`
	return p.search(ctx, query, persistence.FormatVector(embedding), k, since)
}

func (p *PgVectorRetriever) search(ctx context.Context, query string, vector string, k int, extra ...interface{}) ([]core.SimilarStory, error) {
	if k <= 0 {
		k = 3
	}

	args := append([]interface{}{vector, k}, extra...)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search stories: %w", err)
	}
	defer rows.Close()

	var stories []core.SimilarStory
	for rows.Next() {
		var story core.SimilarStory
		if err := rows.Scan(&story.StoryID, &story.Title, &story.EssenceText, &story.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan similar story: %w", err)
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// CreateIndex builds an HNSW index over story embeddings. Idempotent.
func (p *PgVectorRetriever) CreateIndex(ctx context.Context) error {
	var exists bool
	checkQuery := `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE tablename = 'stories'
			AND indexname = 'idx_stories_essence_hnsw'
		)
	`
	if err := p.db.QueryRowContext(ctx, checkQuery).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	if exists {
		return nil
	}

	indexQuery := `
		CREATE INDEX idx_stories_essence_hnsw
		ON stories
		USING hnsw (essence_embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`
	if _, err := p.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

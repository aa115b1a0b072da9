package vectorstore

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// TestPgVectorRetrieverIntegration exercises similarity search against a
// live database. Run with: go test -v ./internal/vectorstore -run Integration
//
// Prerequisites:
// - PostgreSQL running with the pgvector extension
// - DATABASE_URL environment variable set
// - Schema applied (storyline migrate)
func TestPgVectorRetrieverIntegration(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	ctx := context.Background()
	retriever := NewPgVectorRetriever(db)

	t.Run("Index Creation", func(t *testing.T) {
		if err := retriever.CreateIndex(ctx); err != nil {
			t.Fatalf("Failed to create index: %v", err)
		}
		// Second call must be a no-op
		if err := retriever.CreateIndex(ctx); err != nil {
			t.Fatalf("Index creation not idempotent: %v", err)
		}
	})

	t.Run("Retrieve Ordering", func(t *testing.T) {
		query := generateRandomEmbedding(768)

		start := time.Now()
		results, err := retriever.Retrieve(ctx, query, 5)
		latency := time.Since(start)

		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		t.Logf("Retrieved %d stories in %v", len(results), latency)

		if len(results) == 0 {
			t.Skip("No active stories with embeddings found. Run an analysis first.")
		}

		for i := 1; i < len(results); i++ {
			if results[i].Distance < results[i-1].Distance {
				t.Errorf("Results not ordered by distance: %.4f < %.4f at index %d",
					results[i].Distance, results[i-1].Distance, i)
			}
		}
		for _, result := range results {
			if result.Title == "" {
				t.Errorf("Story %d has empty title", result.StoryID)
			}
		}
	})

	t.Run("RetrieveRecent Window", func(t *testing.T) {
		query := generateRandomEmbedding(768)
		since := time.Now().AddDate(0, 0, -14)

		recent, err := retriever.RetrieveRecent(ctx, query, 3, since)
		if err != nil {
			t.Fatalf("RetrieveRecent failed: %v", err)
		}

		all, err := retriever.Retrieve(ctx, query, 100)
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}

		if len(recent) > len(all) {
			t.Errorf("Windowed search returned more rows (%d) than unwindowed (%d)",
				len(recent), len(all))
		}
	})
}

// generateRandomEmbedding creates a random unit-length embedding.
func generateRandomEmbedding(dims int) []float64 {
	embedding := make([]float64, dims)
	var sumSquares float64
	for i := range embedding {
		val := rand.Float64()*2 - 1
		embedding[i] = val
		sumSquares += val * val
	}
	for i := range embedding {
		embedding[i] /= sumSquares
	}
	return embedding
}

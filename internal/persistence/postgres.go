package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"storyline/internal/core"
	"storyline/internal/logger"
)

// errorMessageLimit truncates stored error messages so a deep stack trace
// cannot blow up the log row.
const errorMessageLimit = 500

// PoolOptions configures the shared connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions matches the deployment defaults: max 10 connections.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore implements Store on PostgreSQL with pgvector.
type PostgresStore struct {
	db       *sql.DB
	articles ArticleRepository
	entities EntityRepository
	logs     ProcessingLogRepository
	edges    EdgeRepository
	stories  StoryRepository
	events   EventRepository
}

// NewPostgresStore opens the connection pool and verifies connectivity.
func NewPostgresStore(connectionString string, opts PoolOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	store.articles = &postgresArticleRepo{db: db}
	store.entities = &postgresEntityRepo{db: db}
	store.logs = &postgresLogRepo{db: db}
	store.edges = &postgresEdgeRepo{db: db}
	store.stories = &postgresStoryRepo{db: db}
	store.events = &postgresEventRepo{db: db}

	return store, nil
}

func (p *PostgresStore) Articles() ArticleRepository    { return p.articles }
func (p *PostgresStore) Entities() EntityRepository     { return p.entities }
func (p *PostgresStore) Logs() ProcessingLogRepository  { return p.logs }
func (p *PostgresStore) Edges() EdgeRepository          { return p.edges }
func (p *PostgresStore) Stories() StoryRepository       { return p.stories }
func (p *PostgresStore) Events() EventRepository        { return p.events }
func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresStore) Close() error                   { return p.db.Close() }

// DB exposes the underlying pool for the vectorstore adapter.
func (p *PostgresStore) DB() *sql.DB { return p.db }

// SaveFeatures commits one article's enrichment in a single transaction.
// Rollback on any failure, then a best-effort failed log row outside the
// transaction so the article is not silently lost.
func (p *PostgresStore) SaveFeatures(ctx context.Context, enriched core.EnrichedArticle, modelVersion string) error {
	articleID := enriched.Article.ID

	err := p.saveFeaturesTx(ctx, enriched, modelVersion)
	if err == nil {
		return nil
	}

	truncated := truncateMessage(err.Error(), errorMessageLimit)
	if logErr := p.logs.MarkFailed(ctx, articleID, truncated); logErr != nil {
		logger.Error("Best-effort failed-log write also failed", logErr, "article_id", articleID)
	}
	return fmt.Errorf("save_features for article %d: %w", articleID, err)
}

func (p *PostgresStore) saveFeaturesTx(ctx context.Context, enriched core.EnrichedArticle, modelVersion string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entities := &postgresEntityRepo{db: p.db, tx: tx}
	logs := &postgresLogRepo{db: p.db, tx: tx}
	articles := &postgresArticleRepo{db: p.db, tx: tx}

	articleID := enriched.Article.ID
	for entityType, names := range enriched.Entities {
		for _, name := range names {
			entityID, err := entities.Upsert(ctx, name, entityType)
			if err != nil {
				return err
			}
			if err := entities.Link(ctx, articleID, entityID); err != nil {
				return err
			}
		}
	}

	if len(enriched.Embedding) > 0 {
		if err := articles.UpdateEmbedding(ctx, articleID, enriched.Embedding); err != nil {
			return err
		}
	}

	entry := LogEntry{
		ArticleID:      articleID,
		Status:         enriched.Status,
		ModelVersion:   modelVersion,
		EventType:      enriched.EventType,
		SurpriseScore:  enriched.SurpriseScore,
		AffectedAssets: enriched.AffectedAssets,
		ErrorMessage:   truncateMessage(enriched.ErrorMessage, errorMessageLimit),
	}
	if err := logs.Upsert(ctx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit features: %w", err)
	}
	return nil
}

func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// postgresArticleRepo implements ArticleRepository for PostgreSQL
type postgresArticleRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresArticleRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const articleColumns = `a.id, a.url, a.title, a.source, a.published_at, a.fetched_at, a.embedding::text`

func (r *postgresArticleRepo) GetUnprocessed(ctx context.Context, limit int) ([]core.Article, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM articles a
		LEFT JOIN processing_log pl ON pl.article_id = a.id
		WHERE pl.article_id IS NULL OR pl.status = $1
		ORDER BY a.fetched_at ASC
		LIMIT $2
	`, articleColumns)

	rows, err := r.query().QueryContext(ctx, query, core.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed articles: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

func (r *postgresArticleRepo) GetProcessed(ctx context.Context, limit int) ([]core.Article, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM articles a
		INNER JOIN processing_log pl ON pl.article_id = a.id
		WHERE pl.status = $1 AND a.embedding IS NOT NULL
		ORDER BY a.published_at DESC NULLS LAST
		LIMIT $2
	`, articleColumns)

	rows, err := r.query().QueryContext(ctx, query, core.StatusSuccess, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed articles: %w", err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachEntities(ctx, articles); err != nil {
		return nil, err
	}
	return articles, nil
}

func (r *postgresArticleRepo) GetByIDs(ctx context.Context, ids []int64) ([]core.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM articles a
		WHERE a.id = ANY($1::bigint[])
		ORDER BY a.id
	`, articleColumns)

	rows, err := r.query().QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query articles by ids: %w", err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachEntities(ctx, articles); err != nil {
		return nil, err
	}
	return articles, nil
}

func (r *postgresArticleRepo) UpdateEmbedding(ctx context.Context, articleID int64, embedding []float64) error {
	query := `
		UPDATE articles
		SET embedding = $2::vector
		WHERE id = $1
	`

	result, err := r.query().ExecContext(ctx, query, articleID, FormatVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to update embedding for article %d: %w", articleID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("article %d not found", articleID)
	}
	return nil
}

// attachEntities batch-loads entities for the given articles in one query.
func (r *postgresArticleRepo) attachEntities(ctx context.Context, articles []core.Article) error {
	if len(articles) == 0 {
		return nil
	}

	ids := make([]int64, len(articles))
	index := make(map[int64]*core.Article, len(articles))
	for i := range articles {
		ids[i] = articles[i].ID
		index[articles[i].ID] = &articles[i]
	}

	query := `
		SELECT ae.article_id, e.id, e.name, e.type
		FROM article_entities ae
		INNER JOIN entities e ON e.id = ae.entity_id
		WHERE ae.article_id = ANY($1::bigint[])
		ORDER BY ae.article_id, e.id
	`

	rows, err := r.query().QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query article entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var articleID int64
		var entity core.Entity
		if err := rows.Scan(&articleID, &entity.ID, &entity.Name, &entity.Type); err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		if article, ok := index[articleID]; ok {
			article.Entities = append(article.Entities, entity)
		}
	}
	return rows.Err()
}

func scanArticles(rows *sql.Rows) ([]core.Article, error) {
	var articles []core.Article
	for rows.Next() {
		var article core.Article
		var publishedAt sql.NullTime
		var embeddingText sql.NullString

		err := rows.Scan(
			&article.ID, &article.URL, &article.Title, &article.Source,
			&publishedAt, &article.FetchedAt, &embeddingText,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}

		if publishedAt.Valid {
			t := publishedAt.Time
			article.PublishedAt = &t
		}
		if embeddingText.Valid && embeddingText.String != "" {
			embedding, err := ParseVector(embeddingText.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse embedding for article %d: %w", article.ID, err)
			}
			article.Embedding = embedding
		}

		articles = append(articles, article)
	}
	return articles, rows.Err()
}

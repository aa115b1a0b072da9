package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"storyline/internal/core"
)

// postgresEntityRepo implements EntityRepository for PostgreSQL
type postgresEntityRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresEntityRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *postgresEntityRepo) Upsert(ctx context.Context, name, entityType string) (int64, error) {
	// The no-op DO UPDATE makes RETURNING work on conflicts too
	query := `
		INSERT INTO entities (name, type)
		VALUES ($1, $2)
		ON CONFLICT (name, type) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`

	var id int64
	if err := r.query().QueryRowContext(ctx, query, name, entityType).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert entity %q/%s: %w", name, entityType, err)
	}
	return id, nil
}

func (r *postgresEntityRepo) Link(ctx context.Context, articleID, entityID int64) error {
	query := `
		INSERT INTO article_entities (article_id, entity_id)
		VALUES ($1, $2)
		ON CONFLICT (article_id, entity_id) DO NOTHING
	`

	if _, err := r.query().ExecContext(ctx, query, articleID, entityID); err != nil {
		return fmt.Errorf("failed to link article %d to entity %d: %w", articleID, entityID, err)
	}
	return nil
}

// postgresLogRepo implements ProcessingLogRepository for PostgreSQL
type postgresLogRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresLogRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *postgresLogRepo) Upsert(ctx context.Context, entry LogEntry) error {
	var assetsJSON interface{}
	if len(entry.AffectedAssets) > 0 {
		data, err := json.Marshal(entry.AffectedAssets)
		if err != nil {
			return fmt.Errorf("failed to marshal affected assets: %w", err)
		}
		assetsJSON = data
	}

	query := `
		INSERT INTO processing_log (
			article_id, status, embedding_model_version, event_type,
			surprise_score, affected_assets, error_message, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW())
		ON CONFLICT (article_id) DO UPDATE SET
			status = EXCLUDED.status,
			embedding_model_version = EXCLUDED.embedding_model_version,
			event_type = EXCLUDED.event_type,
			surprise_score = EXCLUDED.surprise_score,
			affected_assets = EXCLUDED.affected_assets,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
	`

	_, err := r.query().ExecContext(ctx, query,
		entry.ArticleID, entry.Status, entry.ModelVersion, entry.EventType,
		entry.SurpriseScore, assetsJSON, entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert processing log for article %d: %w", entry.ArticleID, err)
	}
	return nil
}

func (r *postgresLogRepo) MarkFailed(ctx context.Context, articleID int64, message string) error {
	return r.Upsert(ctx, LogEntry{
		ArticleID:    articleID,
		Status:       core.StatusFailed,
		ErrorMessage: truncateMessage(message, errorMessageLimit),
	})
}

func (r *postgresLogRepo) GetEventTypes(ctx context.Context, articleIDs []int64) (map[int64]string, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT article_id, event_type
		FROM processing_log
		WHERE article_id = ANY($1::bigint[]) AND event_type IS NOT NULL
	`

	rows, err := r.query().QueryContext(ctx, query, pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query event types: %w", err)
	}
	defer rows.Close()

	types := make(map[int64]string)
	for rows.Next() {
		var articleID int64
		var eventType string
		if err := rows.Scan(&articleID, &eventType); err != nil {
			return nil, fmt.Errorf("failed to scan event type: %w", err)
		}
		types[articleID] = eventType
	}
	return types, rows.Err()
}

func (r *postgresLogRepo) GetAffectedAssets(ctx context.Context, articleIDs []int64) ([]string, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT affected_assets
		FROM processing_log
		WHERE article_id = ANY($1::bigint[]) AND affected_assets IS NOT NULL
	`

	rows, err := r.query().QueryContext(ctx, query, pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query affected assets: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan affected assets: %w", err)
		}
		var impacts []core.AssetImpact
		if err := json.Unmarshal(raw, &impacts); err != nil {
			return nil, fmt.Errorf("failed to decode affected assets: %w", err)
		}
		for _, impact := range impacts {
			if impact.Asset != "" {
				seen[impact.Asset] = struct{}{}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

// postgresEdgeRepo implements EdgeRepository for PostgreSQL
type postgresEdgeRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresEdgeRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *postgresEdgeRepo) SaveEdges(ctx context.Context, edges []core.GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	for _, edge := range edges {
		if edge.SourceID >= edge.TargetID {
			return fmt.Errorf("edge (%d, %d) is not canonical: source must be < target", edge.SourceID, edge.TargetID)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin edge transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO graph_edges (
			source_article_id, target_article_id, semantic_score,
			entity_score, temporal_score, total_score, run_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (source_article_id, target_article_id, run_date) DO UPDATE SET
			semantic_score = EXCLUDED.semantic_score,
			entity_score = EXCLUDED.entity_score,
			temporal_score = EXCLUDED.temporal_score,
			total_score = EXCLUDED.total_score,
			updated_at = NOW()
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, edge := range edges {
		_, err := stmt.ExecContext(ctx,
			edge.SourceID, edge.TargetID, edge.SemanticScore,
			edge.EntityScore, edge.TemporalScore, edge.TotalScore,
			edge.RunDate.Format("2006-01-02"),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert edge (%d, %d): %w", edge.SourceID, edge.TargetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edges: %w", err)
	}
	return nil
}

func (r *postgresEdgeRepo) GetEdges(ctx context.Context, runDate time.Time, minTotal float64) ([]core.GraphEdge, error) {
	query := `
		SELECT source_article_id, target_article_id, semantic_score,
		       entity_score, temporal_score, total_score, run_date, updated_at
		FROM graph_edges
		WHERE run_date = $1 AND total_score >= $2
		ORDER BY source_article_id, target_article_id
	`

	rows, err := r.query().QueryContext(ctx, query, runDate.Format("2006-01-02"), minTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []core.GraphEdge
	for rows.Next() {
		var edge core.GraphEdge
		err := rows.Scan(
			&edge.SourceID, &edge.TargetID, &edge.SemanticScore,
			&edge.EntityScore, &edge.TemporalScore, &edge.TotalScore,
			&edge.RunDate, &edge.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// postgresStoryRepo implements StoryRepository for PostgreSQL
type postgresStoryRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresStoryRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *postgresStoryRepo) SaveStory(ctx context.Context, story *core.Story) (int64, error) {
	snippetsJSON, err := json.Marshal(story.ContextSnippets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal context snippets: %w", err)
	}
	var assetsJSON interface{}
	if len(story.AffectedAssets) > 0 {
		data, err := json.Marshal(story.AffectedAssets)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal affected assets: %w", err)
		}
		assetsJSON = data
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin story transaction: %w", err)
	}
	defer tx.Rollback()

	insertStory := `
		INSERT INTO stories (
			title, connection_rationale, analysis_summary, essence_text,
			context_snippets, essence_embedding, affected_assets,
			is_active, created_at, last_update_time
		) VALUES ($1, $2, $3, $4, $5, $6::vector, $7, TRUE, NOW(), NOW())
		RETURNING id
	`

	var storyID int64
	err = tx.QueryRowContext(ctx, insertStory,
		story.Title, story.ConnectionRationale, story.AnalysisSummary,
		story.EssenceText, snippetsJSON, FormatVector(story.EssenceEmbedding), assetsJSON,
	).Scan(&storyID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert story: %w", err)
	}

	linkQuery := `
		INSERT INTO story_articles (story_id, article_id)
		VALUES ($1, $2)
		ON CONFLICT (story_id, article_id) DO NOTHING
	`
	for _, articleID := range story.ArticleIDs {
		if _, err := tx.ExecContext(ctx, linkQuery, storyID, articleID); err != nil {
			return 0, fmt.Errorf("failed to link article %d to story %d: %w", articleID, storyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit story: %w", err)
	}

	story.ID = storyID
	return storyID, nil
}

func (r *postgresStoryRepo) SaveRelationship(ctx context.Context, rel core.StoryRelationship) error {
	query := `
		INSERT INTO story_relationships (
			source_story_id, target_story_id, relationship_type,
			is_active, created_by, created_at
		) VALUES ($1, $2, $3, TRUE, $4, NOW())
		ON CONFLICT (source_story_id, target_story_id, relationship_type) DO NOTHING
	`

	_, err := r.query().ExecContext(ctx, query,
		rel.SourceStoryID, rel.TargetStoryID, rel.RelationshipType, rel.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save relationship %d -> %d: %w", rel.SourceStoryID, rel.TargetStoryID, err)
	}
	return nil
}

func (r *postgresStoryRepo) TouchLastUpdate(ctx context.Context, storyID int64) error {
	query := `UPDATE stories SET last_update_time = NOW() WHERE id = $1`
	if _, err := r.query().ExecContext(ctx, query, storyID); err != nil {
		return fmt.Errorf("failed to touch story %d: %w", storyID, err)
	}
	return nil
}

// postgresEventRepo implements EventRepository for PostgreSQL
type postgresEventRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresEventRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *postgresEventRepo) FindEvents(ctx context.Context, start, end time.Time, keywords []string) ([]core.EconomicEvent, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	// One ILIKE per keyword, OR-joined
	conditions := make([]string, len(keywords))
	args := []interface{}{start, end}
	for i, kw := range keywords {
		conditions[i] = fmt.Sprintf("event_name ILIKE $%d", i+3)
		args = append(args, "%"+kw+"%")
	}

	query := fmt.Sprintf(`
		SELECT id, event_name, country, event_time, actual_value,
		       forecast_value, previous_value, impact, unit
		FROM economic_events
		WHERE event_time BETWEEN $1 AND $2
		  AND (%s)
		ORDER BY event_time
	`, strings.Join(conditions, " OR "))

	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query economic events: %w", err)
	}
	defer rows.Close()

	var events []core.EconomicEvent
	for rows.Next() {
		var event core.EconomicEvent
		var actual, forecast, previous sql.NullFloat64
		var impact, unit sql.NullString
		err := rows.Scan(
			&event.ID, &event.EventName, &event.Country, &event.EventTime,
			&actual, &forecast, &previous, &impact, &unit,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan economic event: %w", err)
		}
		if actual.Valid {
			v := actual.Float64
			event.ActualValue = &v
		}
		if forecast.Valid {
			v := forecast.Float64
			event.ForecastValue = &v
		}
		if previous.Valid {
			v := previous.Float64
			event.PreviousValue = &v
		}
		event.Impact = impact.String
		event.Unit = unit.String
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *postgresEventRepo) SaveEvents(ctx context.Context, events []core.EconomicEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO economic_events (
			event_name, country, event_time, actual_value,
			forecast_value, previous_value, impact, unit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_name, country, event_time) DO UPDATE SET
			actual_value = EXCLUDED.actual_value,
			forecast_value = EXCLUDED.forecast_value,
			previous_value = EXCLUDED.previous_value,
			impact = EXCLUDED.impact,
			unit = EXCLUDED.unit
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare event upsert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.EventName, event.Country, event.EventTime,
			event.ActualValue, event.ForecastValue, event.PreviousValue,
			event.Impact, event.Unit,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert event %q: %w", event.EventName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

// QueryRepo implements repository.QueryLog
type QueryRepo struct {
	db *DB
}

// NewQueryRepo creates a new query history repository
func NewQueryRepo(db *DB) *QueryRepo {
	return &QueryRepo{db: db}
}

// RecordQuery appends a query to the history
func (r *QueryRepo) RecordQuery(ctx context.Context, rec *repository.QueryRecord) error {
	query := `
		INSERT INTO query_log (id, query, provider, answer, outcome, chunks_retrieved, cache_hit, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.ID, rec.Query, rec.Provider, rec.Answer, rec.Outcome,
		rec.ChunksRetrieved, rec.CacheHit, rec.ProcessingTimeMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// ListQueries returns query history, newest first
func (r *QueryRepo) ListQueries(ctx context.Context, limit, offset int) ([]*repository.QueryRecord, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count queries: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, query, provider, answer, outcome, chunks_retrieved, cache_hit, processing_time_ms, created_at
		FROM query_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var records []*repository.QueryRecord
	for rows.Next() {
		var rec repository.QueryRecord
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Provider, &rec.Answer, &rec.Outcome,
			&rec.ChunksRetrieved, &rec.CacheHit, &rec.ProcessingTimeMS, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan query: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate queries: %w", err)
	}
	return records, total, nil
}

var _ repository.QueryLog = (*QueryRepo)(nil)

package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// PgPool is the subset of a pgx pool used by PgVectorIndex.
type PgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgVectorIndex implements Index on a pgvector column. The pool must have
// pgvector types registered.
type PgVectorIndex struct {
	pool PgPool
}

// NewPgVectorIndex creates an index backed by the chunk_vectors table
func NewPgVectorIndex(pool PgPool) *PgVectorIndex {
	return &PgVectorIndex{pool: pool}
}

// Init creates the vector table for the given dimension
func (p *PgVectorIndex) Init(ctx context.Context, dimension int) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunk_vectors (
			position    BIGINT PRIMARY KEY,
			document_id TEXT NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, dimension)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create chunk_vectors table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces vectors in one batch
func (p *PgVectorIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, pt := range points {
		batch.Queue(`
			INSERT INTO chunk_vectors (position, document_id, embedding)
			VALUES ($1, $2, $3)
			ON CONFLICT (position) DO UPDATE SET document_id = EXCLUDED.document_id, embedding = EXCLUDED.embedding
		`, pt.Position, pt.DocumentID, pgvector.NewVector(pt.Vector))
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert vector: %w", err)
		}
	}
	return nil
}

// Search orders by negative inner product (<#>) and reports the inner product
func (p *PgVectorIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT position, (embedding <#> $1) * -1 AS score
		FROM chunk_vectors
		ORDER BY embedding <#> $1, position
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.Position, &score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Delete removes vectors by position
func (p *PgVectorIndex) Delete(ctx context.Context, positions []int64) error {
	if len(positions) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE position = ANY($1)`, positions); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors
func (p *PgVectorIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

var _ Index = (*PgVectorIndex)(nil)

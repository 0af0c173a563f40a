package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

// ChunkRepo implements repository.ChunkStore
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const chunkColumns = `c.id, c.document_id, d.name, c.chunk_index, c.content, c.start_char, c.end_char, c.position, c.metadata, c.created_at`

// CreateChunks inserts chunks in one batch. Positions come from the
// chunk_positions sequence and are written back onto the chunks.
func (r *ChunkRepo) CreateChunks(ctx context.Context, chunks []*repository.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO chunks (id, document_id, chunk_index, content, start_char, end_char, position, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, nextval('chunk_positions') - 1, $7, $8)
			RETURNING position
		`, chunk.ID, chunk.DocumentID, chunk.Index, chunk.Text, chunk.StartChar, chunk.EndChar, metadataJSON, chunk.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, chunk := range chunks {
		if err := results.QueryRow().Scan(&chunk.Position); err != nil {
			return fmt.Errorf("failed to create chunk: %w", err)
		}
	}

	return nil
}

// GetChunk retrieves the chunk stored at an index position
func (r *ChunkRepo) GetChunk(ctx context.Context, position int64) (*repository.Chunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.position = $1
	`
	rows, err := r.db.Pool.Query(ctx, query, position)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get chunk: %w", err)
		}
		return nil, repository.ErrNotFound
	}
	return scanChunk(rows)
}

// GetChunks retrieves the chunks stored at the given positions
func (r *ChunkRepo) GetChunks(ctx context.Context, positions []int64) (map[int64]*repository.Chunk, error) {
	found := make(map[int64]*repository.Chunk, len(positions))
	if len(positions) == 0 {
		return found, nil
	}

	query := `SELECT ` + chunkColumns + `
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.position = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, positions)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		found[chunk.Position] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return found, nil
}

// ListPositions returns the index positions of a document's chunks
func (r *ChunkRepo) ListPositions(ctx context.Context, documentID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT position FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk positions: %w", err)
	}
	defer rows.Close()

	var positions []int64
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan chunk position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeleteChunks deletes all chunks for a document
func (r *ChunkRepo) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count returns the number of stored chunks
func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func scanChunk(rows pgx.Rows) (*repository.Chunk, error) {
	var chunk repository.Chunk
	var metadataJSON []byte
	if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.DocumentName, &chunk.Index, &chunk.Text,
		&chunk.StartChar, &chunk.EndChar, &chunk.Position, &metadataJSON, &chunk.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	chunk.Metadata = metadata
	return &chunk, nil
}

var _ repository.ChunkStore = (*ChunkRepo)(nil)

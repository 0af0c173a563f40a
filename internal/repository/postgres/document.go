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

const bumpGenerationSQL = `UPDATE corpus_state SET generation = generation + 1, updated_at = NOW() WHERE id = 1`

// DocumentRepo implements repository.DocumentStore
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return r.withGeneration(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO documents (id, name, content_hash, chunk_count, status, error_message, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.Exec(ctx, query,
			doc.ID, doc.Name, doc.ContentHash, doc.ChunkCount, doc.Status,
			doc.ErrorMessage, metadataJSON, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, name, content_hash, chunk_count, status, error_message, metadata, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var doc repository.Document
	var metadataJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Name, &doc.ContentHash, &doc.ChunkCount, &doc.Status,
		&doc.ErrorMessage, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if doc.Metadata, err = decodeMetadata(metadataJSON); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List retrieves documents with pagination, newest first
func (r *DocumentRepo) List(ctx context.Context, limit, offset int) ([]*repository.Document, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `
		SELECT id, name, content_hash, chunk_count, status, error_message, metadata, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.ContentHash, &doc.ChunkCount, &doc.Status,
			&doc.ErrorMessage, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		if doc.Metadata, err = decodeMetadata(metadataJSON); err != nil {
			return nil, 0, err
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, total, nil
}

// Update updates a document
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return r.withGeneration(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE documents
			SET name = $2, content_hash = $3, chunk_count = $4,
			    status = $5, error_message = $6, metadata = $7, updated_at = NOW()
			WHERE id = $1
		`
		result, err := tx.Exec(ctx, query,
			doc.ID, doc.Name, doc.ContentHash, doc.ChunkCount,
			doc.Status, doc.ErrorMessage, metadataJSON)
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		if result.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// Delete deletes a document. Its chunks go with it through the foreign key.
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.withGeneration(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if result.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// LatestModificationMarker returns the current corpus generation marker.
func (r *DocumentRepo) LatestModificationMarker(ctx context.Context) (string, error) {
	var generation int64
	err := r.db.Pool.QueryRow(ctx, `SELECT generation FROM corpus_state WHERE id = 1`).Scan(&generation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.VersionMarker(0), nil
		}
		return "", fmt.Errorf("failed to read corpus generation: %w", err)
	}
	return repository.VersionMarker(generation), nil
}

// withGeneration runs fn and advances the corpus generation in one transaction.
func (r *DocumentRepo) withGeneration(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, bumpGenerationSQL); err != nil {
		return fmt.Errorf("failed to advance corpus generation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	metadata := make(map[string]string)
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentStore = (*DocumentRepo)(nil)

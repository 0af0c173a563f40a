// Package repository defines domain models and data access interfaces for documents, chunks and query history.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document statuses
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document represents an ingested document
type Document struct {
	ID           uuid.UUID
	Name         string
	ContentHash  string
	ChunkCount   int
	Status       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is a contiguous span of a document's text. Position is the chunk's
// slot in the vector index; every chunk has exactly one vector and the
// position is the only join key between the two.
type Chunk struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	Index        int
	Text         string
	StartChar    int
	EndChar      int
	Position     int64
	Metadata     map[string]string
	CreatedAt    time.Time
}

// Page returns the page label stored in chunk metadata, if any.
func (c *Chunk) Page() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata["page"]
}

// QueryRecord is one answered (or refused) question in the query history.
type QueryRecord struct {
	ID               uuid.UUID
	Query            string
	Provider         string
	Answer           string
	Outcome          string
	ChunksRetrieved  int
	CacheHit         bool
	ProcessingTimeMS int64
	CreatedAt        time.Time
}

// VersionMarker formats a corpus generation counter as the opaque marker
// compared by the response cache.
func VersionMarker(generation int64) string {
	return fmt.Sprintf("gen-%d", generation)
}

// DocumentStore persists documents. Every Create, Update and Delete advances
// the corpus generation reported by LatestModificationMarker.
type DocumentStore interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	List(ctx context.Context, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	LatestModificationMarker(ctx context.Context) (string, error)
}

// ChunkStore persists chunks and resolves vector index positions back to them.
type ChunkStore interface {
	// CreateChunks stores chunks and assigns each a fresh Position.
	CreateChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, position int64) (*Chunk, error)
	// GetChunks returns the chunks found for the given positions. Missing
	// positions are absent from the map.
	GetChunks(ctx context.Context, positions []int64) (map[int64]*Chunk, error)
	ListPositions(ctx context.Context, documentID uuid.UUID) ([]int64, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// QueryLog persists query history.
type QueryLog interface {
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	ListQueries(ctx context.Context, limit, offset int) ([]*QueryRecord, int, error)
}

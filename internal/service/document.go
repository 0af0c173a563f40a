// Package service sequences the question answering pipeline and document
// management on top of the rag, ingestion and repository packages.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/ingestion"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

// Page size limits for listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// DocumentPage is one page of a document listing.
type DocumentPage struct {
	Documents []*repository.Document
	Total     int
	Offset    int
}

// CorpusStats summarizes the indexed corpus.
type CorpusStats struct {
	Documents     int    `json:"documents"`
	Chunks        int    `json:"chunks"`
	Vectors       int64  `json:"vectors"`
	CorpusVersion string `json:"corpus_version"`
}

// DocumentService uploads, lists and removes documents.
type DocumentService struct {
	docs    repository.DocumentStore
	chunks  repository.ChunkStore
	index   vectorstore.Index
	indexer *ingestion.Indexer
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(docs repository.DocumentStore, chunks repository.ChunkStore, index vectorstore.Index, indexer *ingestion.Indexer) *DocumentService {
	return &DocumentService{
		docs:    docs,
		chunks:  chunks,
		index:   index,
		indexer: indexer,
	}
}

// Upload indexes a plain-text document. The returned document is also
// returned on indexing failure, with status failed.
func (s *DocumentService) Upload(ctx context.Context, name, content string, metadata map[string]string) (*repository.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", rag.ErrInvalidRequest)
	}
	doc, err := s.indexer.Index(ctx, name, content, metadata)
	if errors.Is(err, ingestion.ErrEmptyDocument) {
		return nil, fmt.Errorf("%w: %w", rag.ErrInvalidRequest, err)
	}
	return doc, err
}

// Get returns a document.
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	return s.docs.GetByID(ctx, id)
}

// List returns a page of documents, newest first.
func (s *DocumentService) List(ctx context.Context, limit, offset int) (*DocumentPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset = max(offset, 0)

	docs, total, err := s.docs.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return &DocumentPage{Documents: docs, Total: total, Offset: offset}, nil
}

// Chunks returns a document's chunks in document order.
func (s *DocumentService) Chunks(ctx context.Context, id uuid.UUID) ([]*repository.Chunk, error) {
	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	positions, err := s.chunks.ListPositions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing chunk positions: %w", err)
	}
	found, err := s.chunks.GetChunks(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}

	chunks := make([]*repository.Chunk, 0, len(found))
	for _, c := range found {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Delete removes a document with its chunks and vectors.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.indexer.Remove(ctx, id)
}

// Stats counts documents, chunks and vectors.
func (s *DocumentService) Stats(ctx context.Context) (*CorpusStats, error) {
	_, docs, err := s.docs.List(ctx, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	chunks, err := s.chunks.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	vectors, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting vectors: %w", err)
	}
	version, err := s.docs.LatestModificationMarker(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading corpus version: %w", err)
	}
	return &CorpusStats{Documents: docs, Chunks: chunks, Vectors: vectors, CorpusVersion: version}, nil
}

// Package memstore provides in-process implementations of the repository
// interfaces for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

// Store keeps documents, chunks and query history in memory.
type Store struct {
	mu           sync.RWMutex
	documents    map[uuid.UUID]*repository.Document
	chunks       map[int64]*repository.Chunk
	nextPosition int64
	generation   int64
	queries      []*repository.QueryRecord
}

// New creates an empty store
func New() *Store {
	return &Store{
		documents: make(map[uuid.UUID]*repository.Document),
		chunks:    make(map[int64]*repository.Chunk),
	}
}

// Create stores a new document
func (s *Store) Create(_ context.Context, doc *repository.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *doc
	cp.Metadata = copyMetadata(doc.Metadata)
	s.documents[doc.ID] = &cp
	s.generation++
	return nil
}

// GetByID retrieves a document by ID
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	cp.Metadata = copyMetadata(doc.Metadata)
	return &cp, nil
}

// List returns documents newest first
func (s *Store) List(_ context.Context, limit, offset int) ([]*repository.Document, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*repository.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		cp := *doc
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return page(docs, limit, offset), len(docs), nil
}

// Update replaces a stored document
func (s *Store) Update(_ context.Context, doc *repository.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *doc
	cp.Metadata = copyMetadata(doc.Metadata)
	cp.UpdatedAt = time.Now()
	s.documents[doc.ID] = &cp
	s.generation++
	return nil
}

// Delete removes a document and its chunks
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.documents, id)
	for pos, chunk := range s.chunks {
		if chunk.DocumentID == id {
			delete(s.chunks, pos)
		}
	}
	s.generation++
	return nil
}

// LatestModificationMarker returns the current corpus generation marker
func (s *Store) LatestModificationMarker(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repository.VersionMarker(s.generation), nil
}

// CreateChunks stores chunks and assigns sequential positions
func (s *Store) CreateChunks(_ context.Context, chunks []*repository.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		chunk.Position = s.nextPosition
		s.nextPosition++
		cp := *chunk
		cp.Metadata = copyMetadata(chunk.Metadata)
		if doc, ok := s.documents[chunk.DocumentID]; ok {
			cp.DocumentName = doc.Name
		}
		s.chunks[cp.Position] = &cp
	}
	return nil
}

// GetChunk returns the chunk at a position
func (s *Store) GetChunk(_ context.Context, position int64) (*repository.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[position]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.withDocumentName(chunk), nil
}

// GetChunks returns the chunks found at the given positions
func (s *Store) GetChunks(_ context.Context, positions []int64) (map[int64]*repository.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[int64]*repository.Chunk, len(positions))
	for _, pos := range positions {
		if chunk, ok := s.chunks[pos]; ok {
			found[pos] = s.withDocumentName(chunk)
		}
	}
	return found, nil
}

// ListPositions returns a document's chunk positions in chunk order
func (s *Store) ListPositions(_ context.Context, documentID uuid.UUID) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*repository.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			chunks = append(chunks, chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	positions := make([]int64, len(chunks))
	for i, chunk := range chunks {
		positions[i] = chunk.Position
	}
	return positions, nil
}

// DeleteChunks removes a document's chunks
func (s *Store) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pos, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, pos)
		}
	}
	return nil
}

// Count returns the number of stored chunks
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// RecordQuery appends to the query history
func (s *Store) RecordQuery(_ context.Context, rec *repository.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.queries = append(s.queries, &cp)
	return nil
}

// ListQueries returns query history newest first
func (s *Store) ListQueries(_ context.Context, limit, offset int) ([]*repository.QueryRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*repository.QueryRecord, len(s.queries))
	for i, rec := range s.queries {
		cp := *rec
		records[len(s.queries)-1-i] = &cp
	}
	return page(records, limit, offset), len(records), nil
}

func (s *Store) withDocumentName(chunk *repository.Chunk) *repository.Chunk {
	cp := *chunk
	cp.Metadata = copyMetadata(chunk.Metadata)
	if doc, ok := s.documents[chunk.DocumentID]; ok {
		cp.DocumentName = doc.Name
	}
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var (
	_ repository.DocumentStore = (*Store)(nil)
	_ repository.ChunkStore    = (*Store)(nil)
	_ repository.QueryLog      = (*Store)(nil)
)

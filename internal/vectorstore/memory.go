package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an exact brute-force inner-product index. Safe for
// concurrent use; searches run under a read lock.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[int64][]float32
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[int64][]float32)}
}

// Init sets the expected vector dimension
func (m *MemoryIndex) Init(_ context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dimension
	return nil
}

// Upsert inserts or replaces points
func (m *MemoryIndex) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if m.dimension > 0 && len(p.Vector) != m.dimension {
			return fmt.Errorf("vector at position %d has dimension %d, expected %d", p.Position, len(p.Vector), m.dimension)
		}
		m.vectors[p.Position] = append([]float32(nil), p.Vector...)
	}
	return nil
}

// Search scores every stored vector and returns the best k
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension > 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, expected %d", len(vector), m.dimension)
	}

	hits := make([]Hit, 0, len(m.vectors))
	for pos, v := range m.vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Position: pos, Score: dot(vector, v)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes points by position
func (m *MemoryIndex) Delete(_ context.Context, positions []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range positions {
		delete(m.vectors, pos)
	}
	return nil
}

// Count returns the number of stored vectors
func (m *MemoryIndex) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.vectors)), nil
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

var _ Index = (*MemoryIndex)(nil)

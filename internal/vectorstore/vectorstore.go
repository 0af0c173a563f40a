// Package vectorstore provides the dense vector index used for first-stage
// retrieval. Vectors are keyed by their index position, which is also the
// chunk store's join key.
package vectorstore

import (
	"context"
)

// Point is one vector stored at an index position
type Point struct {
	Position   int64
	DocumentID string
	Vector     []float32
}

// Hit is a search result: the position of a stored vector and its inner
// product with the query vector.
type Hit struct {
	Position int64
	Score    float32
}

// Index defines the interface for inner-product vector search
type Index interface {
	// Init prepares the index for vectors of the given dimension.
	Init(ctx context.Context, dimension int) error

	// Upsert inserts or replaces points
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to k hits ordered by descending inner product
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Delete removes points by position
	Delete(ctx context.Context, positions []int64) error

	// Count returns the number of stored vectors
	Count(ctx context.Context) (int64, error)
}

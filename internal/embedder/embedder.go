// Package embedder provides interfaces and implementations for text embedding.
//
// All embedders return L2-normalized vectors so that the inner product used
// by the vector index equals cosine similarity.
package embedder

import (
	"context"
	"math"
)

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// KnownDimensions maps embedding model names to their output dimension.
var KnownDimensions = map[string]int{
	"nomic-embed-text":                       768,
	"mxbai-embed-large":                      1024,
	"all-minilm":                             384,
	"snowflake-arctic-embed":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// DimensionFor returns the known dimension of a model, or fallback.
func DimensionFor(modelName string, fallback int) int {
	if d, ok := KnownDimensions[modelName]; ok {
		return d
	}
	return fallback
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

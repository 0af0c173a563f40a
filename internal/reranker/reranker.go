// Package reranker provides cross-encoder scoring for second-stage retrieval.
//
// A cross-encoder reads the query and a passage together and returns a
// relevance score, which is more accurate than comparing independently
// computed embeddings.
//
// # Trade-offs
//
// Reranking is a per-request option (use_reranker).
//
//   - Latency: one extra model call per query, scoring every candidate
//   - Quality: fixes bi-encoder misorderings when candidates share vocabulary
//     with the query but answer a different question
//
// Implementations return raw model scores; callers must not assume a range.
package reranker

import (
	"context"
)

// CrossEncoder scores query/passage pairs jointly.
type CrossEncoder interface {
	// Score returns one score per passage, in passage order. Higher means
	// more relevant.
	Score(ctx context.Context, query string, passages []string) ([]float32, error)

	// ModelName returns the name of the scoring model.
	ModelName() string
}

package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/embedder"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

// Retrieval is the output of first-stage retrieval.
type Retrieval struct {
	// Candidates passed the threshold, in descending bi-encoder score order.
	Candidates []Candidate
	// IndexEmpty is set when the index returned no hits at all.
	IndexEmpty bool
	// Hits is the number of index hits before thresholding.
	Hits int
	// Missing counts hits whose chunk could not be found.
	Missing int
}

// Retriever embeds the query, searches the vector index and joins hits back
// to their chunks.
type Retriever struct {
	embedder embedder.Embedder
	index    vectorstore.Index
	chunks   repository.ChunkStore
	logger   *slog.Logger
}

// NewRetriever creates a retriever
func NewRetriever(e embedder.Embedder, index vectorstore.Index, chunks repository.ChunkStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: e,
		index:    index,
		chunks:   chunks,
		logger:   logger.With("component", "retriever"),
	}
}

// Retrieve returns up to topK chunks whose score is at least minScore.
// A hit whose chunk is missing is logged and skipped.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore float32) (*Retrieval, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	hits, err := r.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailure, err)
	}
	if len(hits) == 0 {
		return &Retrieval{IndexEmpty: true}, nil
	}

	kept := make([]vectorstore.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}

	result := &Retrieval{Hits: len(hits)}
	if len(kept) == 0 {
		return result, nil
	}

	positions := make([]int64, len(kept))
	for i, h := range kept {
		positions[i] = h.Position
	}
	found, err := r.chunks.GetChunks(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailure, err)
	}

	result.Candidates = make([]Candidate, 0, len(kept))
	for _, h := range kept {
		chunk, ok := found[h.Position]
		if !ok {
			result.Missing++
			r.logger.Warn("chunk_missing_for_index_position", "position", h.Position)
			continue
		}
		result.Candidates = append(result.Candidates, Candidate{Chunk: chunk, Score: h.Score})
	}

	return result, nil
}

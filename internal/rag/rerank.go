package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/reranker"
)

// Reranker reorders candidates with a cross-encoder. It never fails: on a
// model error it falls back to bi-encoder order.
type Reranker struct {
	model   reranker.CrossEncoder
	timeout time.Duration
	logger  *slog.Logger
}

// NewReranker creates the rerank stage. A zero timeout means the caller's
// context alone bounds the model call.
func NewReranker(model reranker.CrossEncoder, timeout time.Duration, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "reranker"),
	}
}

// ModelName returns the cross-encoder's model name.
func (r *Reranker) ModelName() string {
	return r.model.ModelName()
}

// Rerank scores every candidate against the query and returns the topK by
// descending cross-encoder score. Ties keep bi-encoder order. fellBack is
// true when the model failed and the first topK candidates were returned
// unchanged. An empty candidate list returns immediately without calling
// the model.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (results []RankedResult, fellBack bool) {
	if len(candidates) == 0 {
		return []RankedResult{}, false
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Chunk.Text
	}

	start := time.Now()
	scores, err := r.model.Score(ctx, query, passages)
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("model returned %d scores for %d passages", len(scores), len(candidates))
	}
	if err != nil {
		r.logger.Warn("reranking_failed_using_original_scores",
			"error", fmt.Errorf("%w: %w", ErrRerankFailure, err),
			"candidate_count", len(candidates),
			"duration_ms", time.Since(start).Milliseconds())
		return FromCandidates(candidates, topK), true
	}

	ranked := make([]RankedResult, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedResult{Candidate: c, RerankScore: scores[i], Reranked: true}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})

	if topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked, false
}

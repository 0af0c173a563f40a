// Package rag holds the retrieval-augmented answering stages: bi-encoder
// retrieval, cross-encoder reranking, grounded prompt construction and
// answer verification. The service package sequences them.
package rag

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

// RefusalText is the exact answer the model is instructed to give when the
// sources do not contain the answer. It is also the answer text of the
// no-documents and no-relevant-content outcomes.
const RefusalText = "I don't know from the provided documents."

// User-facing guidance for the non-answer outcomes.
const (
	MessageNoDocuments       = "No documents have been indexed yet. Upload documents before asking questions."
	MessageNoRelevantContent = "No relevant documents found. Try lowering the similarity threshold."
)

var (
	// ErrNoDocumentsIndexed reports an empty vector index.
	ErrNoDocumentsIndexed = errors.New("no documents indexed")
	// ErrNoRelevantContent reports that no candidate passed the similarity threshold.
	ErrNoRelevantContent = errors.New("no relevant content")
	// ErrEmbeddingFailure wraps query embedding failures. Fatal for the request.
	ErrEmbeddingFailure = errors.New("embedding failed")
	// ErrRetrievalFailure wraps vector index and chunk store failures. Fatal for the request.
	ErrRetrievalFailure = errors.New("retrieval failed")
	// ErrRerankFailure wraps cross-encoder failures. Absorbed by falling back to bi-encoder order.
	ErrRerankFailure = errors.New("rerank failed")
	// ErrGenerationFailure wraps LLM failures, including timeouts. Fatal for the request.
	ErrGenerationFailure = errors.New("generation failed")
	// ErrCacheFailure wraps response cache failures. Absorbed as a miss.
	ErrCacheFailure = errors.New("cache failure")
	// ErrInvalidRequest marks malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// Outcome classifies how a question was resolved.
type Outcome string

const (
	// OutcomeAnswered means the model produced an answer from the sources.
	OutcomeAnswered Outcome = "answered"
	// OutcomeRefused means the model replied with RefusalText.
	OutcomeRefused Outcome = "refused"
	// OutcomeNoDocuments means the index was empty; the model was not called.
	OutcomeNoDocuments Outcome = "no_documents_indexed"
	// OutcomeNoRelevantContent means nothing passed the similarity threshold;
	// the model was not called.
	OutcomeNoRelevantContent Outcome = "no_relevant_content"
)

// Candidate is a chunk returned by first-stage retrieval with its bi-encoder
// (inner product) score.
type Candidate struct {
	Chunk *repository.Chunk `json:"chunk"`
	Score float32           `json:"score"`
}

// RankedResult is a candidate after second-stage ranking. When Reranked is
// false the order is bi-encoder order and RerankScore is unset.
type RankedResult struct {
	Candidate
	RerankScore float32 `json:"rerank_score"`
	Reranked    bool    `json:"reranked"`
}

// FromCandidates keeps the first k candidates in bi-encoder order.
func FromCandidates(candidates []Candidate, k int) []RankedResult {
	if k < 0 {
		k = 0
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]RankedResult, k)
	for i := 0; i < k; i++ {
		out[i] = RankedResult{Candidate: candidates[i]}
	}
	return out
}

// Timings records per-stage wall-clock durations. JSON carries them as
// fractional milliseconds.
type Timings struct {
	Retrieval  time.Duration
	Rerank     time.Duration
	Generation time.Duration
	Total      time.Duration
}

type timingsJSON struct {
	RetrievalMS  float64 `json:"retrieval_ms"`
	RerankMS     float64 `json:"rerank_ms"`
	GenerationMS float64 `json:"generation_ms"`
	TotalMS      float64 `json:"total_ms"`
}

func toMS(d time.Duration) float64   { return float64(d) / float64(time.Millisecond) }
func fromMS(ms float64) time.Duration { return time.Duration(math.Round(ms * float64(time.Millisecond))) }

// MarshalJSON implements json.Marshaler.
func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(timingsJSON{
		RetrievalMS:  toMS(t.Retrieval),
		RerankMS:     toMS(t.Rerank),
		GenerationMS: toMS(t.Generation),
		TotalMS:      toMS(t.Total),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timings) UnmarshalJSON(data []byte) error {
	var v timingsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Timings{
		Retrieval:  fromMS(v.RetrievalMS),
		Rerank:     fromMS(v.RerankMS),
		Generation: fromMS(v.GenerationMS),
		Total:      fromMS(v.TotalMS),
	}
	return nil
}

// Answer is the result of one question. Sources are exactly the passages the
// model saw, in prompt order.
type Answer struct {
	Query          string         `json:"query"`
	Text           string         `json:"answer"`
	Sources        []RankedResult `json:"sources"`
	Outcome        Outcome        `json:"outcome"`
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	Provider       string         `json:"provider"`
	Verification   Verification   `json:"verification"`
	Timings        Timings        `json:"timings"`
	CandidateCount int            `json:"candidate_count"`
	Reranked       bool           `json:"reranked"`
	RerankFallback bool           `json:"rerank_fallback"`
	CacheHit       bool           `json:"cache_hit"`
}

// Err returns the sentinel for the non-answer outcomes and nil otherwise.
func (a *Answer) Err() error {
	switch a.Outcome {
	case OutcomeNoDocuments:
		return ErrNoDocumentsIndexed
	case OutcomeNoRelevantContent:
		return ErrNoRelevantContent
	default:
		return nil
	}
}

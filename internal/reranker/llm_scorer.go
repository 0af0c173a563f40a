package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/llm"
)

// LLMScorer prompts an LLM to act as a cross-encoder: the model sees the
// query and every passage together and returns a relevance score for each.
type LLMScorer struct {
	llmClient   llm.LLM
	model       string
	maxPassages int
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for scoring.
func WithModel(model string) LLMScorerOption {
	return func(r *LLMScorer) {
		r.model = model
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	r := &LLMScorer{llmClient: llmClient, maxPassages: 500}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ModelName returns the provider and model used for scoring.
func (r *LLMScorer) ModelName() string {
	if r.model == "" {
		return r.llmClient.Name()
	}
	return r.llmClient.Name() + "/" + r.model
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
}

type scoreResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Score asks the LLM for a 0-1 relevance score per passage.
func (r *LLMScorer) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	response, err := r.llmClient.Generate(ctx, r.buildPrompt(query, passages), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM scoring failed: %w", err)
	}

	return parseScores(response, len(passages))
}

func (r *LLMScorer) buildPrompt(query string, passages []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments to score:\n")
	for i, p := range passages {
		if len(p) > r.maxPassages {
			p = p[:r.maxPassages] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, p)
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on whether it answers the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: a document that mentions the query's words but does not answer it scores below 0.3.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScores extracts scores from the model output. Every document must be
// scored; a partial answer is an error.
func parseScores(response string, n int) ([]float32, error) {
	response = stripCodeFence(strings.TrimSpace(response))

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse score response: %w", err)
	}

	scores := make([]float32, n)
	seen := make([]bool, n)
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.DocIndex] = score
		seen[s.DocIndex] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("no score returned for document %d", i)
		}
	}
	return scores, nil
}

func stripCodeFence(s string) string {
	if idx := strings.Index(s, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	} else if idx := strings.Index(s, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	return s
}

var _ CrossEncoder = (*LLMScorer)(nil)

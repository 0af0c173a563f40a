package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
	Model   string         `json:"model"`
}

// HTTPCrossEncoder calls a cross-encoder model server over HTTP
// (POST {base}/v1/rerank).
type HTTPCrossEncoder struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPCrossEncoder creates a client. If client is nil one is created with
// the given timeout.
func NewHTTPCrossEncoder(baseURL, model string, timeout time.Duration, client *http.Client, logger *slog.Logger) *HTTPCrossEncoder {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCrossEncoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		logger:  logger.With("component", "cross_encoder"),
	}
}

// ModelName returns the configured model name.
func (c *HTTPCrossEncoder) ModelName() string { return c.model }

// Score sends all passages in one request and maps the results back to
// passage order. Every passage must receive exactly one score.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	start := time.Now()

	payload, err := json.Marshal(rerankRequest{Query: query, Candidates: passages, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float32, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for passage %d", i)
		}
	}

	c.logger.Debug("reranking_completed",
		slog.Int("candidate_count", len(passages)),
		slog.String("model", parsed.Model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return scores, nil
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

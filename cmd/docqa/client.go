package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
)

// Client calls the docqa HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// NewClient creates a client. apiKey and token are only sent to admin
// endpoints.
func NewClient(baseURL, apiKey, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Stage   string
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("server returned %d at stage %s: %s", e.Status, e.Stage, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// AskRequest mirrors the query endpoint body. Nil fields use server defaults.
type AskRequest struct {
	Query         string   `json:"query"`
	TopKRetrieval *int     `json:"top_k_retrieval,omitempty"`
	TopKFinal     *int     `json:"top_k_final,omitempty"`
	MinScore      *float32 `json:"min_score,omitempty"`
	UseReranker   *bool    `json:"use_reranker,omitempty"`
	Temperature   *float32 `json:"temperature,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

// Source is one cited passage.
type Source struct {
	Label       string   `json:"label"`
	Text        string   `json:"text"`
	Score       float32  `json:"score"`
	RerankScore *float32 `json:"rerank_score,omitempty"`
}

// Answer is the query endpoint response.
type Answer struct {
	Query          string           `json:"query"`
	Answer         string           `json:"answer"`
	Outcome        rag.Outcome      `json:"outcome"`
	Success        bool             `json:"success"`
	Message        string           `json:"message,omitempty"`
	Provider       string           `json:"provider"`
	Sources        []Source         `json:"sources"`
	Verification   rag.Verification `json:"verification"`
	Timings        rag.Timings      `json:"timings"`
	CandidateCount int              `json:"candidate_count"`
	Reranked       bool             `json:"reranked"`
	RerankFallback bool             `json:"rerank_fallback"`
	CacheHit       bool             `json:"cache_hit"`
}

// Document is a stored document.
type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	ChunkCount   int       `json:"chunk_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DocumentList is one page of documents.
type DocumentList struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	Offset    int        `json:"offset"`
}

// Ask posts a question.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	var out Answer
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends a plain-text document.
func (c *Client) Upload(ctx context.Context, name, content string) (*Document, error) {
	body := map[string]string{"name": name, "content": content}
	var out Document
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments returns a page of documents.
func (c *Client) ListDocuments(ctx context.Context, limit, offset int) (*DocumentList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out DocumentList
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents?"+q.Encode(), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil, false)
}

// ClearCache drops every cached answer.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/cache", nil, nil, true)
}

// CacheStats returns response cache statistics.
func (c *Client) CacheStats(ctx context.Context) (*cache.Stats, error) {
	var out cache.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/cache/stats", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, admin bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		if c.apiKey != "" {
			req.Header.Set(auth.APIKeyHeader, c.apiKey)
		} else if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var e struct {
			Error string `json:"error"`
			Stage string `json:"stage"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			apiErr.Message, apiErr.Stage = e.Error, e.Stage
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

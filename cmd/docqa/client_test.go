package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/config"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
)

func TestClient_Ask(t *testing.T) {
	var got AskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Empty(t, r.Header.Get(auth.APIKeyHeader), "admin credentials only go to admin endpoints")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"query": "Where did the candidate intern?",
			"answer": "Acme Corp [DOCUMENT 1].",
			"outcome": "answered",
			"success": true,
			"provider": "ollama",
			"sources": [{"label": "resume.txt", "text": "Machine Learning Intern at Acme Corp", "score": 0.6, "rerank_score": 8.1}],
			"verification": {"coverage_percent": 100, "found_words": 2, "total_words": 2, "empty_answer": false},
			"timings": {"retrieval_ms": 12.5, "rerank_ms": 40, "generation_ms": 900, "total_ms": 953},
			"reranked": true
		}`))
	}))
	defer srv.Close()

	topK := 2
	c := NewClient(srv.URL+"/", "secret", "", time.Second)
	answer, err := c.Ask(context.Background(), AskRequest{Query: "Where did the candidate intern?", TopKFinal: &topK})
	require.NoError(t, err)

	require.NotNil(t, got.TopKFinal)
	assert.Equal(t, 2, *got.TopKFinal)
	assert.Nil(t, got.UseReranker)

	assert.Equal(t, rag.OutcomeAnswered, answer.Outcome)
	assert.Equal(t, 900*time.Millisecond, answer.Timings.Generation)
	require.Len(t, answer.Sources, 1)

	var out bytes.Buffer
	noColor = true
	newPrinter(&out).answer(answer, true)
	assert.Contains(t, out.String(), "[DOCUMENT 1] resume.txt (similarity 0.600, rerank 8.100)")
	assert.Contains(t, out.String(), "Machine Learning Intern at Acme Corp")
	assert.Contains(t, out.String(), "Coverage: 100.0% (2/2 words found in sources)")
}

func TestClient_AdminCredentialsAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/admin/cache":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"error":"Answer generation failed. Please try again.","stage":"generate"}`))
		}
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "", "tok", time.Second).ClearCache(context.Background()))

	err := NewClient(srv.URL, "", "", time.Second).ClearCache(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = NewClient(srv.URL, "", "", time.Second).Ask(context.Background(), AskRequest{Query: "q"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "generate", apiErr.Stage)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
}

func TestPrinter_NonAnswerOutcome(t *testing.T) {
	var out bytes.Buffer
	noColor = true
	newPrinter(&out).answer(&Answer{
		Answer:  rag.RefusalText,
		Outcome: rag.OutcomeNoDocuments,
		Message: rag.MessageNoDocuments,
	}, false)

	assert.Contains(t, out.String(), rag.RefusalText)
	assert.Contains(t, out.String(), rag.MessageNoDocuments)
	assert.Contains(t, out.String(), "Outcome: no_documents_indexed")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json", Environment: "test", OTelServiceName: "docqa"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "docqa", line["service"])
	assert.Equal(t, "test", line["environment"])
}

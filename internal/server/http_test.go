package server

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
)

const resume = "Born in Springfield.\n\nMachine Learning Intern at Acme Corp, 2021."

func TestQuery_EmptyCorpus(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/query", `{"query":"Where did the candidate intern?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[answerResponse](t, rec)
	assert.Equal(t, rag.OutcomeNoDocuments, got.Outcome)
	assert.Equal(t, rag.RefusalText, got.Answer)
	assert.Equal(t, rag.MessageNoDocuments, got.Message)
	assert.Empty(t, got.Sources)
	assert.False(t, got.Success)
}

func TestQuery_AnswersAndCaches(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, "resume.txt", resume)

	rec := api.do(t, http.MethodPost, "/api/v1/query", `{"query":"Where did the candidate intern?","top_k_final":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	first := decode[answerResponse](t, rec)
	assert.Equal(t, rag.OutcomeAnswered, first.Outcome)
	assert.True(t, first.Success)
	assert.False(t, first.CacheHit)
	assert.True(t, first.Reranked)
	assert.Equal(t, "ollama", first.Provider)
	require.Len(t, first.Sources, 1)
	assert.Equal(t, "resume.txt", first.Sources[0].Label)
	assert.Equal(t, resume, first.Sources[0].Text)
	assert.NotNil(t, first.Sources[0].RerankScore)
	assert.Contains(t, rec.Body.String(), `"generation_ms"`)

	rec = api.do(t, http.MethodPost, "/api/v1/query", `{"query":"where did the candidate intern","top_k_final":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[answerResponse](t, rec)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
}

func TestQuery_BadRequests(t *testing.T) {
	api := newTestAPI(t)

	tests := map[string]string{
		"empty query":      `{"query":"  "}`,
		"malformed":        `{"query":`,
		"unknown field":    `{"query":"q","top_k":3}`,
		"unknown provider": `{"query":"q","provider":"mystery"}`,
		"bad temperature":  `{"query":"q","temperature":5}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/query", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestQuery_GenerationTimeout(t *testing.T) {
	api := newTestAPI(t, withGenerationTimeout(20*time.Millisecond))
	api.upload(t, "resume.txt", resume)
	api.llm.reply = func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	rec := api.do(t, http.MethodPost, "/api/v1/query", `{"query":"Where did the candidate intern?"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	got := decode[errorResponse](t, rec)
	assert.Equal(t, msgGenerationFailed, got.Error)
	assert.Equal(t, "generate", got.Stage)
}

func TestQuery_GenerationFailure(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, "resume.txt", resume)
	api.llm.reply = func(context.Context) (string, error) { return "", errors.New("model overloaded") }

	rec := api.do(t, http.MethodPost, "/api/v1/query", `{"query":"Where did the candidate intern?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "overloaded")
}

func TestQuery_RateLimited(t *testing.T) {
	api := newTestAPI(t, withRateLimit(0.01, 1))

	rec := api.do(t, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))

	// Other endpoints are not limited.
	rec = api.do(t, http.MethodGet, "/api/v1/documents", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDocuments_Lifecycle(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "resume.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(resume))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	doc := decode[documentResponse](t, rec)
	assert.Equal(t, "resume.txt", doc.Name)
	assert.Equal(t, "ready", doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, "resume.txt", doc.Metadata["filename"])

	rec = api.do(t, http.MethodGet, "/api/v1/documents?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[documentListResponse](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = api.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/chunks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	chunks := decode[struct {
		Chunks []chunkResponse `json:"chunks"`
	}](t, rec)
	require.Len(t, chunks.Chunks, 1)
	assert.Equal(t, 0, chunks.Chunks[0].StartChar)
	assert.Equal(t, len([]rune(resume)), chunks.Chunks[0].EndChar)

	rec = api.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	count, err := api.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDocuments_BadRequests(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/documents/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/documents?limit=ten", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/api/v1/documents", `{"name":"a.txt","content":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/api/v1/documents", `{"name":"","content":"text"}`).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/api/v1/documents/00000000-0000-0000-0000-000000000001", "").Code)
}

func TestUploadInvalidatesCachedAnswers(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, "resume.txt", resume)

	query := `{"query":"Where did the candidate intern?"}`
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/v1/query", query).Code)

	api.upload(t, "cover-letter.txt", "I enjoyed my internship at Acme Corp.")

	got := decode[answerResponse](t, api.do(t, http.MethodPost, "/api/v1/query", query))
	assert.False(t, got.CacheHit)
	assert.Equal(t, 2, got.CandidateCount)
}

func TestAdmin_RequiresCredentials(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodDelete, "/api/v1/admin/cache", "").Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/admin/stats", "", auth.APIKeyHeader, "wrong").Code)

	token, err := api.jwt.GenerateToken("ops", auth.RoleAdmin)
	require.NoError(t, err)
	rec := api.do(t, http.MethodGet, "/api/v1/admin/cache/stats", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_CacheAndStats(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, "resume.txt", resume)
	query := `{"query":"Where did the candidate intern?"}`
	api.do(t, http.MethodPost, "/api/v1/query", query)
	api.do(t, http.MethodPost, "/api/v1/query", query)

	rec := api.do(t, http.MethodGet, "/api/v1/admin/cache/stats", "", auth.APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[cache.Stats](t, rec)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	assert.Equal(t, 600.0, stats.TTLSeconds)

	rec = api.do(t, http.MethodGet, "/api/v1/admin/stats", "", auth.APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[statsResponse](t, rec)
	assert.Equal(t, 1, all.Corpus.Documents)
	assert.Equal(t, int64(1), all.Corpus.Vectors)
	require.NotNil(t, all.Cache)

	rec = api.do(t, http.MethodDelete, "/api/v1/admin/cache", "", auth.APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got := decode[answerResponse](t, api.do(t, http.MethodPost, "/api/v1/query", query))
	assert.False(t, got.CacheHit)
}

func TestQueries_History(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/v1/queries", "").Code)

	api = newTestAPI(t, withQueryHistory())
	api.do(t, http.MethodPost, "/api/v1/query", `{"query":"Where did the candidate intern?"}`)

	rec := api.do(t, http.MethodGet, "/api/v1/queries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Queries []queryRecordResponse `json:"queries"`
		Total   int                   `json:"total"`
	}](t, rec)
	require.Equal(t, 1, got.Total)
	assert.Equal(t, "no_documents_indexed", got.Queries[0].Outcome)
}

func TestInfo(t *testing.T) {
	api := newTestAPI(t)

	got := decode[map[string]any](t, api.do(t, http.MethodGet, "/api/v1/info", ""))
	assert.Equal(t, "ollama", got["default_provider"])
	assert.Equal(t, "length-cross-encoder", got["reranker_model"])
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/readyz", "").Code)

	api = newTestAPI(t, withCheck("database", func(context.Context) error { return errors.New("connection refused") }))
	rec := api.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/api/v1/documents", "")
	api.do(t, http.MethodGet, "/api/v1/documents/not-a-uuid", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(api.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/documents/{id}", "400")))

	rec := api.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "docqa_http_requests_total"))
}

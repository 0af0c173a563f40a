package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/ingestion"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/llm"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/metrics"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository/memstore"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/service"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

const adminKey = "admin-key"

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (constEmbedder) Dimension() int    { return 2 }
func (constEmbedder) ModelName() string { return "const" }

type stubLLM struct {
	reply func(ctx context.Context) (string, error)
}

func (s *stubLLM) Name() string { return "ollama" }
func (s *stubLLM) Generate(ctx context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	return s.reply(ctx)
}

type lengthCrossEncoder struct{}

func (lengthCrossEncoder) Score(_ context.Context, _ string, passages []string) ([]float32, error) {
	out := make([]float32, len(passages))
	for i, p := range passages {
		out[i] = float32(len(p))
	}
	return out, nil
}
func (lengthCrossEncoder) ModelName() string { return "length-cross-encoder" }

type testAPI struct {
	handler http.Handler
	server  *HTTPServer
	store   *memstore.Store
	index   *vectorstore.MemoryIndex
	llm     *stubLLM
	metrics *metrics.Metrics
	jwt     *auth.JWTManager
}

type apiOption func(*apiConfig)

type apiConfig struct {
	http     HTTPServerConfig
	defaults service.Defaults
	history  bool
	checks   map[string]ReadinessCheck
}

func withRateLimit(perSecond float64, burst int) apiOption {
	return func(c *apiConfig) { c.http.QueryRateLimit, c.http.QueryRateBurst = perSecond, burst }
}

func withGenerationTimeout(d time.Duration) apiOption {
	return func(c *apiConfig) { c.defaults.Timeout = d }
}

func withQueryHistory() apiOption {
	return func(c *apiConfig) { c.history = true }
}

func withCheck(name string, check ReadinessCheck) apiOption {
	return func(c *apiConfig) { c.checks[name] = check }
}

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()

	cfg := &apiConfig{defaults: service.DefaultDefaults, checks: map[string]ReadinessCheck{}}
	for _, o := range opts {
		o(cfg)
	}

	store := memstore.New()
	index := vectorstore.NewMemoryIndex()
	require.NoError(t, index.Init(context.Background(), 2))
	cfg.checks["index"] = func(ctx context.Context) error {
		_, err := index.Count(ctx)
		return err
	}

	model := &stubLLM{reply: func(context.Context) (string, error) {
		return "The candidate interned at Acme Corp [DOCUMENT 1].", nil
	}}
	registry, err := llm.NewRegistry("ollama", model)
	require.NoError(t, err)

	backend, err := cache.NewMemoryBackend(10)
	require.NoError(t, err)

	m := metrics.New(nil)
	pipelineOpts := []service.PipelineOption{
		service.WithReranker(rag.NewReranker(lengthCrossEncoder{}, 0, nil)),
		service.WithCache(cache.New(backend, store, cache.DefaultTTL, 10)),
		service.WithDefaults(cfg.defaults),
		service.WithMetrics(m),
	}
	if cfg.history {
		pipelineOpts = append(pipelineOpts, service.WithRecorders(store))
	}
	pipeline := service.NewPipeline(rag.NewRetriever(constEmbedder{}, index, store, nil), registry, pipelineOpts...)

	indexer := ingestion.NewIndexer(store, store, constEmbedder{}, index, ingestion.NewChunker(ingestion.ChunkerConfig{Size: 200, Overlap: 20}))
	jwt := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))

	h := Handlers{
		Pipeline:  pipeline,
		Documents: service.NewDocumentService(store, store, index, indexer),
		Auth:      auth.NewAuthenticator(adminKey, jwt, nil),
		Metrics:   m,
		Checks:    cfg.checks,
	}
	if cfg.history {
		h.Queries = store
	}

	srv, err := NewHTTPServer(cfg.http, h)
	require.NoError(t, err)
	t.Cleanup(func() {
		if srv.limiter != nil {
			srv.limiter.Close()
		}
	})

	return &testAPI{
		handler: srv.Handler(),
		server:  srv,
		store:   store,
		index:   index,
		llm:     model,
		metrics: m,
		jwt:     jwt,
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) upload(t *testing.T, name, content string) documentResponse {
	t.Helper()
	body, err := json.Marshal(uploadRequest{Name: name, Content: content})
	require.NoError(t, err)
	rec := a.do(t, http.MethodPost, "/api/v1/documents", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[documentResponse](t, rec)
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/llm"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository/memstore"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

const internQuery = "Where did the candidate intern?"

type tableEmbedder struct {
	vectors map[string][]float32
	err     error

	// hang blocks Embed until its context ends.
	hang      atomic.Bool
	calls     atomic.Int32
	cancelled atomic.Bool
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.hang.Load() {
		<-ctx.Done()
		e.cancelled.Store(true)
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) Dimension() int    { return 2 }
func (e *tableEmbedder) ModelName() string { return "table" }

// fakeLLM records prompts and answers with reply.
type fakeLLM struct {
	name  string
	reply func(ctx context.Context, prompt string) (string, error)

	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
	opts    []llm.GenerateOptions
}

func newFakeLLM(name, answer string) *fakeLLM {
	return &fakeLLM{name: name, reply: func(context.Context, string) (string, error) { return answer, nil }}
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	return f.reply(ctx, prompt)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeCrossEncoder struct {
	scores map[string]float32
	err    error
	calls  atomic.Int32
}

func (f *fakeCrossEncoder) Score(_ context.Context, _ string, passages []string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(passages))
	for i, p := range passages {
		out[i] = f.scores[p]
	}
	return out, nil
}

func (f *fakeCrossEncoder) ModelName() string { return "fake-cross-encoder" }

type recorderFunc func(ctx context.Context, rec *repository.QueryRecord) error

func (f recorderFunc) RecordQuery(ctx context.Context, rec *repository.QueryRecord) error {
	return f(ctx, rec)
}

type seedChunk struct {
	text   string
	vector []float32
}

// fixture is a pipeline over an in-memory corpus.
type fixture struct {
	store    *memstore.Store
	index    *vectorstore.MemoryIndex
	embedder *tableEmbedder
	model    *fakeCrossEncoder
	llm      *fakeLLM
	pipeline *Pipeline
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	providers []llm.LLM
	noCache   bool
	opts      []PipelineOption
}

func withProviders(p ...llm.LLM) fixtureOption {
	return func(c *fixtureConfig) { c.providers = p }
}

func withoutCache() fixtureOption {
	return func(c *fixtureConfig) { c.noCache = true }
}

func withPipelineOptions(opts ...PipelineOption) fixtureOption {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

func newFixture(t *testing.T, chunks []seedChunk, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := &fixtureConfig{}
	for _, o := range opts {
		o(cfg)
	}

	f := &fixture{
		store:    memstore.New(),
		index:    vectorstore.NewMemoryIndex(),
		embedder: &tableEmbedder{vectors: map[string][]float32{internQuery: {1, 0}}},
		model:    &fakeCrossEncoder{scores: map[string]float32{}},
		llm:      newFakeLLM("ollama", "The candidate interned at Acme Corp [DOCUMENT 1]."),
	}
	require.NoError(t, f.index.Init(context.Background(), 2))
	if len(chunks) > 0 {
		f.seed(t, "resume.txt", chunks...)
	}

	providers := cfg.providers
	if len(providers) == 0 {
		providers = []llm.LLM{f.llm}
	}
	registry, err := llm.NewRegistry(providers[0].Name(), providers...)
	require.NoError(t, err)

	pipelineOpts := []PipelineOption{WithReranker(rag.NewReranker(f.model, 0, nil))}
	if !cfg.noCache {
		backend, err := cache.NewMemoryBackend(100)
		require.NoError(t, err)
		pipelineOpts = append(pipelineOpts, WithCache(cache.New(backend, f.store, cache.DefaultTTL, 100)))
	}
	pipelineOpts = append(pipelineOpts, cfg.opts...)

	retriever := rag.NewRetriever(f.embedder, f.index, f.store, nil)
	f.pipeline = NewPipeline(retriever, registry, pipelineOpts...)
	return f
}

func (f *fixture) seed(t *testing.T, name string, chunks ...seedChunk) *repository.Document {
	t.Helper()
	ctx := context.Background()

	doc := &repository.Document{ID: uuid.New(), Name: name, Status: repository.StatusReady}
	require.NoError(t, f.store.Create(ctx, doc))

	stored := make([]*repository.Chunk, len(chunks))
	for i, c := range chunks {
		stored[i] = &repository.Chunk{ID: uuid.New(), DocumentID: doc.ID, Index: i, Text: c.text}
	}
	require.NoError(t, f.store.CreateChunks(ctx, stored))

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{Position: stored[i].Position, DocumentID: doc.ID.String(), Vector: c.vector}
	}
	require.NoError(t, f.index.Upsert(ctx, points))
	return doc
}

var resumeChunks = []seedChunk{
	{text: "Born in Springfield", vector: []float32{0.9, 0.436}},
	{text: "Machine Learning Intern at Acme Corp", vector: []float32{0.6, 0.8}},
}

var errUnavailable = errors.New("service unavailable")

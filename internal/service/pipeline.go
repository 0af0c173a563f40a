package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/llm"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/metrics"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/telemetry"
)

// Pipeline stages, used for spans, metrics and error reporting.
const (
	StageCacheCheck = "cache_check"
	StageRetrieve   = "retrieve"
	StageRerank     = "rerank"
	StagePrompt     = "prompt"
	StageGenerate   = "generate"
	StageVerify     = "verify"
	StageCacheWrite = "cache_write"
)

const recordTimeout = 5 * time.Second

// QueryRecorder receives a record of every completed question.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, rec *repository.QueryRecord) error
}

// Request is one question with its retrieval and generation parameters.
type Request struct {
	Query         string  `json:"query"`
	TopKRetrieval int     `json:"top_k_retrieval"`
	TopKFinal     int     `json:"top_k_final"`
	MinScore      float32 `json:"min_score"`
	UseReranker   bool    `json:"use_reranker"`
	Temperature   float32 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	// Provider names the LLM; empty selects the configured default.
	Provider string `json:"provider"`
	// Timeout bounds the LLM call.
	Timeout time.Duration `json:"-"`
	// RetrievalTimeout bounds query embedding, vector search and the chunk
	// join.
	RetrievalTimeout time.Duration `json:"-"`
}

// Defaults fill a Request built with NewRequest and any zero-valued
// counts, token limit or timeout.
type Defaults struct {
	TopKRetrieval int
	TopKFinal     int
	MinScore      float32
	UseReranker   bool
	Temperature   float32
	MaxTokens     int
	Timeout       time.Duration

	RetrievalTimeout time.Duration
}

// DefaultDefaults matches the shipped configuration.
var DefaultDefaults = Defaults{
	TopKRetrieval: 50,
	TopKFinal:     4,
	MinScore:      0.15,
	UseReranker:   true,
	Temperature:   0,
	MaxTokens:     512,
	Timeout:       60 * time.Second,

	RetrievalTimeout: 15 * time.Second,
}

// Error reports the stage a question failed in.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithReranker enables second-stage reranking.
func WithReranker(r *rag.Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithCache enables the response cache.
func WithCache(c *cache.ResponseCache) PipelineOption {
	return func(p *Pipeline) { p.cache = c }
}

// WithDefaults sets the request defaults.
func WithDefaults(d Defaults) PipelineOption {
	return func(p *Pipeline) { p.defaults = d }
}

// WithRecorders adds query recorders.
func WithRecorders(r ...QueryRecorder) PipelineOption {
	return func(p *Pipeline) { p.recorders = append(p.recorders, r...) }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline answers questions: cache check, retrieval, optional rerank,
// grounded prompt, generation, verification and cache write. The response
// cache is its only state shared between questions.
type Pipeline struct {
	retriever *rag.Retriever
	reranker  *rag.Reranker
	llms      *llm.Registry
	cache     *cache.ResponseCache
	defaults  Defaults
	recorders []QueryRecorder
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	flight singleflight.Group
}

// NewPipeline creates a pipeline. Without WithReranker every question uses
// bi-encoder order; without WithCache nothing is cached.
func NewPipeline(retriever *rag.Retriever, llms *llm.Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		retriever: retriever,
		llms:      llms,
		defaults:  DefaultDefaults,
		tracer:    telemetry.Tracer(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// NewRequest returns a request for query carrying the pipeline defaults.
func (p *Pipeline) NewRequest(query string) Request {
	return Request{
		Query:         query,
		TopKRetrieval: p.defaults.TopKRetrieval,
		TopKFinal:     p.defaults.TopKFinal,
		MinScore:      p.defaults.MinScore,
		UseReranker:   p.defaults.UseReranker,
		Temperature:   p.defaults.Temperature,
		MaxTokens:     p.defaults.MaxTokens,
		Timeout:       p.defaults.Timeout,

		RetrievalTimeout: p.defaults.RetrievalTimeout,
	}
}

// Providers returns the configured LLM provider names and the default.
func (p *Pipeline) Providers() (names []string, defaultName string) {
	return p.llms.Names(), p.llms.DefaultName()
}

// RerankerModel returns the cross-encoder model name, or "" when reranking
// is disabled.
func (p *Pipeline) RerankerModel() string {
	if p.reranker == nil {
		return ""
	}
	return p.reranker.ModelName()
}

// AnswerQuestion runs the pipeline for req. Only embedding, retrieval and
// generation failures are returned as errors; an empty index and a
// question with no candidate above the threshold are answers with their own
// outcome. Concurrent identical questions share one computation.
func (p *Pipeline) AnswerQuestion(ctx context.Context, req Request) (*rag.Answer, error) {
	req = p.fill(req)
	if err := validate(req); err != nil {
		return nil, err
	}

	generator, err := p.llms.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrInvalidRequest, err)
	}
	req.Provider = generator.Name()

	// The shared computation outlives any one caller; the retrieval and
	// generation timeouts bound it.
	ch := p.flight.DoChan(flightKey(req), func() (any, error) {
		return p.answer(context.WithoutCancel(ctx), req, generator)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		answer := *res.Val.(*rag.Answer)
		if res.Shared {
			p.logger.Debug("question_shared_with_concurrent_request", "provider", req.Provider)
		}
		return &answer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearCache drops every cached answer.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Clear(ctx)
}

// CacheStats returns response cache statistics. ok is false when caching
// is disabled.
func (p *Pipeline) CacheStats(ctx context.Context) (stats cache.Stats, ok bool) {
	if p.cache == nil {
		return cache.Stats{}, false
	}
	return p.cache.Stats(ctx), true
}

func (p *Pipeline) answer(ctx context.Context, req Request, generator llm.LLM) (*rag.Answer, error) {
	start := time.Now()
	requestID := uuid.New()
	logger := p.logger.With("request_id", requestID, "provider", req.Provider)

	ctx, span := p.tracer.Start(ctx, "answer_question", trace.WithAttributes(
		attribute.String("docqa.provider", req.Provider),
		attribute.Int("docqa.top_k_retrieval", req.TopKRetrieval),
		attribute.Int("docqa.top_k_final", req.TopKFinal),
		attribute.Bool("docqa.use_reranker", req.UseReranker),
	))
	defer span.End()

	cached, version := p.checkCache(ctx, req)
	if cached != nil {
		logger.Info("cache_hit", "outcome", cached.Outcome)
		span.SetAttributes(attribute.Bool("docqa.cache_hit", true))
		p.finish(ctx, requestID, req, cached, start)
		return cached, nil
	}

	// RETRIEVE
	retrieval, retrievalTime, err := p.retrieve(ctx, req)
	if err != nil {
		return nil, p.fail(ctx, logger, StageRetrieve, err)
	}
	logger.Info("candidates_retrieved",
		"hits", retrieval.Hits,
		"candidates", len(retrieval.Candidates),
		"missing_chunks", retrieval.Missing,
		"duration_ms", retrievalTime.Milliseconds())

	if retrieval.IndexEmpty {
		answer := nonAnswer(req, rag.OutcomeNoDocuments, rag.MessageNoDocuments)
		answer.Timings = rag.Timings{Retrieval: retrievalTime, Total: time.Since(start)}
		logger.Info("no_documents_indexed")
		p.finish(ctx, requestID, req, answer, start)
		return answer, nil
	}
	if len(retrieval.Candidates) == 0 {
		answer := nonAnswer(req, rag.OutcomeNoRelevantContent, rag.MessageNoRelevantContent)
		answer.Timings = rag.Timings{Retrieval: retrievalTime, Total: time.Since(start)}
		logger.Info("no_relevant_content", "min_score", req.MinScore, "hits", retrieval.Hits)
		p.finish(ctx, requestID, req, answer, start)
		return answer, nil
	}

	// RERANK
	sources, reranked, fellBack, rerankTime := p.rerank(ctx, req, retrieval.Candidates)

	// PROMPT
	_, promptSpan := p.tracer.Start(ctx, StagePrompt)
	prompt := rag.BuildPrompt(req.Query, sources)
	promptSpan.SetAttributes(attribute.Int("docqa.prompt_chars", len(prompt)))
	promptSpan.End()

	// GENERATE
	text, generationTime, err := p.generate(ctx, generator, prompt, req)
	if err != nil {
		return nil, p.fail(ctx, logger, StageGenerate, err)
	}

	// VERIFY
	_, verifySpan := p.tracer.Start(ctx, StageVerify)
	verification := rag.Verify(text, sources)
	verifySpan.SetAttributes(attribute.Float64("docqa.coverage", verification.Coverage))
	verifySpan.End()

	outcome := rag.OutcomeAnswered
	if rag.IsRefusal(text) {
		outcome = rag.OutcomeRefused
	}

	answer := &rag.Answer{
		Query:          req.Query,
		Text:           text,
		Sources:        sources,
		Outcome:        outcome,
		Success:        outcome == rag.OutcomeAnswered && !verification.Empty,
		Provider:       req.Provider,
		Verification:   verification,
		CandidateCount: len(retrieval.Candidates),
		Reranked:       reranked,
		RerankFallback: fellBack,
		Timings: rag.Timings{
			Retrieval:  retrievalTime,
			Rerank:     rerankTime,
			Generation: generationTime,
			Total:      time.Since(start),
		},
	}

	logger.Info("answer_generated",
		"outcome", outcome,
		"sources", len(sources),
		"reranked", reranked,
		"rerank_fallback", fellBack,
		"coverage", verification.Coverage,
		"generation_ms", generationTime.Milliseconds(),
		"duration_ms", answer.Timings.Total.Milliseconds())

	// CACHE_WRITE: refusals included; only the early exits above skip it.
	if p.cache != nil {
		_, writeSpan := p.tracer.Start(ctx, StageCacheWrite)
		stored := *answer
		p.cache.Store(ctx, req.Query, req.Provider, version, &stored)
		writeSpan.End()
	}

	p.finish(ctx, requestID, req, answer, start)
	return answer, nil
}

// checkCache returns a valid cached answer, or nil and the corpus version
// to store a fresh answer under.
func (p *Pipeline) checkCache(ctx context.Context, req Request) (*rag.Answer, string) {
	if p.cache == nil {
		return nil, ""
	}
	ctx, span := p.tracer.Start(ctx, StageCacheCheck)
	defer span.End()

	answer, version, ok := p.cache.Lookup(ctx, req.Query, req.Provider)
	span.SetAttributes(attribute.Bool("docqa.cache_hit", ok), attribute.String("docqa.corpus_version", version))
	if p.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		p.metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	}
	if !ok {
		return nil, version
	}
	return answer, version
}

func (p *Pipeline) retrieve(ctx context.Context, req Request) (*rag.Retrieval, time.Duration, error) {
	ctx, span := p.tracer.Start(ctx, StageRetrieve)
	defer span.End()

	retrieveCtx, cancel := context.WithTimeout(ctx, req.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	retrieval, err := p.retriever.Retrieve(retrieveCtx, req.Query, req.TopKRetrieval, req.MinScore)
	elapsed := time.Since(start)
	p.observe(StageRetrieve, elapsed)
	if err != nil {
		return nil, elapsed, err
	}

	span.SetAttributes(
		attribute.Int("docqa.hits", retrieval.Hits),
		attribute.Int("docqa.candidates", len(retrieval.Candidates)))
	if p.metrics != nil {
		p.metrics.CandidatesRetrieved.Observe(float64(len(retrieval.Candidates)))
	}
	return retrieval, elapsed, nil
}

func (p *Pipeline) rerank(ctx context.Context, req Request, candidates []rag.Candidate) (sources []rag.RankedResult, reranked, fellBack bool, elapsed time.Duration) {
	if !req.UseReranker || p.reranker == nil {
		return rag.FromCandidates(candidates, req.TopKFinal), false, false, 0
	}

	ctx, span := p.tracer.Start(ctx, StageRerank)
	defer span.End()

	start := time.Now()
	sources, fellBack = p.reranker.Rerank(ctx, req.Query, candidates, req.TopKFinal)
	elapsed = time.Since(start)
	p.observe(StageRerank, elapsed)

	span.SetAttributes(attribute.Bool("docqa.rerank_fallback", fellBack))
	if fellBack {
		span.SetStatus(codes.Error, "reranking failed, using bi-encoder order")
		if p.metrics != nil {
			p.metrics.RerankFallbacksTotal.Inc()
		}
	}
	return sources, !fellBack, fellBack, elapsed
}

func (p *Pipeline) generate(ctx context.Context, generator llm.LLM, prompt string, req Request) (string, time.Duration, error) {
	ctx, span := p.tracer.Start(ctx, StageGenerate, trace.WithAttributes(
		attribute.String("docqa.provider", generator.Name()),
		attribute.Float64("docqa.temperature", float64(req.Temperature))))
	defer span.End()

	genCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	text, err := generator.Generate(genCtx, prompt, llm.GenerateOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	elapsed := time.Since(start)
	p.observe(StageGenerate, elapsed)

	if err != nil {
		if ctxErr := genCtx.Err(); ctxErr != nil {
			return "", elapsed, fmt.Errorf("%w: %s after %s: %w", rag.ErrGenerationFailure, generator.Name(), req.Timeout, ctxErr)
		}
		return "", elapsed, fmt.Errorf("%w: %s: %w", rag.ErrGenerationFailure, generator.Name(), err)
	}
	return strings.TrimSpace(text), elapsed, nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, stage string, err error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")

	if p.metrics != nil {
		p.metrics.QueryErrorsTotal.WithLabelValues(stage).Inc()
	}
	logger.Error("question_failed", "stage", stage, "error", err)
	return &Error{Stage: stage, Err: err}
}

// finish records metrics and notifies recorders. Recorder failures are
// logged only.
func (p *Pipeline) finish(ctx context.Context, id uuid.UUID, req Request, answer *rag.Answer, start time.Time) {
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.QueriesTotal.WithLabelValues(string(answer.Outcome)).Inc()
		if !answer.CacheHit && answer.Timings.Generation > 0 {
			p.metrics.AnswerCoverage.Observe(answer.Verification.Coverage)
		}
	}
	if len(p.recorders) == 0 {
		return
	}

	rec := &repository.QueryRecord{
		ID:               id,
		Query:            req.Query,
		Provider:         req.Provider,
		Answer:           answer.Text,
		Outcome:          string(answer.Outcome),
		ChunksRetrieved:  len(answer.Sources),
		CacheHit:         answer.CacheHit,
		ProcessingTimeMS: elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}

	recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	for _, r := range p.recorders {
		if err := r.RecordQuery(recCtx, rec); err != nil {
			p.logger.Warn("query_record_failed", "request_id", id, "error", err)
		}
	}
}

func (p *Pipeline) observe(stage string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (p *Pipeline) fill(req Request) Request {
	req.Query = strings.TrimSpace(req.Query)
	if req.TopKRetrieval == 0 {
		req.TopKRetrieval = p.defaults.TopKRetrieval
	}
	if req.TopKFinal == 0 {
		req.TopKFinal = p.defaults.TopKFinal
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.defaults.MaxTokens
	}
	if req.Timeout == 0 {
		req.Timeout = p.defaults.Timeout
	}
	if req.RetrievalTimeout == 0 {
		req.RetrievalTimeout = p.defaults.RetrievalTimeout
	}
	return req
}

func validate(req Request) error {
	var errs []error
	if req.Query == "" {
		errs = append(errs, errors.New("query is required"))
	}
	if req.TopKRetrieval < 1 {
		errs = append(errs, fmt.Errorf("top_k_retrieval must be positive, got %d", req.TopKRetrieval))
	}
	if req.TopKFinal < 1 {
		errs = append(errs, fmt.Errorf("top_k_final must be positive, got %d", req.TopKFinal))
	}
	if req.MinScore < -1 || req.MinScore > 1 {
		errs = append(errs, fmt.Errorf("min_score must be within [-1, 1], got %g", req.MinScore))
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", req.Temperature))
	}
	if req.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative, got %d", req.MaxTokens))
	}
	if req.Timeout < 0 || req.RetrievalTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", rag.ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

func flightKey(req Request) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%g\x00%t\x00%g\x00%d\x00%s",
		cache.NormalizeQuery(req.Query), req.Provider,
		req.TopKRetrieval, req.TopKFinal, req.MinScore, req.UseReranker,
		req.Temperature, req.MaxTokens, req.Timeout)
}

// nonAnswer builds the answer for outcomes that never reach the model.
func nonAnswer(req Request, outcome rag.Outcome, message string) *rag.Answer {
	return &rag.Answer{
		Query:        req.Query,
		Text:         rag.RefusalText,
		Sources:      []rag.RankedResult{},
		Outcome:      outcome,
		Message:      message,
		Provider:     req.Provider,
		Verification: rag.Verify(rag.RefusalText, nil),
	}
}

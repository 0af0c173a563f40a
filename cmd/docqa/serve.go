package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/config"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/embedder"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/events"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/ingestion"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/llm"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/metrics"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository/memstore"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository/postgres"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/reranker"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/server"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/service"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/telemetry"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

const (
	shutdownTimeout = 30 * time.Second
	defaultJWTKey   = "change-this-in-production"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and gRPC health servers",
	Long: `Run the service. Configuration comes from environment variables and an
optional .env file in the working directory (see internal/config).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.SetDefault(newLogger(cfg, os.Stdout))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", cfg.OTelServiceName, "environment", cfg.Environment)
}

// closers runs cleanup functions in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// stores groups the persistence backends chosen by STORAGE_BACKEND.
type stores struct {
	docs    repository.DocumentStore
	chunks  repository.ChunkStore
	queries repository.QueryLog
	db      *postgres.DB
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	var cleanup closers
	defer cleanup.run()

	logger.Info("starting docqa",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"storage", cfg.StorageBackend,
		"vector_index", cfg.VectorBackend,
		"llm_provider", cfg.LLMProvider,
		"reranker", cfg.RerankerBackend,
		"cache", cfg.CacheBackend,
	)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.OTelServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	cleanup.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	})

	m := metrics.New(nil)

	st, err := openStores(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	embed, err := newEmbedder(cfg, &cleanup)
	if err != nil {
		return err
	}
	logger.Info("initialized embedder", "model", embed.ModelName(), "dimension", embed.Dimension())

	index, err := newIndex(cfg, st.db, &cleanup)
	if err != nil {
		return err
	}
	if err := index.Init(ctx, embed.Dimension()); err != nil {
		return fmt.Errorf("failed to initialize vector index: %w", err)
	}

	llms, err := llm.NewRegistryFromConfig(ctx, cfg.LLMProvider, llm.ProviderConfig{
		OllamaURL:       cfg.OllamaURL,
		OllamaModel:     cfg.OllamaLLMModel,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GeminiModel:     cfg.GeminiModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize LLM providers: %w", err)
	}
	logger.Info("initialized LLM providers", "providers", llms.Names(), "default", llms.DefaultName())

	opts := []service.PipelineOption{
		service.WithDefaults(service.Defaults{
			TopKRetrieval:    cfg.TopKRetrieval,
			TopKFinal:        cfg.TopKFinal,
			MinScore:         cfg.MinScore,
			UseReranker:      cfg.UseReranker,
			Temperature:      cfg.LLMTemperature,
			MaxTokens:        cfg.LLMMaxTokens,
			Timeout:          cfg.LLMTimeout,
			RetrievalTimeout: cfg.RetrievalTimeout,
		}),
		service.WithMetrics(m),
		service.WithLogger(logger),
		service.WithRecorders(st.queries),
	}
	if rr := newReranker(cfg, llms, logger); rr != nil {
		opts = append(opts, service.WithReranker(rr))
	}
	respCache, err := newResponseCache(ctx, cfg, st.docs, logger, &cleanup)
	if err != nil {
		return err
	}
	if respCache != nil {
		opts = append(opts, service.WithCache(respCache))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup.add(func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka publisher close failed", "error", err)
			}
		})
		opts = append(opts, service.WithRecorders(publisher))
		logger.Info("publishing query events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	retriever := rag.NewRetriever(embed, index, st.chunks, logger)
	pipeline := service.NewPipeline(retriever, llms, opts...)

	chunker := ingestion.NewChunker(ingestion.ChunkerConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	indexer := ingestion.NewIndexer(st.docs, st.chunks, embed, index, chunker,
		ingestion.WithMetrics(m), ingestion.WithLogger(logger))
	documents := service.NewDocumentService(st.docs, st.chunks, index, indexer)

	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		if cfg.JWTSecret == defaultJWTKey && cfg.Environment == "production" {
			logger.Warn("JWT_SECRET is the built-in default; admin tokens are forgeable")
		}
		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Expiry = cfg.JWTExpiry
		jwtManager = auth.NewJWTManager(jwtCfg)
	}
	authn := auth.NewAuthenticator(cfg.AdminAPIKey, jwtManager, logger)

	checks := map[string]server.ReadinessCheck{
		"vector_index": func(ctx context.Context) error {
			_, err := index.Count(ctx)
			return err
		},
	}
	if st.db != nil {
		checks["database"] = st.db.Ping
	}

	grpcServer := server.NewGRPCServer(server.GRPCServerConfig{Port: cfg.GRPCPort, Logger: logger})
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		QueryRateLimit: cfg.QueryRateLimit,
		QueryRateBurst: cfg.QueryRateBurst,
	}, server.Handlers{
		Pipeline:  pipeline,
		Documents: documents,
		Queries:   st.queries,
		Auth:      authn,
		Metrics:   m,
		Checks:    checks,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	grpcServer.SetServing(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	grpcServer.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("servers stopped")
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, cleanup *closers) (*stores, error) {
	if cfg.StorageBackend == "memory" {
		s := memstore.New()
		slog.Warn("using in-memory storage; documents are lost on restart")
		return &stores{docs: s, chunks: s, queries: s}, nil
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{Vector: cfg.VectorBackend == "pgvector"})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.add(db.Close)
	if err := db.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	slog.Info("connected to PostgreSQL")

	return &stores{
		docs:    postgres.NewDocumentRepo(db),
		chunks:  postgres.NewChunkRepo(db),
		queries: postgres.NewQueryRepo(db),
		db:      db,
	}, nil
}

func newEmbedder(cfg *config.Config, cleanup *closers) (embedder.Embedder, error) {
	if cfg.EmbeddingProvider == "hugot" {
		e, err := embedder.NewHugotEmbedder(embedder.HugotConfig{Model: cfg.HugotModel, ModelDir: cfg.HugotModelDir})
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding model: %w", err)
		}
		cleanup.add(func() { _ = e.Close() })
		return e, nil
	}
	return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.OllamaEmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   cfg.RetrievalTimeout,
	}), nil
}

func newIndex(cfg *config.Config, db *postgres.DB, cleanup *closers) (vectorstore.Index, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		q, err := vectorstore.NewQdrantIndex(cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		cleanup.add(func() { _ = q.Close() })
		slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)
		return q, nil
	case "pgvector":
		return vectorstore.NewPgVectorIndex(db.Pool), nil
	default:
		return vectorstore.NewMemoryIndex(), nil
	}
}

// newReranker returns nil when reranking is disabled.
func newReranker(cfg *config.Config, llms *llm.Registry, logger *slog.Logger) *rag.Reranker {
	var model reranker.CrossEncoder
	switch cfg.RerankerBackend {
	case "http":
		model = reranker.NewHTTPCrossEncoder(cfg.RerankerURL, cfg.RerankerModel, cfg.RerankerTimeout, nil, logger)
	case "llm":
		scorer, err := llms.Get("")
		if err != nil {
			return nil
		}
		model = reranker.NewLLMScorer(scorer)
	default:
		return nil
	}
	logger.Info("initialized reranker", "model", model.ModelName())
	return rag.NewReranker(model, cfg.RerankerTimeout, logger)
}

func newResponseCache(ctx context.Context, cfg *config.Config, versions cache.VersionSource, logger *slog.Logger, cleanup *closers) (*cache.ResponseCache, error) {
	var backend cache.Backend
	switch cfg.CacheBackend {
	case "none":
		return nil, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		cleanup.add(func() { _ = rdb.Close() })
		backend = cache.NewRedisBackend(rdb, cfg.CacheTTL, cfg.CacheMaxEntries)
	default:
		mem, err := cache.NewMemoryBackend(cfg.CacheMaxEntries)
		if err != nil {
			return nil, err
		}
		backend = mem
	}
	logger.Info("initialized response cache",
		"backend", cfg.CacheBackend,
		"ttl", cfg.CacheTTL.String(),
		"max_entries", cfg.CacheMaxEntries)
	return cache.New(backend, versions, cfg.CacheTTL, cfg.CacheMaxEntries, cache.WithLogger(logger)), nil
}

// Package sagesvc provides the sage service server implementation.
package sagesvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/sage/biz"
	"github.com/kart-io/sage/internal/sage/handler"
	"github.com/kart-io/sage/internal/sage/metrics"
	"github.com/kart-io/sage/internal/sage/router"
	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/component/milvus"
	"github.com/kart-io/sage/pkg/infra/app"
	"github.com/kart-io/sage/pkg/infra/pool"
	"github.com/kart-io/sage/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/sage/pkg/llm/gemini"
	_ "github.com/kart-io/sage/pkg/llm/ollama"
	_ "github.com/kart-io/sage/pkg/llm/openai"
	llmopts "github.com/kart-io/sage/pkg/options/llm"
	logopts "github.com/kart-io/sage/pkg/options/logger"
	milvusopts "github.com/kart-io/sage/pkg/options/milvus"
	redisopts "github.com/kart-io/sage/pkg/options/redis"
	sageopts "github.com/kart-io/sage/pkg/options/sage"
	httpopts "github.com/kart-io/sage/pkg/options/server/http"
	goredis "github.com/redis/go-redis/v9"
)

// Name is the name of the application.
const Name = "sage"

// metricsNamespace prefixes the exported counters.
const metricsNamespace = "sage"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	MilvusOptions    *milvusopts.Options
	RedisOptions     *redisopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	SageOptions      *sageopts.Options
}

// Server represents the sage server.
type Server struct {
	srv             *http.Server
	service         *biz.Service
	background      *pool.Pool
	shutdownTimeout time.Duration
	closers         []func()
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	s := &Server{shutdownTimeout: cfg.HTTPOptions.ShutdownTimeout}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	// 1. 初始化日志
	if err := cfg.LogOptions.Init("service.name", Name, "service.version", app.GetVersion()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting sage service...")

	// 2. 初始化 Redis 客户端（Embedding 缓存与画像存储共用）
	var redisClient *goredis.Client
	if cfg.SageOptions.NeedsRedis() {
		client, err := cfg.RedisOptions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		redisClient = client
		s.closers = append(s.closers, func() { _ = client.Close() })
		logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
	}

	// 3. 初始化 LLM 供应商
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if cfg.SageOptions.EmbeddingCache {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, cfg.EmbeddingOptions.Model, &llm.EmbeddingCacheConfig{
			TTL:       cfg.SageOptions.EmbeddingCacheTTL,
			KeyPrefix: llm.DefaultEmbeddingCacheConfig().KeyPrefix,
		})
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
		"cache.enabled", cfg.SageOptions.EmbeddingCache,
	)

	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	// 4. 初始化 Store 层
	index, err := cfg.newVectorIndex(ctx, s)
	if err != nil {
		return nil, err
	}
	profiles, err := cfg.newProfileStore(redisClient)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = profiles.Close() })
	queryLog := store.NewEventLog[model.QueryLog](cfg.SageOptions.QueryLogPath)
	feedbackLog := store.NewEventLog[model.FeedbackLog](cfg.SageOptions.FeedbackLogPath)
	logger.Infow("Stores initialized",
		"vector_backend", cfg.SageOptions.VectorBackend,
		"profile_backend", cfg.SageOptions.ProfileBackend,
	)

	// 5. 初始化协程池
	s.background, err = pool.NewPool("sage-background", pool.BackgroundPool, pool.BackgroundPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create background pool: %w", err)
	}
	embedCfg := pool.EmbedPoolConfig()
	embedCfg.Capacity = cfg.SageOptions.EmbedConcurrency
	embedPool, err := pool.NewPool("sage-embed", pool.EmbedPool, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embed pool: %w", err)
	}
	s.closers = append(s.closers, embedPool.Release)

	// 6. 初始化 Biz 层
	systemPrompt, err := biz.LoadSystemPrompt(cfg.SageOptions.SystemPromptFile, cfg.SageOptions.FewShotFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load system prompt: %w", err)
	}
	sageMetrics := metrics.New()
	bizCfg := biz.NewConfig(cfg.SageOptions)
	bizCfg.EmbeddingProvider = cfg.EmbeddingOptions.Provider
	bizCfg.EmbeddingModel = cfg.EmbeddingOptions.Model
	s.service = biz.NewService(bizCfg, biz.Deps{
		Index:        index,
		Embedder:     embedProvider,
		Chat:         chatProvider,
		Profiles:     profiles,
		QueryLog:     queryLog,
		FeedbackLog:  feedbackLog,
		Metrics:      sageMetrics,
		EmbedPool:    embedPool,
		SystemPrompt: systemPrompt,
	})
	logger.Infow("Sage service initialized",
		"knowledge_base", cfg.SageOptions.KnowledgeBasePath,
		"retrieval.top_k", cfg.SageOptions.RetrievalTopK,
		"recommendations.max", cfg.SageOptions.MaxRecommendations,
	)

	// 7. 初始化 Handler 层与路由
	sageHandler := handler.NewSageHandler(s.service, sageMetrics, metricsNamespace)
	engine := router.NewEngine(cfg.HTTPOptions.Mode)
	router.Register(engine, sageHandler)

	// 8. 初始化服务器
	s.srv = &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	ok = true
	return s, nil
}

func (cfg *Config) newVectorIndex(ctx context.Context, s *Server) (store.VectorIndex, error) {
	if cfg.SageOptions.VectorBackend != sageopts.VectorBackendMilvus {
		return store.NewFlatIndex(cfg.SageOptions.IndexPath), nil
	}

	client, err := milvus.New(ctx, cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close(context.Background()) })
	logger.Infow("Milvus client initialized",
		"address", cfg.MilvusOptions.Address,
		"collection", cfg.MilvusOptions.Collection,
	)
	return store.NewMilvusIndex(client, cfg.MilvusOptions.Collection), nil
}

func (cfg *Config) newProfileStore(redisClient *goredis.Client) (store.ProfileStore, error) {
	switch cfg.SageOptions.ProfileBackend {
	case sageopts.ProfileBackendRedis:
		return store.NewRedisProfileStore(redisClient, nil), nil
	case sageopts.ProfileBackendSQLite:
		st, err := store.OpenSQLiteProfileStore(cfg.SageOptions.ProfileDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile database: %w", err)
		}
		return st, nil
	default:
		st, err := store.OpenFileProfileStore(cfg.SageOptions.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile file: %w", err)
		}
		return st, nil
	}
}

// Run starts knowledge base initialization in the background, serves HTTP
// and shuts down gracefully when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	s.service.Start(ctx, s.background)

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, open := <-errCh:
		if open {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down sage service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (s *Server) close() {
	if s.background != nil {
		if err := s.background.ReleaseTimeout(s.shutdownTimeout); err != nil {
			logger.Warnw("Background pool did not drain", "error", err.Error())
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	_ = logger.Flush()
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s %s...\n", Name, app.GetVersion())
	fmt.Printf("  HTTP: %s\n", cfg.HTTPOptions.Addr)
	fmt.Printf("  Knowledge base: %s\n", cfg.SageOptions.KnowledgeBasePath)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Vector backend: %s, profile backend: %s\n", cfg.SageOptions.VectorBackend, cfg.SageOptions.ProfileBackend)
}

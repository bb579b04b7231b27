package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"enterprisesearch/internal/ratelimit"
	"enterprisesearch/internal/usertoken"
	"enterprisesearch/internal/util"
	"enterprisesearch/pkg/ai"
	"enterprisesearch/pkg/ingest"
	"enterprisesearch/pkg/queue"
	"enterprisesearch/pkg/rag"
	"enterprisesearch/pkg/storage"
	"enterprisesearch/pkg/store"
	"enterprisesearch/pkg/vector"
	"enterprisesearch/services/search/internal/app"
	"enterprisesearch/services/search/internal/config"
	"enterprisesearch/services/search/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("parse jwt leeway: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("init token verifier: %v", err)
	}

	embedder, generator, err := buildAI(cfg)
	if err != nil {
		log.Fatalf("init ai clients: %v", err)
	}

	provider, err := buildVectorProvider(cfg, embedder.Dimension())
	if err != nil {
		log.Fatalf("init vector provider: %v", err)
	}
	index, err := vector.NewManager(vector.ManagerConfig{
		Provider:   provider,
		Dimension:  embedder.Dimension(),
		MaxIndexes: cfg.MaxIndexes,
	})
	if err != nil {
		log.Fatalf("init vector manager: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}

	pipeline, err := ingest.NewPipeline(ingest.PipelineConfig{
		Embedder:     embedder,
		Index:        index,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		log.Fatalf("init ingestion pipeline: %v", err)
	}
	retriever, err := rag.NewRetriever(rag.RetrieverConfig{
		Embedder: embedder,
		Index:    index,
		TopK:     cfg.TopK,
	})
	if err != nil {
		log.Fatalf("init retriever: %v", err)
	}
	guard, err := rag.NewGuard(rag.GuardConfig{
		Retriever:          retriever,
		RelevanceThreshold: cfg.RelevanceThreshold,
		AllowedTopics:      cfg.AllowedTopics,
	})
	if err != nil {
		log.Fatalf("init intent guard: %v", err)
	}
	answerer, err := rag.NewAnswerer(rag.AnswererConfig{Generator: generator})
	if err != nil {
		log.Fatalf("init answerer: %v", err)
	}

	cleanup, err := queue.NewRedisCleanupQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.CleanupStream,
	})
	if err != nil {
		log.Fatalf("init cleanup queue: %v", err)
	}

	application, err := app.New(app.Config{
		Store:             st,
		Objects:           objects,
		Index:             index,
		Pipeline:          pipeline,
		Retriever:         retriever,
		Guard:             guard,
		Answerer:          answerer,
		Cleanup:           cleanup,
		TopK:              cfg.TopK,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	cleanup.Start(context.Background(), 2, application.CleanupHandler())

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.ChatRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.ChatRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("init rate limiter: %v", err)
		}
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("parse trusted proxies: %v", err)
	}

	srv, err := server.New(server.Config{
		App:            application,
		Verifier:       verifier,
		ChatLimiter:    limiter,
		TrustedProxies: proxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("search service listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}

func buildAI(cfg config.FileConfig) (ai.Embedder, ai.TextGenerator, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		client, err := ai.NewOpenAICompatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, nil, err
		}
		return ai.NewOpenAICompatEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim),
			ai.NewOpenAICompatGenerator(client, cfg.GenerationModel), nil
	default:
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim),
			ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	}
}

func buildVectorProvider(cfg config.FileConfig, dimension int) (vector.Provider, error) {
	switch cfg.VectorProvider {
	case "pgvector":
		return vector.NewPgVectorProvider(cfg.DatabaseURL, dimension)
	case "memory":
		return vector.NewMemoryProvider(), nil
	default:
		return vector.NewPineconeProvider(vector.PineconeConfig{
			APIKey: cfg.PineconeAPIKey,
			Cloud:  cfg.PineconeCloud,
			Region: cfg.PineconeRegion,
		})
	}
}

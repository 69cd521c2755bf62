package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/madoguchi-ai/madoguchi/internal/auth"
	"github.com/madoguchi-ai/madoguchi/internal/billing"
	"github.com/madoguchi-ai/madoguchi/internal/classify"
	"github.com/madoguchi-ai/madoguchi/internal/config"
	"github.com/madoguchi-ai/madoguchi/internal/dispatch"
	"github.com/madoguchi-ai/madoguchi/internal/embedding"
	"github.com/madoguchi-ai/madoguchi/internal/engine"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/model"
	"github.com/madoguchi-ai/madoguchi/internal/ratelimit"
	"github.com/madoguchi-ai/madoguchi/internal/route"
	"github.com/madoguchi-ai/madoguchi/internal/server"
	"github.com/madoguchi-ai/madoguchi/internal/session"
	"github.com/madoguchi-ai/madoguchi/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	hashKey := flag.String("hash-key", "", "print the argon2id hash of an API key and exit")
	flag.Parse()

	if *hashKey != "" {
		encoded, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(encoded)
		return 0
	}

	level := slog.LevelInfo
	if os.Getenv("MADOGUCHI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// .env is a dev convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("madoguchi starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	embedder := newEmbeddingProvider(cfg, logger)
	classifier, classifierName := newClassifier(cfg, logger)

	// Similarity index (optional — disabled when QDRANT_URL is empty; the
	// gate then reports insufficient evidence for every query).
	var idx index.Index
	var qdrantIdx *index.QdrantIndex
	if cfg.QdrantURL != "" {
		qdrantIdx, err = index.NewQdrantIndex(index.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, embedder, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIdx.Close() }()

		if err := qdrantIdx.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		idx = qdrantIdx
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Session store: sqlite when a path is configured, in-memory otherwise.
	var store session.Store
	if cfg.SessionDBPath != "" {
		sqliteStore, err := session.NewSQLiteStore(cfg.SessionDBPath)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer func() { _ = sqliteStore.Close() }()
		store = sqliteStore
		logger.Info("session store: sqlite", "path", cfg.SessionDBPath)
	} else {
		store = session.NewMemoryStore()
		logger.Info("session store: memory (sessions lost on restart)")
	}

	g := gate.New(idx, gate.Config{
		FetchK:          cfg.GateFetchK,
		TopK:            cfg.GateTopK,
		Lambda:          cfg.GateLambda,
		MinHits:         cfg.GateMinHits,
		ScoreThreshold:  cfg.GateScoreThreshold,
		RetrieveTimeout: cfg.RetrieveTimeout,
	}, logger)

	eng, err := engine.New(engine.Config{
		Route: route.Config{
			StrongConfidence: cfg.StrongConfidence,
			MediumConfidence: cfg.MediumConfidence,
			ContextWindow:    cfg.ContextWindow,
		},
		ClassifyTimeout: cfg.ClassifyTimeout,
		MaxHistory:      cfg.MaxHistory,
	}, engine.Deps{
		Classifier: classifier,
		Gate:       g,
		Store:      store,
		Specialists: map[model.Route]dispatch.Specialist{
			model.RouteTechnical: dispatch.NewTechnical(),
			model.RouteBilling:   dispatch.NewBilling(billing.NewService()),
			model.RouteFallback:  dispatch.NewFallback(),
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory token bucket", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	if cfg.APIKeyHash == "" {
		logger.Warn("auth: disabled (no MADOGUCHI_API_KEY_HASH)")
	}

	srv := server.New(server.ServerConfig{
		Engine:              eng,
		Gate:                g,
		Store:               store,
		Logger:              logger,
		Index:               idx,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Classifier:          classifierName,
		APIKeyHash:          cfg.APIKeyHash,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("madoguchi shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("madoguchi stopped")
	return nil
}

// newClassifier selects the classification backend: "openai", "static",
// or "auto" (OpenAI when a key is present, keyword heuristic otherwise).
// The returned label names the chosen backend for the health endpoint.
func newClassifier(cfg config.Config, logger *slog.Logger) (classify.Classifier, string) {
	switch cfg.ClassifierProvider {
	case "openai":
		c, err := classify.NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.ClassifierModel)
		if err != nil {
			logger.Error("openai classifier init failed, using static", "error", err)
			return classify.NewStaticClassifier(), "static"
		}
		logger.Info("classifier: openai", "model", cfg.ClassifierModel)
		return c, "openai"

	case "static":
		logger.Info("classifier: static keyword heuristic")
		return classify.NewStaticClassifier(), "static"

	default:
		if cfg.OpenAIAPIKey != "" {
			c, err := classify.NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.ClassifierModel)
			if err == nil {
				logger.Info("classifier: openai (auto-detected)", "model", cfg.ClassifierModel)
				return c, "openai"
			}
			logger.Error("openai classifier init failed, using static", "error", err)
		}
		logger.Warn("classifier: static keyword heuristic (no OPENAI_API_KEY)")
		return classify.NewStaticClassifier(), "static"
	}
}

// newEmbeddingProvider selects the embedding backend: "openai", "noop",
// or "auto". Without a usable provider every similarity search returns
// nothing and technical turns fall back to clarification.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai embedding init failed, using noop", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return p

	case "noop":
		logger.Info("embedding provider: noop (retrieval disabled)")
		return embedding.NewNoopProvider(dims)

	default:
		if cfg.OpenAIAPIKey != "" {
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			if err == nil {
				logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
				return p
			}
			logger.Error("openai embedding init failed, using noop", "error", err)
		}
		logger.Warn("embedding provider: noop (no OPENAI_API_KEY, retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

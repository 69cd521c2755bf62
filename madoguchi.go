// Package madoguchi is the public API for embedding the support-turn
// routing service.
//
// Consumers import this package to construct and extend the server
// without forking it:
//
//	app, err := madoguchi.New(
//	    madoguchi.WithVersion(version),
//	    madoguchi.WithLogger(logger),
//	    madoguchi.WithClassifier(myClassifier),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: madoguchi (root)
// imports internal/*, but internal/* never imports the root. Public
// types (Turn, ClassificationResult) are standalone structs; the
// adapters bridging them to internal types live here because this is
// the only file that sees both sides of the boundary.
package madoguchi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

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

// App is the assembled service. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	srv          *server.Server
	qdrantIdx    *index.QdrantIndex // nil when Qdrant is not configured
	sqliteStore  *session.SQLiteStore
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration from the environment and wires all
// subsystems. It does not start goroutines or accept connections —
// call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}

	logger := o.logger
	if logger == nil {
		level := slog.LevelInfo
		if cfg.LogLevel == "debug" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	embedder := app.newEmbedder(o.embedder)
	classifier, classifierName := app.newClassifier(o.classifier)

	var idx index.Index
	if cfg.QdrantURL != "" {
		app.qdrantIdx, err = index.NewQdrantIndex(index.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := app.qdrantIdx.EnsureCollection(context.Background()); err != nil {
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		idx = app.qdrantIdx
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	var store session.Store
	if cfg.SessionDBPath != "" {
		app.sqliteStore, err = session.NewSQLiteStore(cfg.SessionDBPath)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		store = app.sqliteStore
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
		return nil, fmt.Errorf("engine: %w", err)
	}

	if cfg.RateLimitEnabled {
		app.limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: memory token bucket", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		app.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	if cfg.APIKeyHash == "" {
		logger.Warn("auth: disabled (no MADOGUCHI_API_KEY_HASH)")
	}

	app.srv = server.New(server.ServerConfig{
		Engine:              eng,
		Gate:                g,
		Store:               store,
		Logger:              logger,
		Index:               idx,
		Limiter:             app.limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Classifier:          classifierName,
		APIKeyHash:          cfg.APIKeyHash,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return app, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("madoguchi starting", "version", a.version, "port", a.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.Close()
		return err
	}

	a.logger.Info("madoguchi shutting down")
	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.Close()
	a.logger.Info("madoguchi stopped")
	return nil
}

// Handler exposes the root HTTP handler for embedding into an existing
// server or for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Close releases all resources. Run calls it on the way out; call it
// directly only when New succeeded but Run was never invoked.
func (a *App) Close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.sqliteStore != nil {
		_ = a.sqliteStore.Close()
	}
	if a.qdrantIdx != nil {
		_ = a.qdrantIdx.Close()
	}
	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(shutdownCtx)
	}
}

// newClassifier resolves the classifier: an injected implementation
// wins, then "openai"/"static"/"auto" from config. The label names the
// chosen backend for the health endpoint.
func (a *App) newClassifier(injected Classifier) (classify.Classifier, string) {
	if injected != nil {
		a.logger.Info("classifier: injected implementation")
		return classifierAdapter{injected}, "custom"
	}

	switch a.cfg.ClassifierProvider {
	case "static":
		a.logger.Info("classifier: static keyword heuristic")
		return classify.NewStaticClassifier(), "static"
	case "openai", "auto":
		if a.cfg.OpenAIAPIKey != "" {
			c, err := classify.NewOpenAIClassifier(a.cfg.OpenAIAPIKey, a.cfg.ClassifierModel)
			if err == nil {
				a.logger.Info("classifier: openai", "model", a.cfg.ClassifierModel)
				return c, "openai"
			}
			a.logger.Error("openai classifier init failed, using static", "error", err)
		}
	}
	a.logger.Warn("classifier: static keyword heuristic (no OPENAI_API_KEY)")
	return classify.NewStaticClassifier(), "static"
}

// newEmbedder resolves the embedding backend the same way.
func (a *App) newEmbedder(injected EmbeddingProvider) embedding.Provider {
	if injected != nil {
		a.logger.Info("embedding provider: injected implementation")
		return injected
	}

	dims := a.cfg.EmbeddingDimensions
	switch a.cfg.EmbeddingProvider {
	case "noop":
		a.logger.Info("embedding provider: noop (retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	case "openai", "auto":
		if a.cfg.OpenAIAPIKey != "" {
			p, err := embedding.NewOpenAIProvider(a.cfg.OpenAIAPIKey, a.cfg.EmbeddingModel, dims)
			if err == nil {
				a.logger.Info("embedding provider: openai", "model", a.cfg.EmbeddingModel, "dimensions", dims)
				return p
			}
			a.logger.Error("openai embedding init failed, using noop", "error", err)
		}
	}
	a.logger.Warn("embedding provider: noop (no OPENAI_API_KEY, retrieval disabled)")
	return embedding.NewNoopProvider(dims)
}

// classifierAdapter bridges a public Classifier to the internal
// interface.
type classifierAdapter struct {
	c Classifier
}

func (a classifierAdapter) Classify(ctx context.Context, message string, recent []model.Turn) (model.ClassificationResult, error) {
	turns := make([]Turn, 0, len(recent))
	for _, t := range recent {
		turns = append(turns, Turn{Speaker: Speaker(t.Speaker), Text: t.Text})
	}
	res, err := a.c.Classify(ctx, message, turns)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return model.ClassificationResult{
		Category:   model.Category(res.Category),
		Confidence: res.Confidence,
		Rationale:  res.Rationale,
	}, nil
}

// Package server implements the HTTP API for the support-turn service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/madoguchi-ai/madoguchi/internal/engine"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/ratelimit"
	"github.com/madoguchi-ai/madoguchi/internal/session"
)

// ServerConfig holds dependencies and settings for creating a Server.
// Optional fields (nil-safe): Index, Limiter.
type ServerConfig struct {
	Engine *engine.Engine
	Gate   *gate.Gate
	Store  session.Store
	Logger *slog.Logger

	Index   index.Index
	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	Classifier          string
	APIKeyHash          string
	MaxRequestBodyBytes int64
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates a server with all routes and middleware configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Gate:                cfg.Gate,
		Store:               cfg.Store,
		Index:               cfg.Index,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		Classifier:          cfg.Classifier,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", h.HandleCreateTurn)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.HandleGetSession)
	mux.HandleFunc("POST /v1/retrieve", h.HandleRetrieve)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain, outermost first:
	// request ID → tracing → logging → auth → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rateLimitMiddleware(cfg.Limiter, cfg.Logger, handler)
	handler = authMiddleware(cfg.APIKeyHash, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

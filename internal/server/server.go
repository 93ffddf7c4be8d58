// Package server exposes the execution core over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/server/handler"
	"github.com/alanyoungcy/smartexec/internal/server/middleware"
	"github.com/alanyoungcy/smartexec/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables authentication when set.
	APIKey string
	// RateLimit caps requests per client IP per RateWindow; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health       *handler.HealthHandler
	Execute      *handler.ExecuteHandler
	Transactions *handler.TransactionHandler
	Protections  *handler.ProtectionHandler
	Stats        *handler.StatsHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first. limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Routes(cfg, h, hub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the handler tree without binding a listener.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/execute", h.Execute.Execute)

	mux.HandleFunc("GET /api/transactions", h.Transactions.List)
	mux.HandleFunc("POST /api/transactions", h.Transactions.Create)
	mux.HandleFunc("POST /api/transactions/{id}/execute", h.Transactions.Execute)
	mux.HandleFunc("GET /api/transactions/{id}", h.Transactions.Get)
	mux.HandleFunc("DELETE /api/transactions/{id}", h.Transactions.Cancel)

	mux.HandleFunc("POST /api/protections", h.Protections.Create)
	mux.HandleFunc("GET /api/protections", h.Protections.List)
	mux.HandleFunc("GET /api/protections/{id}", h.Protections.Get)
	mux.HandleFunc("DELETE /api/protections/{id}", h.Protections.Cancel)

	mux.HandleFunc("GET /api/stats", h.Stats.Stats)
	mux.HandleFunc("GET /api/stats/venues", h.Stats.Venues)
	mux.HandleFunc("GET /api/stats/policy", h.Stats.Policy)
	mux.HandleFunc("GET /api/stats/tca", h.Stats.TCA)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health")(root)
	root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests up to the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Package server is the HTTP and websocket API of the settlement engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/server/handler"
	"github.com/alanyoungcy/yieldbet/internal/server/middleware"
	"github.com/alanyoungcy/yieldbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// APIKey guards pool creation. Empty disables the check. Resolution is
	// open to any caller.
	APIKey string

	Signatures middleware.SignatureConfig

	// RateLimit is requests per RateWindow per client. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Pools    *handler.PoolHandler
	Accounts *handler.AccountHandler
}

// Server is the headless HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain:
// CORS, logging, identity, then rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	operator := middleware.APIKey(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.Handle("POST /api/pools", operator(http.HandlerFunc(handlers.Pools.CreatePool)))
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{pool}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{pool}/bets", handlers.Pools.PlaceBet)
	mux.HandleFunc("POST /api/pools/{pool}/tickets/{id}/withdraw", handlers.Pools.Withdraw)
	mux.HandleFunc("POST /api/pools/{pool}/tickets/{id}/transfer", handlers.Pools.Transfer)
	mux.HandleFunc("GET /api/pools/{pool}/tickets/{id}", handlers.Pools.GetTicket)
	mux.HandleFunc("GET /api/pools/{pool}/tickets/{id}/owner", handlers.Pools.GetOwner)
	mux.HandleFunc("GET /api/pools/{pool}/accounts/{account}/tickets", handlers.Pools.ListAccountTickets)
	mux.HandleFunc("POST /api/pools/{pool}/resolve", handlers.Pools.Resolve)
	mux.HandleFunc("GET /api/pools/{pool}/events", handlers.Pools.ListEvents)

	mux.HandleFunc("GET /api/accounts/{account}", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{account}/faucet", handlers.Accounts.Faucet)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Identity(cfg.Signatures)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

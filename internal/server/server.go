package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/server/handler"
	"github.com/predictlabs/settled/internal/server/middleware"
	"github.com/predictlabs/settled/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminTokenHash is the bcrypt hash guarding admin endpoints; empty
	// disables the token check (command signatures still apply).
	AdminTokenHash string
	// RateLimitPerMinute caps command requests per client; zero disables.
	RateLimitPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Admin  *handler.AdminHandler
	Events *handler.EventHandler
	Bets   *handler.BetHandler
	Ledger *handler.LedgerHandler
}

// Server is the HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting) and attaches the
// WebSocket hub. limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Commands are rate limited per client; queries are not.
	limited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.RateLimitPerMinute <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}

	// Admin endpoints additionally require the operator token.
	adminAuth := middleware.Auth(cfg.AdminTokenHash)
	admin := func(h http.HandlerFunc) http.Handler {
		return adminAuth(limited(h))
	}

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Admin endpoints.
	mux.Handle("POST /api/admin/initialize", admin(handlers.Admin.Initialize))
	mux.Handle("POST /api/events/{id}/withdraw", admin(handlers.Admin.EmergencyWithdraw))
	mux.Handle("POST /api/events", admin(handlers.Events.CreateEvent))
	mux.Handle("POST /api/events/{id}/resolve", admin(handlers.Events.ResolveEvent))

	// Bettor commands.
	mux.Handle("POST /api/bets", limited(handlers.Bets.PlaceBet))
	mux.Handle("POST /api/bets/{id}/claim", limited(handlers.Bets.ClaimWinnings))

	// Query endpoints.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/bets", handlers.Events.ListEventBets)
	mux.HandleFunc("GET /api/events/{id}/pool", handlers.Events.GetPool)
	mux.HandleFunc("GET /api/events/{id}/movements", handlers.Ledger.ListMovements)
	mux.HandleFunc("GET /api/events/{id}/solvency", handlers.Ledger.GetSolvency)
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

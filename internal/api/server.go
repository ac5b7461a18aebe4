// Package api exposes the chatbot over HTTP.
//
// Endpoints:
//
//	POST /api/ask             → question answering (SSE stream or no-match JSON)
//	POST /api/hooks/entry     → content mutation webhook (202, async indexing)
//	GET  /api/admin/settings  → current chatbot settings
//	PUT  /api/admin/settings  → replace chatbot settings
//	GET  /health              → liveness probe
//	GET  /ready               → readiness probe
//
// Middleware order: recovery → logging → rate limit → handler.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to shut out slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout must cover a full answer stream, which is bounded by the
	// ask pipeline's own timeout.
	WriteTimeout = 60 * time.Second

	// IdleTimeout applies to keep-alive connections between requests.
	IdleTimeout = 120 * time.Second
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// RateLimit is the sustained request rate allowed per process;
	// RateBurst is the bucket size. A zero RateLimit disables limiting.
	RateLimit float64
	RateBurst int
}

// Server routes chatbot endpoints. Create with NewServer.
type Server struct {
	mux     *http.ServeMux
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewServer registers all routes. Handlers with a nil dependency are not
// registered, so a partially-wired server (tests, the reindex command's dry
// probe) still serves health checks.
func NewServer(cfg ServerConfig, ask *AskHandler, hooks *EntryHookHandler,
	admin *SettingsHandler, health *HealthHandler, logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	if health != nil {
		health.RegisterRoutes(mux)
	}
	if ask != nil {
		ask.RegisterRoutes(mux)
	}
	if hooks != nil {
		hooks.RegisterRoutes(mux)
	}
	if admin != nil {
		admin.RegisterRoutes(mux)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.limiter),
	)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

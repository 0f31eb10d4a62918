// Package api exposes the query engine over HTTP.
//
// Endpoints:
//
//	POST /api/query          answer a question over the user's records
//	POST /api/query/history  same, with prior conversation turns
//	POST /api/query/scoped   restricted to a data type or activity
//	POST /api/circles/query  over a circle's shared records
//	GET  /health             liveness probe
//	GET  /ready              readiness probe (checks the database)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery, logging, rate limiting
//   - query.go: query endpoints
//   - health.go: probes
//   - response.go: JSON helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 60 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Config holds the server's tunables.
type Config struct {
	// RateLimitRPS is the per-IP sustained request rate. Zero disables
	// rate limiting.
	RateLimitRPS int

	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int

	// TrustProxy enables X-Real-IP / X-Forwarded-For client addressing.
	TrustProxy bool
}

// Server is the HTTP server for the query API.
type Server struct {
	mux     *http.ServeMux
	cfg     Config
	logger  *slog.Logger
	limiter *rateLimiter
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config, svc QueryService, pinger Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, cfg: cfg, logger: logger}

	if cfg.RateLimitRPS > 0 {
		s.limiter = newRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	newQueryHandler(svc, logger).RegisterRoutes(mux)
	newHealthHandler(pinger).RegisterRoutes(mux)

	return s
}

// Handler returns the handler with middleware applied. Order outermost
// to innermost: recovery, logging, rate limiting.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.limiter != nil {
		h = rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.logger)(h)
	}
	return chain(h,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the server and blocks until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

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
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

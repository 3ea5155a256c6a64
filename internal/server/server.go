// Package server assembles the warden HTTP surface: health and version
// endpoints plus the /v1 job lifecycle API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/warden/internal/errors"
	"github.com/3leaps/warden/internal/observability"
	"github.com/3leaps/warden/internal/server/handlers"
	"github.com/3leaps/warden/internal/server/middleware"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the warden HTTP server.
type Server struct {
	cfg     Config
	router  chi.Router
	health  *handlers.HealthManager
	version handlers.VersionInfo
}

// Option customizes the route tree before it is assembled.
type Option func(*Server)

// WithJobsAPI mounts the job lifecycle API under /v1.
func WithJobsAPI(api *handlers.JobsAPI) Option {
	return func(s *Server) {
		s.router.Mount("/v1", api.Routes())
	}
}

// WithHealthChecker registers a named dependency check on /health.
func WithHealthChecker(name string, c handlers.Checker) Option {
	return func(s *Server) {
		s.health.RegisterChecker(name, c)
	}
}

// New builds a Server with the standard middleware stack and the health and
// version endpoints registered.
func New(cfg Config, version handlers.VersionInfo, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		health:  handlers.NewHealthManager(version.Version),
		version: version,
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Recovery)
	s.router.NotFound(apperrors.NotFound)
	s.router.MethodNotAllowed(apperrors.MethodNotAllowed)

	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/version", handlers.VersionHandler(version))

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler exposes the assembled route tree, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Port
}

// Run serves until ctx is canceled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.CLILogger.Info("http server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	observability.CLILogger.Info("http server stopped")
	return nil
}

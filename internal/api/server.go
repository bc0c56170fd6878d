package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// ClaudeCodeExecutor runs ClaudeCode node batches.
type ClaudeCodeExecutor interface {
	Execute(ctx context.Context, items []nodes.ClaudeCodeItem, continueOnFail bool) ([]nodes.Result, error)
}

// CloudRunExecutor runs CloudRunDispatch node batches.
type CloudRunExecutor interface {
	Execute(ctx context.Context, items []nodes.CloudRunItem, continueOnFail bool) ([]nodes.Result, error)
}

// RunReader reads run history.
type RunReader interface {
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, f runs.ListFilter) ([]runs.Run, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
	// MaxConcurrent bounds node batches in flight; extra requests get 503.
	MaxConcurrent int
	// WriteTimeout must cover the longest batch a client waits for.
	WriteTimeout time.Duration
}

// Deps are the components the server exposes. Nil nodes answer 503.
type Deps struct {
	ClaudeCode       ClaudeCodeExecutor
	CloudRunDispatch CloudRunExecutor
	Runs             RunReader
	Events           *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	semaphore chan struct{}
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Hour
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Node requests block until every item finished.
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "max_concurrent", s.config.MaxConcurrent)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.With(s.limitConcurrency).Post("/nodes/claude-code", s.handleClaudeCode)
		r.With(s.limitConcurrency).Post("/nodes/cloud-run-dispatch", s.handleCloudRunDispatch)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// limitConcurrency rejects node batches beyond MaxConcurrent instead of queueing them.
func (s *Server) limitConcurrency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.semaphore <- struct{}{}:
			defer func() { <-s.semaphore }()
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusServiceUnavailable, "too many concurrent node executions")
		}
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Package web serves the status API: run control, run history with task
// tables, and similar-photo lookups.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/web/handlers"
	"github.com/kozaktomas/photo-curator/internal/web/middleware"
)

// Deps are the collaborators of the API. Runs may be nil.
type Deps struct {
	Photos database.PhotoReader
	Runs   database.RunRepository
	Runner handlers.Runner
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	jobs       *handlers.JobManager
	cancelJobs context.CancelFunc
	log        *slog.Logger
}

// NewServer creates a new web server
func NewServer(ctx context.Context, cfg *config.Config, deps Deps, port int, host string) *Server {
	r := chi.NewRouter()
	log := logging.From(ctx)

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))

	s := &Server{
		config:     cfg,
		deps:       deps,
		router:     r,
		jobs:       handlers.NewJobManager(jobCtx),
		cancelJobs: cancelJobs,
		log:        log,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the whole run
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels running jobs and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	s.cancelJobs()
	for _, job := range s.jobs.ListJobs() {
		select {
		case <-job.Done():
		case <-ctx.Done():
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/photo-curator/internal/web/handlers"
	"github.com/kozaktomas/photo-curator/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	runsHandler := handlers.NewRunsHandler(s.deps.Runs, s.jobs, s.deps.Runner, s.config.Source.Location(), s.log)
	photosHandler := handlers.NewPhotosHandler(s.deps.Photos, s.log)
	configHandler := handlers.NewConfigHandler(s.config)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.Token))

		// Event streams are long-lived and skip the request timeout.
		r.Get("/runs/{id}/events", runsHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(time.Minute))

			r.Get("/config", configHandler.Get)

			r.Get("/runs", runsHandler.List)
			r.Post("/runs", runsHandler.Start)
			r.Get("/runs/{id}", runsHandler.Get)
			r.Delete("/runs/{id}", runsHandler.Cancel)

			r.Get("/photos/{id}", photosHandler.Get)
			r.Get("/photos/{id}/similar", photosHandler.Similar)
		})
	})
}

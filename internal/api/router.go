// Package api provides HTTP router setup.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threatlens/threatlens/internal/aggregate"
	"github.com/threatlens/threatlens/internal/bulk"
	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/database"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg *config.Config, engine *aggregate.Engine, processor *bulk.Processor, store database.Store) http.Handler {
	r := chi.NewRouter()

	handler := NewHandler(engine, processor, store)

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check is exempt from rate limiting
		r.Get("/health", handler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimit.RequestsPerMinute))

			// Lookups
			r.Post("/check_ioc", handler.CheckIOC)
			r.Get("/stream_ioc", handler.StreamIOC)
			r.Get("/debug_ioc", handler.DebugIOC)
			r.Get("/lookup/{id}", handler.GetLookup)
			r.Get("/providers", handler.ListProviders)

			// Bulk jobs
			r.Post("/bulk", handler.SubmitBulk)
			r.Get("/bulk/{id}/progress", handler.BulkProgress)
			r.Get("/bulk/{id}/download", handler.DownloadBulk)
		})
	})

	return r
}

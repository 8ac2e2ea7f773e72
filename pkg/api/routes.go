package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.metrics != nil {
		r.Use(s.requestMetrics)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/tables", func(r chi.Router) {
			tables := r

			if s.cfg.RateLimit.Enabled {
				s.limits = newClientLimits(s.cfg.RateLimit)
				go s.limits.sweep()

				tables = r.With(s.rateLimit(s.limits))
			}

			tables.Get("/", s.handleListTables)
			tables.Get("/{name}", s.handleGetTable)
			tables.Get("/{name}/csv", s.handleGetTableCSV)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}

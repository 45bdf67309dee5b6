package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// HealthCheck reports the readiness of a dependency.
type HealthCheck func() error

// NewRouter wires the full HTTP surface. checks run on every /health request;
// a failing check flips the status to 503.
func NewRouter(h *Handlers, checks map[string]HealthCheck) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		health := map[string]interface{}{"status": "ok"}
		for name, check := range checks {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				health["status"] = "unavailable"
				health[name] = err.Error()
			} else {
				health[name] = "ok"
			}
		}
		h.respondJSON(w, status, health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scraper", func(r chi.Router) {
			r.Post("/search", h.StartSearch)
			r.Post("/batch-details", h.StartBatchDetails)
			r.Post("/details/{itemID}", h.RescrapeDetails)

			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{jobID}", h.GetJob)
			r.Delete("/jobs/{jobID}", h.CancelJob)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/search/text", h.SearchProducts)
			r.Get("/stats/summary", h.GetStats)
			r.Get("/{itemID}", h.GetProduct)
			r.Delete("/{itemID}", h.DeleteProduct)
		})
	})

	return r
}

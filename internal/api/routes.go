package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the HTTP-level settings of the router.
type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, health *HealthChecker, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics (no auth required)
	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyAuth(cfg.APIKey))
		}

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.GeneratePlan)
			r.Get("/", h.ListPlans)
			r.Get("/{id}", h.GetPlan)
			r.Post("/{id}/approve", h.ApprovePlan)
			r.Post("/{id}/execute", h.ExecutePlan)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Post("/", h.GenerateSuggestions)
			r.Get("/{id}", h.GetSuggestionSet)
			r.Post("/{id}/execute", h.ExecuteSuggestions)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Get("/{id}", h.GetBatch)
		})

		r.Get("/records/{id}/tracking", h.GetTracking)
		r.Post("/records/{id}/rollback", h.Rollback)

		r.Get("/scopes/{scope}/history", h.History)
		r.Get("/scopes/{scope}/replay", h.Replay)

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", h.ListReviews)
			r.Post("/process-due", h.ProcessDueReviews)
			r.Post("/{id}/process", h.ProcessReview)
		})
	})

	return r
}

// apiKeyAuth accepts "Authorization: Bearer <key>" or "X-API-Key: <key>".
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := req.Header.Get("X-API-Key")
			if got == "" {
				got = strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

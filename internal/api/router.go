// Package api wires the HTTP surface: routing, middleware order, CORS,
// and the operational endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sproutly/sproutly/server/internal/api/handlers"
	"github.com/sproutly/sproutly/server/internal/api/middleware"
	"github.com/sproutly/sproutly/server/internal/config"
	"github.com/sproutly/sproutly/server/internal/store"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, st store.Store) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Operational endpoints
	r.Get("/health", healthHandler(cfg))
	r.Get("/health/live", liveHandler)
	r.Get("/health/ready", readyHandler(st))
	r.Handle("/metrics", promhttp.Handler())

	// Signed photo delivery (auth is the URL signature itself)
	r.Get("/photos/*", h.GetPhoto)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))

		r.Post("/identify", h.PostIdentify)
		r.Post("/health/assess", h.PostAssess)
		r.Post("/chat", h.PostChat)
		r.Post("/chat/stream", h.PostChatStream)
		r.Get("/usage", h.GetUsage)

		r.Route("/plants", func(r chi.Router) {
			r.Get("/", h.ListPlants)
			r.Post("/", h.PostPlant)
			r.Route("/{plantId}", func(r chi.Router) {
				r.Get("/", h.GetPlant)
				r.Delete("/", h.DeletePlant)
				r.Post("/water", h.PostWater)
			})
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Get("/", h.ListReminders)
			r.Post("/{reminderId}/complete", h.PostReminderComplete)
			r.Post("/{reminderId}/skip", h.PostReminderSkip)
		})
	})

	return r
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "sproutly-server",
			"version": cfg.Version,
		})
	}
}

func liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func readyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unready", "error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

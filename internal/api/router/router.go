package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-collections/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-collections/internal/http/middleware"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Collections     *handlers.AdminCollectionsHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	Database        Pinger
	RateLimiter     *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Database))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Collections != nil {
		r.Route("/admin", func(admin chi.Router) {
			if cfg.RateLimiter != nil {
				admin.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			h := cfg.Collections
			admin.Route("/clinics/{clinicID}", func(clinic chi.Router) {
				clinic.Post("/batches", h.RunBatch)
				clinic.Get("/summary", h.Summary)
			})
			admin.Post("/contracts/{contractID}/schedule", h.ScheduleContract)
			admin.Post("/patients/{patientID}/cancel", h.CancelPatient)
			admin.Post("/manual-sends", h.ManualSend)
			admin.Get("/pending-calls", h.ListPendingCalls)
			admin.Post("/pending-calls/{callID}/resolve", h.ResolvePendingCall)
		})
	}

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				resp["status"] = "degraded"
				resp["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

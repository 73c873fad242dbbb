package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommw "github.com/quraeshi99/noortime/internal/middleware"
)

// Router assembles the engine's HTTP surface.
func (h *Handlers) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.Logger)
	r.Use(custommw.Recoverer)
	r.Use(custommw.Timeout(30 * time.Second))
	r.Use(custommw.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-ID", "X-Owner-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(custommw.ContentType("application/json"))

		r.Get("/prayer/initial", h.GetInitialPrayerData)
		r.Get("/prayer/monthly-raw", h.GetMonthlyRaw)
		r.Get("/schedule/monthly", h.GetMonthlySchedule)
		r.Post("/guest/follow", h.GuestFollow)
		r.Post("/owner/settings", h.UpdateOwnerSettings)

		r.Get("/geo/geocode", h.Geocode)
		r.Get("/geo/autocomplete", h.Autocomplete)
	})

	return r
}

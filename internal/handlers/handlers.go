package handlers

import (
	"net/http"
	"strconv"

	"github.com/ringsaturn/tzf"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/db"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/services"
)

// Handlers holds the HTTP layer's dependencies.
type Handlers struct {
	cfg          *config.Config
	db           *db.DB
	cache        *cache.Cache
	calendars    *services.CalendarService
	schedules    *services.ScheduleService
	settingsSvc  *services.SettingsService
	owners       repo.OwnerRepo
	settingsRepo repo.SettingsRepo
	geocoder     adapters.GeocodingAdapter
	geocodes     repo.GeocodeRepo
	tzFinder     tzf.F
}

// Deps bundles the constructor arguments.
type Deps struct {
	Cfg          *config.Config
	DB           *db.DB
	Cache        *cache.Cache
	Calendars    *services.CalendarService
	Schedules    *services.ScheduleService
	SettingsSvc  *services.SettingsService
	Owners       repo.OwnerRepo
	SettingsRepo repo.SettingsRepo
	Geocoder     adapters.GeocodingAdapter
	Geocodes     repo.GeocodeRepo
	TZFinder     tzf.F // optional; nil falls back to UTC for guests
}

// New creates the handler set.
func New(d Deps) *Handlers {
	return &Handlers{
		cfg:          d.Cfg,
		db:           d.DB,
		cache:        d.Cache,
		calendars:    d.Calendars,
		schedules:    d.Schedules,
		settingsSvc:  d.SettingsSvc,
		owners:       d.Owners,
		settingsRepo: d.SettingsRepo,
		geocoder:     d.Geocoder,
		geocodes:     d.Geocodes,
		tzFinder:     d.TZFinder,
	}
}

// HealthCheck reports liveness of the DB and the hot cache.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"status": "ok", "database": "ok", "cache": "ok"}
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			status["database"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status["cache"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	RespondJSON(w, code, status)
}

// resolveOwnerID maps the authenticated subject header or the guest device
// header to an owner id. Returns 0 when the request is anonymous.
func (h *Handlers) resolveOwnerID(r *http.Request) (int64, error) {
	if subject := r.Header.Get("X-Owner-ID"); subject != "" {
		id, err := strconv.ParseInt(subject, 10, 64)
		if err != nil || id <= 0 {
			return 0, nil
		}
		return id, nil
	}
	if device := r.Header.Get("X-Device-ID"); device != "" {
		return h.owners.ResolveDevice(r.Context(), device)
	}
	return 0, nil
}

// NoorTime Prayer Schedule Engine API.
//
// Serves personalized daily prayer schedules at city-to-neighborhood scale
// from a multi-tier calendar cache, with background generation handled by
// the noorctl worker.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringsaturn/tzf"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/db"
	"github.com/quraeshi99/noortime/internal/handlers"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/services"
	"github.com/quraeshi99/noortime/internal/zone"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	hot, err := cache.New(cfg.Redis.URL, cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer hot.Close()

	prayerAdapter, err := adapters.SelectPrayerAdapter(cfg.Prayer)
	if err != nil {
		log.Fatalf("Failed to select prayer adapter: %v", err)
	}
	geocoder, err := adapters.SelectGeocodingAdapter(cfg.Geocode)
	if err != nil {
		log.Fatalf("Failed to select geocoding adapter: %v", err)
	}
	slog.Info("adapters selected", "prayer", prayerAdapter.Name(), "geocoder", geocoder.Name())

	methods, err := zone.LoadCountryMethods(cfg.Prayer.CountryMapPath)
	if err != nil {
		log.Fatalf("Failed to load country method map: %v", err)
	}

	calendarRepo := repo.NewCalendars(database.Pool)
	scheduleRepo := repo.NewSchedules(database.Pool)
	settingsRepo := repo.NewSettings(database.Pool)
	aliasRepo := repo.NewAliases(database.Pool)
	ownerRepo := repo.NewOwners(database.Pool)
	geocodeRepo := repo.NewGeocodes(database.Pool)

	dispatcher := services.NewRedisDispatcher(hot.Client())
	resolver := zone.New(geocoder, calendarRepo, aliasRepo, hot, methods, cfg.Cache, cfg.Prayer.AutomaticMethod)
	calendarSvc := services.NewCalendarService(resolver, hot, calendarRepo, prayerAdapter, dispatcher, cfg.Cache)
	scheduleSvc := services.NewScheduleService(calendarSvc, scheduleRepo, settingsRepo, ownerRepo, hot)
	settingsSvc := services.NewSettingsService(settingsRepo, scheduleRepo, ownerRepo, hot, logNotifier{})

	// Timezone finder for guests whose settings carry no IANA zone.
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		slog.Warn("timezone finder unavailable, guests fall back to UTC", "error", err)
	}

	h := handlers.New(handlers.Deps{
		Cfg:          cfg,
		DB:           database,
		Cache:        hot,
		Calendars:    calendarSvc,
		Schedules:    scheduleSvc,
		SettingsSvc:  settingsSvc,
		Owners:       ownerRepo,
		SettingsRepo: settingsRepo,
		Geocoder:     geocoder,
		Geocodes:     geocodeRepo,
		TZFinder:     finder,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	slog.Info("server exited")
}

// logNotifier is the default advisory-notification wiring: delivery systems
// are outside the engine, so advisories are logged for the delivery tier to
// pick up.
type logNotifier struct{}

func (logNotifier) NotifyFollowers(_ context.Context, collectiveOwnerID int64, message string) error {
	slog.Info("follower advisory", "owner_id", collectiveOwnerID, "message", message)
	return nil
}

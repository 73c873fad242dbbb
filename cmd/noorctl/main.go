// noorctl hosts the engine's operational entry points: the queue worker with
// its daily rolling-wave scheduler, and one-shot runs of the precache,
// schedule-generation, and cleanup jobs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/db"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/services"
	"github.com/quraeshi99/noortime/internal/zone"
)

// engine bundles the wired services for the subcommands.
type engine struct {
	cfg        *config.Config
	database   *db.DB
	hot        *cache.Cache
	workers    *services.Workers
	dispatcher *services.RedisDispatcher
}

func buildEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	database, err := db.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	hot, err := cache.New(cfg.Redis.URL, cfg.Cache)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	prayerAdapter, err := adapters.SelectPrayerAdapter(cfg.Prayer)
	if err != nil {
		return nil, err
	}
	geocoder, err := adapters.SelectGeocodingAdapter(cfg.Geocode)
	if err != nil {
		return nil, err
	}
	methods, err := zone.LoadCountryMethods(cfg.Prayer.CountryMapPath)
	if err != nil {
		return nil, err
	}

	calendarRepo := repo.NewCalendars(database.Pool)
	scheduleRepo := repo.NewSchedules(database.Pool)
	settingsRepo := repo.NewSettings(database.Pool)
	aliasRepo := repo.NewAliases(database.Pool)
	ownerRepo := repo.NewOwners(database.Pool)

	dispatcher := services.NewRedisDispatcher(hot.Client())
	resolver := zone.New(geocoder, calendarRepo, aliasRepo, hot, methods, cfg.Cache, cfg.Prayer.AutomaticMethod)
	calendarSvc := services.NewCalendarService(resolver, hot, calendarRepo, prayerAdapter, dispatcher, cfg.Cache)
	scheduleSvc := services.NewScheduleService(calendarSvc, scheduleRepo, settingsRepo, ownerRepo, hot)
	workers := services.NewWorkers(calendarSvc, scheduleSvc, calendarRepo, ownerRepo, dispatcher, hot, cfg)

	return &engine{
		cfg:        cfg,
		database:   database,
		hot:        hot,
		workers:    workers,
		dispatcher: dispatcher,
	}, nil
}

func (e *engine) close() {
	e.hot.Close()
	e.database.Close()
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	root := &cobra.Command{
		Use:   "noorctl",
		Short: "Operational tooling for the prayer schedule engine",
	}

	var concurrency int
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Consume the job queue and run the daily rolling waves",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			stopScheduler := e.workers.StartDailyScheduler(ctx)
			defer stopScheduler()

			slog.Info("worker started", "concurrency", concurrency)
			return e.workers.ConsumeLoop(ctx, e.dispatcher, concurrency)
		},
	}
	worker.Flags().IntVar(&concurrency, "concurrency", 4, "max concurrent jobs")

	precache := &cobra.Command{
		Use:   "precache",
		Short: "Run one pass of the yearly rolling-wave fetcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			defer e.close()
			return e.workers.RunYearlyWave(cmd.Context())
		},
	}

	generate := &cobra.Command{
		Use:   "generate-schedules",
		Short: "Run one pass of the monthly schedule rolling wave",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			defer e.close()
			return e.workers.RunMonthlyWave(cmd.Context())
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete cold yearly calendars older than the current year",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			defer e.close()
			return e.workers.RunCleanup(cmd.Context())
		},
	}

	root.AddCommand(worker, precache, generate, cleanup)
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

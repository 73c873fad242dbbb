package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/metrics"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/zone"
)

// Task names for logging and metrics.
const (
	taskYearlyWave  = "proactive_yearly_calendar_fetcher"
	taskMonthlyWave = "master_schedule_generator"
	taskCleanup     = "cleanup_old_calendars"
	taskFetchYearly = JobFetchYearly
	taskBuildOwner  = JobGenerateSchedule
)

// Workers hosts the rolling-wave jobs and the queue consumer. All jobs are
// idempotent and safe to run concurrently on many instances.
type Workers struct {
	calendars *CalendarService
	schedules *ScheduleService
	calRepo   repo.CalendarRepo
	owners    repo.OwnerRepo
	dispatch  Dispatcher
	hot       *cache.Cache
	cfg       *config.Config

	now func() time.Time
}

// NewWorkers wires the background jobs.
func NewWorkers(calendars *CalendarService, schedules *ScheduleService, calRepo repo.CalendarRepo, owners repo.OwnerRepo, dispatch Dispatcher, hot *cache.Cache, cfg *config.Config) *Workers {
	return &Workers{
		calendars: calendars,
		schedules: schedules,
		calRepo:   calRepo,
		owners:    owners,
		dispatch:  dispatch,
		hot:       hot,
		cfg:       cfg,
		now:       time.Now,
	}
}

// waveHash spreads (zone, method) pairs over the year: the pair is processed
// on days where hash mod D equals day-of-year mod D.
func waveHash(zoneID, methodKey string) uint64 {
	sum := sha256.Sum256([]byte(zoneID + "-" + methodKey))
	return binary.BigEndian.Uint64(sum[:8])
}

// RunYearlyWave is the daily rolling wave that pre-fetches next year's
// calendar for today's slice of known (zone, method) pairs.
func (w *Workers) RunYearlyWave(ctx context.Context) error {
	return w.instrumented(ctx, taskYearlyWave, func(ctx context.Context) error {
		now := w.now().UTC()
		currentYear := now.Year()
		nextYear := currentYear + 1
		days := 365
		if isLeapYear(currentYear) {
			days = 366
		}
		todayBucket := uint64(now.YearDay() % days)

		pairs, err := w.calRepo.ListZoneMethods(ctx, currentYear)
		if err != nil {
			return err
		}
		var enqueued, skipped int
		for _, pair := range pairs {
			if waveHash(pair.ZoneID, pair.MethodKey)%uint64(days) != todayBucket {
				continue
			}
			exists, err := w.calRepo.Exists(ctx, pair.ZoneID, nextYear, pair.MethodKey)
			if err != nil {
				slog.Error("yearly wave existence check failed", "zone", pair.ZoneID, "error", err)
				continue
			}
			if exists {
				skipped++
				continue
			}
			lat, lon, ok := w.recoverCoordinates(ctx, pair, currentYear)
			if !ok {
				slog.Warn("yearly wave could not recover coordinates", "zone", pair.ZoneID)
				continue
			}
			// The single-flight lock keeps the wave, the grace-period path,
			// and a concurrent wave run from enqueueing twice.
			claimed, err := w.hot.AcquireFetchLock(ctx, pair.ZoneID, nextYear, pair.MethodKey)
			if err != nil || !claimed {
				skipped++
				continue
			}
			payload := FetchYearlyPayload{
				ZoneID: pair.ZoneID, Year: nextYear, MethodKey: pair.MethodKey,
				Latitude: lat, Longitude: lon,
			}
			if err := w.dispatch.Delay(ctx, JobFetchYearly, payload); err != nil {
				slog.Error("yearly wave enqueue failed", "zone", pair.ZoneID, "error", err)
				if relErr := w.hot.ReleaseFetchLock(ctx, pair.ZoneID, nextYear, pair.MethodKey); relErr != nil {
					slog.Error("fetch lock release failed", "zone", pair.ZoneID, "error", relErr)
				}
				continue
			}
			enqueued++
		}
		slog.Info("yearly wave complete", "bucket", todayBucket, "pairs", len(pairs), "enqueued", enqueued, "skipped", skipped)
		return nil
	})
}

// recoverCoordinates finds fetch coordinates for a zone: grid zones compute
// their center from the id, admin zones read any cached day's metadata.
func (w *Workers) recoverCoordinates(ctx context.Context, pair repo.ZoneMethod, year int) (float64, float64, bool) {
	if lat, lon, ok := zone.GridZoneCenter(pair.ZoneID, w.cfg.Cache.GridSize); ok {
		return lat, lon, true
	}
	cal, err := w.calRepo.Get(ctx, pair.ZoneID, year, pair.MethodKey)
	if err != nil || cal == nil {
		return 0, 0, false
	}
	for _, day := range cal.Days {
		if day.Meta != nil {
			return day.Meta.Latitude, day.Meta.Longitude, true
		}
	}
	return 0, 0, false
}

// RunMonthlyWave is the daily rolling wave that pre-builds next month's
// schedule for today's bucket of owners.
func (w *Workers) RunMonthlyWave(ctx context.Context) error {
	return w.instrumented(ctx, taskMonthlyWave, func(ctx context.Context) error {
		now := w.now().UTC()
		b := w.cfg.Schedule.GenerationDays
		remainder := (now.Day() - 1) % b

		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		year, month := firstOfNext.Year(), int(firstOfNext.Month())

		ownerIDs, err := w.owners.ListBucketOwners(ctx, b, remainder, year, month)
		if err != nil {
			return err
		}
		for _, id := range ownerIDs {
			payload := GenerateSchedulePayload{OwnerID: id, Year: year, Month: month}
			if err := w.dispatch.Delay(ctx, JobGenerateSchedule, payload); err != nil {
				slog.Error("monthly wave enqueue failed", "owner_id", id, "error", err)
			}
		}
		slog.Info("monthly wave complete", "bucket", remainder, "owners", len(ownerIDs), "target", fmt.Sprintf("%d-%02d", year, month))
		return nil
	})
}

// RunCleanup purges cold calendars older than the current year. Hot entries
// expire on their own.
func (w *Workers) RunCleanup(ctx context.Context) error {
	return w.instrumented(ctx, taskCleanup, func(ctx context.Context) error {
		year := w.now().UTC().Year()
		deleted, err := w.calRepo.DeleteOlderThan(ctx, year)
		if err != nil {
			return err
		}
		slog.Info("old calendars cleaned up", "before_year", year, "deleted", deleted)
		return nil
	})
}

// ProcessJob executes one dequeued job. Per-owner schedule failures never
// abort the consumer; transient failures are re-enqueued for another worker.
func (w *Workers) ProcessJob(ctx context.Context, job *queuedJob) {
	switch job.Name {
	case JobFetchYearly:
		var p FetchYearlyPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			slog.Error("fetch yearly payload malformed", "error", err)
			metrics.TaskRuns.WithLabelValues(taskFetchYearly, "failure").Inc()
			return
		}
		err := w.instrumented(ctx, taskFetchYearly, func(ctx context.Context) error {
			return w.calendars.FetchAndCacheYearly(ctx, p)
		})
		if err != nil && apperr.IsTransient(err) {
			// The lock lease still guards duplicates; a later worker retries.
			if reErr := w.dispatch.Delay(ctx, JobFetchYearly, p); reErr != nil {
				slog.Error("fetch yearly re-enqueue failed", "zone", p.ZoneID, "error", reErr)
			}
		}
	case JobGenerateSchedule:
		var p GenerateSchedulePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			slog.Error("generate schedule payload malformed", "error", err)
			metrics.TaskRuns.WithLabelValues(taskBuildOwner, "failure").Inc()
			return
		}
		err := w.instrumented(ctx, taskBuildOwner, func(ctx context.Context) error {
			_, genErr := w.schedules.GetOrGenerate(ctx, p.OwnerID, p.Year, p.Month, true)
			return genErr
		})
		if err != nil && apperr.IsTransient(err) {
			if reErr := w.dispatch.Delay(ctx, JobGenerateSchedule, p); reErr != nil {
				slog.Error("schedule re-enqueue failed", "owner_id", p.OwnerID, "error", reErr)
			}
		}
	default:
		slog.Warn("unknown job dequeued", "name", job.Name)
	}
}

// ConsumeLoop drains the durable queue until the context is cancelled.
// Handlers run on a bounded pool.
func (w *Workers) ConsumeLoop(ctx context.Context, queue *RedisDispatcher, concurrency int) error {
	if concurrency < 1 {
		concurrency = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency + 1)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		default:
		}
		job, err := queue.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return g.Wait()
			}
			slog.Error("queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		j := job
		g.Go(func() error {
			w.ProcessJob(ctx, j)
			return nil
		})
	}
}

// StartDailyScheduler fires the two rolling waves once per UTC day and the
// cleanup on its configured date. Returns a stop function that blocks until
// the loop exits.
func (w *Workers) StartDailyScheduler(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lastRun := ""
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			today := w.now().UTC().Format("2006-01-02")
			if today != lastRun {
				lastRun = today
				w.runDaily(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *Workers) runDaily(ctx context.Context) {
	if err := w.RunYearlyWave(ctx); err != nil {
		slog.Error("yearly wave failed", "error", err)
	}
	if err := w.RunMonthlyWave(ctx); err != nil {
		slog.Error("monthly wave failed", "error", err)
	}
	now := w.now().UTC()
	if int(now.Month()) == w.cfg.Cache.CleanupMonth && now.Day() == w.cfg.Cache.CleanupDay {
		if err := w.RunCleanup(ctx); err != nil {
			slog.Error("cleanup failed", "error", err)
		}
	}
}

// instrumented wraps a task with the run counter and duration histogram.
func (w *Workers) instrumented(ctx context.Context, task string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	metrics.TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TaskRuns.WithLabelValues(task, "failure").Inc()
		slog.Error("background task failed", "task", task, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	metrics.TaskRuns.WithLabelValues(task, "success").Inc()
	return nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/metrics"
	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/zone"
)

// CalendarService is the calendar cache pyramid: resolver, hot tier, cold
// tier, and the single-flight instant-fallback path on a complete miss.
type CalendarService struct {
	resolver   *zone.Resolver
	hot        *cache.Cache
	cold       repo.CalendarRepo
	prayer     adapters.PrayerTimeAdapter
	dispatcher Dispatcher
	cfg        config.CacheConfig

	// now is injectable for grace-period tests.
	now func() time.Time
}

// NewCalendarService wires the pyramid.
func NewCalendarService(resolver *zone.Resolver, hot *cache.Cache, cold repo.CalendarRepo, prayer adapters.PrayerTimeAdapter, dispatcher Dispatcher, cfg config.CacheConfig) *CalendarService {
	return &CalendarService{
		resolver:   resolver,
		hot:        hot,
		cold:       cold,
		prayer:     prayer,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// DayResult is one resolved day plus the zone it came from.
type DayResult struct {
	Day        *models.DailyTimings
	Resolution *zone.Resolution
}

// DayFor returns the raw record for one date at a coordinate. On a complete
// cache miss the claimant of the single-flight lock enqueues the yearly
// fetch and every caller is served a synchronous today-only fetch, so first
// responses are instant without a thundering herd on the yearly endpoint.
func (s *CalendarService) DayFor(ctx context.Context, date time.Time, lat, lon float64, method models.MethodKey) (*DayResult, error) {
	res, err := s.resolver.Resolve(ctx, lat, lon, method, date.Year())
	if err != nil {
		return nil, err
	}
	day, err := s.dayForZone(ctx, res, date, lat, lon)
	if err != nil {
		return nil, err
	}
	s.maybeTriggerGraceFetch(ctx, res.ZoneID, res.Method.String(), lat, lon)
	return &DayResult{Day: day, Resolution: res}, nil
}

func (s *CalendarService) dayForZone(ctx context.Context, res *zone.Resolution, date time.Time, lat, lon float64) (*models.DailyTimings, error) {
	zoneID := res.ZoneID
	methodKey := res.Method.String()
	year := date.Year()
	dateStr := date.Format("2006-01-02")

	if cal, err := s.lookupTiered(ctx, zoneID, year, methodKey); err != nil {
		return nil, err
	} else if cal != nil {
		if day := cal.DayFor(dateStr); day != nil {
			return day, nil
		}
		return nil, apperr.Newf(apperr.Internal, "date %s missing from cached calendar %s/%d", dateStr, zoneID, year)
	}

	// Complete miss: short-TTL daily key first, so concurrent callers in the
	// same zone share one upstream daily call.
	if day, err := s.hot.GetDaily(ctx, zoneID, dateStr, methodKey); err == nil && day != nil {
		return day, nil
	}

	claimed, err := s.hot.AcquireFetchLock(ctx, zoneID, year, methodKey)
	if err != nil {
		// A broken lock store must not break reads; skip the enqueue.
		slog.Error("fetch lock unavailable", "zone", zoneID, "error", err)
		claimed = false
	}
	if claimed {
		payload := FetchYearlyPayload{ZoneID: zoneID, Year: year, MethodKey: methodKey, Latitude: lat, Longitude: lon}
		if err := s.dispatcher.Delay(ctx, JobFetchYearly, payload); err != nil {
			slog.Error("yearly fetch enqueue failed, releasing lock", "zone", zoneID, "error", err)
			if relErr := s.hot.ReleaseFetchLock(ctx, zoneID, year, methodKey); relErr != nil {
				slog.Error("fetch lock release failed", "zone", zoneID, "error", relErr)
			}
		} else {
			slog.Info("yearly fetch enqueued", "zone", zoneID, "year", year, "method", methodKey)
		}
	}

	day, err := s.prayer.FetchDaily(ctx, date, lat, lon, res.Method)
	if err != nil {
		return nil, err
	}
	if err := s.hot.SetDaily(ctx, zoneID, methodKey, day); err != nil {
		slog.Warn("daily cache write failed", "zone", zoneID, "error", err)
	}
	return day, nil
}

// lookupTiered reads hot then cold, backfilling hot on a cold hit.
func (s *CalendarService) lookupTiered(ctx context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error) {
	yearLabel := strconv.Itoa(year)
	if cal, err := s.hot.GetCalendar(ctx, zoneID, year, methodKey); err == nil && cal != nil {
		metrics.CacheHits.WithLabelValues("hot", zoneID, yearLabel).Inc()
		return cal, nil
	}
	metrics.CacheMisses.WithLabelValues("hot", zoneID, yearLabel).Inc()

	cal, err := s.cold.Get(ctx, zoneID, year, methodKey)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		metrics.CacheMisses.WithLabelValues("cold", zoneID, yearLabel).Inc()
		return nil, nil
	}
	metrics.CacheHits.WithLabelValues("cold", zoneID, yearLabel).Inc()
	if err := s.hot.SetCalendar(ctx, cal); err != nil {
		slog.Warn("hot backfill failed", "zone", zoneID, "error", err)
	}
	return cal, nil
}

// FetchAndCacheYearly is the single-flight task body: fetch the full year,
// validate the invariants, write cold-first then hot, release the lock.
func (s *CalendarService) FetchAndCacheYearly(ctx context.Context, p FetchYearlyPayload) error {
	method, err := methodKeyOf(p.MethodKey)
	if err != nil {
		return apperr.Wrap(apperr.Permanent, "fetch yearly payload", err)
	}
	days, err := s.prayer.FetchYearly(ctx, p.Year, p.Latitude, p.Longitude, method)
	if err != nil {
		return err
	}
	if err := ValidateYearDays(p.Year, days); err != nil {
		return err
	}
	hash, err := models.HashDays(days)
	if err != nil {
		return fmt.Errorf("hash yearly days: %w", err)
	}
	cal := &models.YearlyCalendar{
		ZoneID:        p.ZoneID,
		Year:          p.Year,
		MethodKey:     p.MethodKey,
		SchemaVersion: s.cfg.SchemaVersion,
		Days:          days,
		ContentHash:   hash,
	}
	unchanged, err := s.cold.Upsert(ctx, cal)
	if err != nil {
		return err
	}
	if unchanged {
		// Content already current: just extend the hot entry's lease.
		if err := s.hot.RefreshCalendarTTL(ctx, p.ZoneID, p.Year, p.MethodKey); err != nil {
			slog.Warn("hot TTL refresh failed", "zone", p.ZoneID, "error", err)
		}
	} else if err := s.hot.SetCalendar(ctx, cal); err != nil {
		slog.Warn("hot calendar write failed", "zone", p.ZoneID, "error", err)
	}
	if err := s.hot.ReleaseFetchLock(ctx, p.ZoneID, p.Year, p.MethodKey); err != nil {
		slog.Warn("fetch lock release failed", "zone", p.ZoneID, "error", err)
	}
	slog.Info("yearly calendar cached", "zone", p.ZoneID, "year", p.Year, "method", p.MethodKey, "unchanged", unchanged)
	return nil
}

// maybeTriggerGraceFetch pre-fetches next year's calendar during the
// year-end grace window, sharing the single-flight lock with the rolling
// wave so the two never double-fetch.
func (s *CalendarService) maybeTriggerGraceFetch(ctx context.Context, zoneID, methodKey string, lat, lon float64) {
	now := s.now()
	inGrace := (int(now.Month()) == s.cfg.GracePeriodMonth && now.Day() >= s.cfg.GracePeriodDay) ||
		int(now.Month()) > s.cfg.GracePeriodMonth
	if !inGrace {
		return
	}
	nextYear := now.Year() + 1
	exists, err := s.cold.Exists(ctx, zoneID, nextYear, methodKey)
	if err != nil {
		slog.Error("grace period existence check failed", "zone", zoneID, "error", err)
		return
	}
	if exists {
		return
	}
	claimed, err := s.hot.AcquireFetchLock(ctx, zoneID, nextYear, methodKey)
	if err != nil || !claimed {
		return
	}
	payload := FetchYearlyPayload{ZoneID: zoneID, Year: nextYear, MethodKey: methodKey, Latitude: lat, Longitude: lon}
	if err := s.dispatcher.Delay(ctx, JobFetchYearly, payload); err != nil {
		slog.Error("grace period enqueue failed", "zone", zoneID, "error", err)
		if relErr := s.hot.ReleaseFetchLock(ctx, zoneID, nextYear, methodKey); relErr != nil {
			slog.Error("fetch lock release failed", "zone", zoneID, "error", relErr)
		}
		return
	}
	slog.Info("grace period yearly fetch enqueued", "zone", zoneID, "year", nextYear)
}

// MonthSlice returns the raw records for one month at a coordinate, reading
// only the cached tiers (no per-day upstream fallback).
func (s *CalendarService) MonthSlice(ctx context.Context, year, month int, lat, lon float64, method models.MethodKey) ([]models.DailyTimings, *zone.Resolution, error) {
	res, err := s.resolver.Resolve(ctx, lat, lon, method, year)
	if err != nil {
		return nil, nil, err
	}
	cal, err := s.lookupTiered(ctx, res.ZoneID, year, res.Method.String())
	if err != nil {
		return nil, nil, err
	}
	if cal == nil {
		return nil, res, apperr.Newf(apperr.NotFound, "no calendar for zone %s year %d", res.ZoneID, year)
	}
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	var out []models.DailyTimings
	for _, d := range cal.Days {
		if len(d.Date) >= len(prefix) && d.Date[:len(prefix)] == prefix {
			out = append(out, d)
		}
	}
	return out, res, nil
}

// ValidateYearDays enforces the yearly calendar invariants: day count equals
// the year's length and dates are strictly increasing from January 1st.
func ValidateYearDays(year int, days []models.DailyTimings) error {
	want := 365
	if isLeapYear(year) {
		want = 366
	}
	if len(days) != want {
		return apperr.Newf(apperr.Permanent, "yearly calendar for %d has %d days, want %d", year, len(days), want)
	}
	if !sort.SliceIsSorted(days, func(i, j int) bool { return days[i].Date < days[j].Date }) {
		return apperr.Newf(apperr.Permanent, "yearly calendar for %d not sorted by date", year)
	}
	for i, d := range days {
		expected := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02")
		if d.Date != expected {
			return apperr.Newf(apperr.Permanent, "yearly calendar for %d: day %d is %s, want %s", year, i, d.Date, expected)
		}
	}
	return nil
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

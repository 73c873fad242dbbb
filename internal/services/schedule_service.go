package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/timeutil"
)

// ScheduleService materializes and caches the monthly "director's script":
// the ordered list of state intervals clients drive their UI from without
// recomputation.
type ScheduleService struct {
	calendars *CalendarService
	schedules repo.ScheduleRepo
	settings  repo.SettingsRepo
	owners    repo.OwnerRepo
	hot       *cache.Cache

	now func() time.Time
}

// NewScheduleService wires the materializer.
func NewScheduleService(calendars *CalendarService, schedules repo.ScheduleRepo, settings repo.SettingsRepo, owners repo.OwnerRepo, hot *cache.Cache) *ScheduleService {
	return &ScheduleService{
		calendars: calendars,
		schedules: schedules,
		settings:  settings,
		owners:    owners,
		hot:       hot,
		now:       time.Now,
	}
}

// ResolveScheduleOwner maps a requesting owner onto the owner whose schedule
// applies: the followed collective owner when one exists, otherwise self.
// Followers of the same masjid all read one shared record.
func (s *ScheduleService) ResolveScheduleOwner(ctx context.Context, requesterID int64) (int64, error) {
	target, err := s.owners.ResolveFollowTarget(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	if target != 0 {
		return target, nil
	}
	return requesterID, nil
}

// GetOrGenerate returns the month's schedule for the requesting owner,
// materializing and storing it on a miss. forceRegenerate bypasses the cache
// read (the rolling-wave builder uses it).
func (s *ScheduleService) GetOrGenerate(ctx context.Context, requesterID int64, year, month int, forceRegenerate bool) (*models.MonthlySchedule, error) {
	ownerID, err := s.ResolveScheduleOwner(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	if !forceRegenerate {
		if cached, err := s.hot.GetSchedule(ctx, ownerID, year, month); err == nil && cached != nil {
			return cached, nil
		}
		stored, err := s.schedules.Get(ctx, ownerID, year, month)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if err := s.hot.SetSchedule(ctx, stored); err != nil {
				slog.Warn("schedule hot backfill failed", "owner_id", ownerID, "error", err)
			}
			return stored, nil
		}
	}

	sched, err := s.generate(ctx, ownerID, year, month)
	if err != nil {
		return nil, err
	}

	unchanged, err := s.schedules.Upsert(ctx, sched)
	if err != nil {
		return nil, err
	}
	if unchanged {
		slog.Info("schedule unchanged, version kept", "owner_id", ownerID, "year", year, "month", month, "version", sched.Version)
	} else {
		slog.Info("schedule stored", "owner_id", ownerID, "year", year, "month", month, "version", sched.Version)
	}
	if err := s.hot.SetSchedule(ctx, sched); err != nil {
		slog.Warn("schedule hot write failed", "owner_id", ownerID, "error", err)
	}
	return sched, nil
}

// generate materializes one owner-month.
func (s *ScheduleService) generate(ctx context.Context, ownerID int64, year, month int) (*models.MonthlySchedule, error) {
	settings, err := s.settings.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	lastRaw, err := s.settings.GetLastRawTimes(ctx, ownerID)
	if err != nil {
		slog.Warn("last raw times read failed, proceeding without", "owner_id", ownerID, "error", err)
		lastRaw = ""
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	// Fetch the month plus one overhang day so every day has its tomorrow.
	raw := make([]*models.DailyTimings, daysInMonth+1)
	for i := 0; i <= daysInMonth; i++ {
		date := first.AddDate(0, 0, i)
		result, err := s.calendars.DayFor(ctx, date, settings.Latitude, settings.Longitude, settings.Method)
		if err != nil {
			return nil, fmt.Errorf("schedule raw day %s: %w", date.Format("2006-01-02"), err)
		}
		raw[i] = result.Day
	}

	var script []models.ScriptInterval
	warningSet := make(map[string]bool)
	for i := 0; i < daysInMonth; i++ {
		date := first.AddDate(0, 0, i)
		display := CalculateDisplayTimes(CalculatorInput{
			Settings:    settings,
			Today:       raw[i],
			Tomorrow:    raw[i+1],
			LastRawBlob: lastRaw,
			Date:        date,
		})
		for _, w := range display.Warnings {
			warningSet[w] = true
		}
		script = append(script, buildDayScript(date, display)...)
	}

	warnings := make([]string, 0, len(warningSet))
	for w := range warningSet {
		warnings = append(warnings, w)
	}
	sort.Strings(warnings)

	hash, err := models.HashScript(script)
	if err != nil {
		return nil, fmt.Errorf("hash schedule script: %w", err)
	}
	return &models.MonthlySchedule{
		OwnerID:     ownerID,
		Year:        year,
		Month:       month,
		ScriptHash:  hash,
		GeneratedAt: s.now().UTC(),
		Warnings:    warnings,
		Script:      script,
	}, nil
}

// jamaatEvent is one congregational event on the day timeline.
type jamaatEvent struct {
	prayer string
	kind   models.IntervalKind
	azan   int // seconds since midnight, -1 when unknown
	jamaat int // seconds since midnight
}

// buildDayScript emits the day's intervals covering [00:00:00, 24:00:00)
// with no gap and no overlap, in increasing start order.
func buildDayScript(date time.Time, display *models.DisplayTimes) []models.ScriptInterval {
	const daySeconds = 24 * 60 * 60
	dateStr := date.Format("2006-01-02")
	events := sortedJamaatEvents(date, display)

	var out []models.ScriptInterval
	cursor := 0
	emit := func(kind models.IntervalKind, prayer string, start, end int) {
		if end <= start {
			return
		}
		out = append(out, models.ScriptInterval{
			Date:   dateStr,
			Kind:   kind,
			Prayer: prayer,
			Start:  secondsToClock(start),
			End:    secondsToClock(end),
		})
	}

	for _, ev := range events {
		if ev.jamaat <= cursor {
			// A jamaat inside the previous post window cannot be scheduled
			// again; skip rather than overlap.
			continue
		}
		alertStart := maxInt(cursor, ev.jamaat-models.PreJamaatAlertSeconds)
		if ev.azan >= 0 {
			// The announced window runs from ten minutes before azan through
			// the azan-to-jamaat span, until the alert takes over.
			preAzan := clampInt(ev.azan-models.PreAzanWindowMinutes*60, cursor, alertStart)
			emit(models.IntervalPrePrayerIdle, ev.prayer, cursor, preAzan)
			emit(models.IntervalPreAzanWindow, ev.prayer, preAzan, alertStart)
		} else {
			emit(models.IntervalPrePrayerIdle, ev.prayer, cursor, alertStart)
		}
		emit(models.IntervalPreJamaatAlert, ev.prayer, alertStart, ev.jamaat)
		jamaatEnd := ev.jamaat + models.JamaatPointSeconds
		emit(ev.kind, ev.prayer, ev.jamaat, jamaatEnd)
		postEnd := minInt(jamaatEnd+models.PostJamaatInfoSeconds, daySeconds)
		emit(models.IntervalPostJamaatInfo, ev.prayer, jamaatEnd, postEnd)
		cursor = postEnd
	}
	emit(models.IntervalPostPrayerIdle, "", cursor, daySeconds)
	return out
}

// sortedJamaatEvents collects the day's congregational events, with Jummah
// replacing Friday's Dhuhr, sorted by time.
func sortedJamaatEvents(date time.Time, display *models.DisplayTimes) []jamaatEvent {
	isFriday := date.Weekday() == time.Friday
	var events []jamaatEvent
	for _, prayer := range models.DailyPrayers {
		if isFriday && prayer == models.Dhuhr && display.Jummah != nil {
			continue
		}
		pd, ok := display.Prayers[prayer]
		if !ok {
			continue
		}
		jamaat := clockSeconds(pd.Jamaat)
		if jamaat < 0 {
			continue
		}
		events = append(events, jamaatEvent{
			prayer: prayer,
			kind:   models.IntervalJamaat,
			azan:   clockSeconds(pd.Azan),
			jamaat: jamaat,
		})
	}
	if isFriday && display.Jummah != nil {
		if jamaat := clockSeconds(display.Jummah.Jamaat); jamaat >= 0 {
			events = append(events, jamaatEvent{
				prayer: "Jummah",
				kind:   models.IntervalJummah,
				azan:   clockSeconds(display.Jummah.Azan),
				jamaat: jamaat,
			})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].jamaat < events[j].jamaat })
	return events
}

// clockSeconds parses a display string into seconds since midnight, -1 for
// "N/A" or malformed values.
func clockSeconds(s string) int {
	c, err := timeutil.Parse(s)
	if err != nil {
		return -1
	}
	return int(c)
}

// secondsToClock renders seconds since midnight as "HH:MM:SS"; the full day
// boundary renders as "24:00:00".
func secondsToClock(v int) string {
	if v >= 24*60*60 {
		return "24:00:00"
	}
	return timeutil.Clock(v).StringSeconds()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

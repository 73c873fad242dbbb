package services

import (
	"context"
	"testing"
	"time"

	"github.com/quraeshi99/noortime/internal/models"
)

// waveDayFor returns a date in year whose day-of-year selects the given
// (zone, method) pair in the yearly rolling wave.
func waveDayFor(zoneID, methodKey string, year int) time.Time {
	days := 365
	if isLeapYear(year) {
		days = 366
	}
	bucket := int(waveHash(zoneID, methodKey) % uint64(days))
	// YearDay of Jan 1 + k is k + 1; find k with (k+1) mod days == bucket.
	k := (bucket - 1 + days) % days
	return time.Date(year, time.January, 1, 6, 0, 0, 0, time.UTC).AddDate(0, 0, k)
}

func TestYearlyWaveEnqueuesOncePerDay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.fillCalendar(t, 2025)
	e.dispatch = NewMemDispatcher()
	e.workers.dispatch = e.dispatch

	selected := waveDayFor("grid:28.6/77.2", "3-0-1", 2025)
	e.workers.now = func() time.Time { return selected }

	if err := e.workers.RunYearlyWave(ctx); err != nil {
		t.Fatalf("RunYearlyWave: %v", err)
	}
	if got := e.dispatch.Len(); got != 1 {
		t.Fatalf("enqueued = %d, want 1", got)
	}
	job := e.dispatch.PopYearly()
	if job.ZoneID != "grid:28.6/77.2" || job.Year != 2026 {
		t.Errorf("job = %+v, want next-year fetch for the zone", job)
	}
	// Grid zones recover their fetch coordinates from the id.
	if job.Latitude < 28.69 || job.Latitude > 28.71 {
		t.Errorf("latitude = %v, want grid center 28.7", job.Latitude)
	}

	// Second run on the same day: the fetch lock is still leased, so the
	// pair is enqueued at most once per day.
	if err := e.workers.RunYearlyWave(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.dispatch.Len(); got != 0 {
		t.Errorf("second run enqueued %d jobs, want 0", got)
	}
}

func TestYearlyWaveSkipsOffBucketDays(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.fillCalendar(t, 2025)
	e.dispatch = NewMemDispatcher()
	e.workers.dispatch = e.dispatch

	// The day after the selected day is off-bucket for this pair.
	e.workers.now = func() time.Time {
		return waveDayFor("grid:28.6/77.2", "3-0-1", 2025).AddDate(0, 0, 1)
	}
	if err := e.workers.RunYearlyWave(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.dispatch.Len(); got != 0 {
		t.Errorf("off-bucket day enqueued %d jobs, want 0", got)
	}
}

func TestYearlyWaveSkipsExistingNextYear(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.fillCalendar(t, 2025)
	e.fillCalendar(t, 2026)
	e.dispatch = NewMemDispatcher()
	e.workers.dispatch = e.dispatch

	e.workers.now = func() time.Time { return waveDayFor("grid:28.6/77.2", "3-0-1", 2025) }
	if err := e.workers.RunYearlyWave(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.dispatch.Len(); got != 0 {
		t.Errorf("existing next-year calendar re-enqueued: %d jobs", got)
	}
}

func TestMonthlyWaveDispatchesBucketOwners(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.fillCalendar(t, 2025)

	// Day 3 selects remainder 2 with B=28.
	e.workers.now = func() time.Time { return time.Date(2025, 2, 3, 6, 0, 0, 0, time.UTC) }

	// Owners 2 and 30 fall in bucket 2; owner 5 does not.
	for _, id := range []int64{2, 30, 5} {
		e.seedOwner(t, id, models.OwnerIndividual)
	}

	if err := e.workers.RunMonthlyWave(ctx); err != nil {
		t.Fatalf("RunMonthlyWave: %v", err)
	}
	if got := e.dispatch.Len(); got != 2 {
		t.Fatalf("enqueued = %d, want the 2 bucket owners", got)
	}

	e.drainQueue(ctx)
	for _, id := range []int64{2, 30} {
		exists, _ := e.schedRepo.Exists(ctx, id, 2025, 3)
		if !exists {
			t.Errorf("owner %d schedule for next month not built", id)
		}
	}
	if exists, _ := e.schedRepo.Exists(ctx, 5, 2025, 3); exists {
		t.Error("off-bucket owner must not be built")
	}

	// Re-running the wave finds the schedules present and dispatches nothing.
	if err := e.workers.RunMonthlyWave(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.dispatch.Len(); got != 0 {
		t.Errorf("re-run enqueued %d jobs, want 0", got)
	}
}

func TestCleanupDeletesPastYearsOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.fillCalendar(t, 2024)
	e.fillCalendar(t, 2025)

	e.workers.now = func() time.Time { return time.Date(2025, 1, 3, 4, 0, 0, 0, time.UTC) }
	if err := e.workers.RunCleanup(ctx); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if exists, _ := e.calRepo.Exists(ctx, "grid:28.6/77.2", 2024, "3-0-1"); exists {
		t.Error("previous year must be purged")
	}
	if exists, _ := e.calRepo.Exists(ctx, "grid:28.6/77.2", 2025, "3-0-1"); !exists {
		t.Error("current year must be kept")
	}
}

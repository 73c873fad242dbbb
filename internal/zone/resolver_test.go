package zone

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/repo"
)

// stubGeocoder returns canned admin levels, or an error when levels is nil.
type stubGeocoder struct {
	levels *adapters.AdminLevels
	calls  int
}

func (s *stubGeocoder) Name() string { return "stub" }

func (s *stubGeocoder) Geocode(context.Context, string) (*adapters.GeocodeResult, error) {
	return nil, apperr.New(apperr.Permanent, "not implemented")
}

func (s *stubGeocoder) Reverse(context.Context, float64, float64) (*adapters.AdminLevels, error) {
	s.calls++
	if s.levels == nil {
		return nil, apperr.New(apperr.Transient, "reverse unavailable")
	}
	return s.levels, nil
}

func (s *stubGeocoder) Autocomplete(context.Context, string) ([]adapters.Suggestion, error) {
	return nil, apperr.New(apperr.Permanent, "not implemented")
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		SchemaVersion:        "v2",
		YearlyTTL:            24 * time.Hour,
		DailyTTL:             2 * time.Hour,
		LockTTL:              10 * time.Minute,
		GridSize:             0.2,
		DiffThresholdSeconds: 50,
	}
}

func newTestResolver(t *testing.T, geocoder adapters.GeocodingAdapter) (*Resolver, *repo.MemCalendars, *repo.MemAliases) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hot := cache.NewWithClient(client, testCacheConfig())
	calendars := repo.NewMemCalendars()
	aliases := repo.NewMemAliases()
	methods, err := LoadCountryMethods("")
	if err != nil {
		t.Fatalf("LoadCountryMethods: %v", err)
	}
	return New(geocoder, calendars, aliases, hot, methods, testCacheConfig(), 99), calendars, aliases
}

func yearOf(fajrA, fajrB string) []models.DailyTimings {
	days := make([]models.DailyTimings, 365)
	for i := range days {
		fajr := fajrA
		if i == 100 {
			fajr = fajrB
		}
		days[i] = models.DailyTimings{
			Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"),
			Timings: map[string]string{
				models.Fajr: fajr, models.Dhuhr: "12:15", models.Asr: "15:30",
				models.Maghrib: "17:45", models.Isha: "19:00",
			},
		}
	}
	return days
}

func storeCalendar(t *testing.T, calendars *repo.MemCalendars, zoneID string, days []models.DailyTimings) {
	t.Helper()
	hash, err := models.HashDays(days)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := calendars.Upsert(context.Background(), &models.YearlyCalendar{
		ZoneID: zoneID, Year: 2025, MethodKey: "1-0-1", SchemaVersion: "v2",
		Days: days, ContentHash: hash,
	}); err != nil {
		t.Fatal(err)
	}
}

func delhiLevels() *adapters.AdminLevels {
	return &adapters.AdminLevels{
		CountryCode: "IN", Admin1: "DL", Admin2: "New Delhi", Admin3: "Lajpatnagar",
	}
}

func TestGridZoneID(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     string
	}{
		{28.60, 77.20, "grid:28.6/77.2"},
		{28.75, 77.35, "grid:28.6/77.2"},
		{-1.05, 36.70, "grid:-1.2/36.6"},
		{0.0, 0.0, "grid:0/0"},
	}
	for _, tc := range cases {
		if got := GridZoneID(tc.lat, tc.lon, 0.2); got != tc.want {
			t.Errorf("GridZoneID(%v, %v) = %s, want %s", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestGridZoneCenter(t *testing.T) {
	lat, lon, ok := GridZoneCenter("grid:28.6/77.2", 0.2)
	if !ok {
		t.Fatal("expected grid zone to parse")
	}
	if lat < 28.69 || lat > 28.71 || lon < 77.29 || lon > 77.31 {
		t.Errorf("center = (%v, %v), want (28.7, 77.3)", lat, lon)
	}
	if _, _, ok := GridZoneCenter("adm2:IN/DL/NEW_DELHI", 0.2); ok {
		t.Error("admin zone should not parse as grid")
	}
}

func TestResolveGridFallbackOnGeocodeFailure(t *testing.T) {
	r, _, _ := newTestResolver(t, &stubGeocoder{levels: nil})
	res, err := r.Resolve(context.Background(), 28.60, 77.20, models.MethodKey{CalcMethodID: 3, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ZoneID != "grid:28.6/77.2" {
		t.Errorf("zone = %s, want grid:28.6/77.2", res.ZoneID)
	}
}

func TestResolvePrefersAdm3WithoutEvidence(t *testing.T) {
	r, _, aliases := newTestResolver(t, &stubGeocoder{levels: delhiLevels()})
	res, err := r.Resolve(context.Background(), 28.60, 77.20, models.MethodKey{CalcMethodID: 1, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ZoneID != "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR" {
		t.Errorf("zone = %s, want adm3 without comparative evidence", res.ZoneID)
	}
	if a, _ := aliases.Get(context.Background(), "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR", "1-0-1"); a != nil {
		t.Error("no alias should be written without evidence")
	}
}

func TestResolveChoosesAdm3WhenCalendarsDiffer(t *testing.T) {
	// The zones differ by 51s on one day: adm3 wins and no alias is written.
	r, calendars, aliases := newTestResolver(t, &stubGeocoder{levels: delhiLevels()})
	storeCalendar(t, calendars, "adm2:IN/DL/NEW_DELHI", yearOf("05:30", "05:30"))
	storeCalendar(t, calendars, "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR", yearOf("05:30", "05:30:51"))

	res, err := r.Resolve(context.Background(), 28.60, 77.20, models.MethodKey{CalcMethodID: 1, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ZoneID != "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR" {
		t.Errorf("zone = %s, want adm3 when calendars differ past threshold", res.ZoneID)
	}
	if a, _ := aliases.Get(context.Background(), "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR", "1-0-1"); a != nil {
		t.Error("no alias should be written when zones differ")
	}
}

func TestResolveCollapsesToAdm2AndWritesAlias(t *testing.T) {
	r, calendars, aliases := newTestResolver(t, &stubGeocoder{levels: delhiLevels()})
	// 40s apart everywhere: inside the 50s threshold.
	storeCalendar(t, calendars, "adm2:IN/DL/NEW_DELHI", yearOf("05:30", "05:30"))
	storeCalendar(t, calendars, "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR", yearOf("05:30:40", "05:30:40"))

	ctx := context.Background()
	res, err := r.Resolve(ctx, 28.60, 77.20, models.MethodKey{CalcMethodID: 1, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ZoneID != "adm2:IN/DL/NEW_DELHI" {
		t.Errorf("zone = %s, want adm2 when calendars agree", res.ZoneID)
	}
	alias, _ := aliases.Get(ctx, "adm3:IN/DL/NEW_DELHI/LAJPATNAGAR", "1-0-1")
	if alias == nil || alias.TargetZoneID != "adm2:IN/DL/NEW_DELHI" {
		t.Fatalf("alias = %+v, want adm3 -> adm2", alias)
	}

	// Follow-up resolutions answer through the alias.
	res, err = r.Resolve(ctx, 28.60, 77.20, models.MethodKey{CalcMethodID: 1, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve via alias: %v", err)
	}
	if res.ZoneID != "adm2:IN/DL/NEW_DELHI" {
		t.Errorf("aliased zone = %s, want adm2", res.ZoneID)
	}
}

func TestResolveAutomaticMethod(t *testing.T) {
	r, _, _ := newTestResolver(t, &stubGeocoder{levels: delhiLevels()})
	res, err := r.Resolve(context.Background(), 28.60, 77.20, models.MethodKey{CalcMethodID: 99, HighLatID: 1}, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// India maps to Karachi (method 1) in the embedded table.
	if res.Method.CalcMethodID != 1 {
		t.Errorf("method = %d, want 1 (AUTOMATIC resolved by country)", res.Method.CalcMethodID)
	}
}

func TestCalendarsDifferMissingData(t *testing.T) {
	if !CalendarsDiffer(nil, yearOf("05:30", "05:30"), 50) {
		t.Error("missing calendar must count as different")
	}
}

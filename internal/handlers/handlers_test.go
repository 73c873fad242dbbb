package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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
	"github.com/quraeshi99/noortime/internal/services"
	"github.com/quraeshi99/noortime/internal/zone"
)

// fakePrayer synthesizes deterministic days.
type fakePrayer struct {
	mu          sync.Mutex
	yearlyCalls int
}

func (f *fakePrayer) Name() string { return "fake" }

func day(date time.Time, lat, lon float64) models.DailyTimings {
	return models.DailyTimings{
		Date: date.Format("2006-01-02"),
		Timings: map[string]string{
			models.Fajr: "05:00", models.Sunrise: "06:00", models.Dhuhr: "13:00",
			models.Asr: "17:00", models.Sunset: "18:00", models.Maghrib: "18:00",
			models.Isha: "20:00", models.Imsak: "04:50", models.Midnight: "00:10",
		},
		Hijri: "10 Rajab 1446 AH",
		Meta:  &models.DayMeta{Latitude: lat, Longitude: lon},
	}
}

func (f *fakePrayer) FetchDaily(_ context.Context, date time.Time, lat, lon float64, _ models.MethodKey) (*models.DailyTimings, error) {
	d := day(date, lat, lon)
	return &d, nil
}

func (f *fakePrayer) FetchYearly(_ context.Context, year int, lat, lon float64, _ models.MethodKey) ([]models.DailyTimings, error) {
	f.mu.Lock()
	f.yearlyCalls++
	f.mu.Unlock()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	var days []models.DailyTimings
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days = append(days, day(d, lat, lon))
	}
	return days, nil
}

// fakeGeocoder serves a canned forward result; reverse always fails so zones
// fall back to the grid.
type fakeGeocoder struct{ geocodeCalls int }

func (f *fakeGeocoder) Name() string { return "fake" }
func (f *fakeGeocoder) Geocode(_ context.Context, city string) (*adapters.GeocodeResult, error) {
	f.geocodeCalls++
	if strings.EqualFold(city, "nowhere") {
		return nil, apperr.Newf(apperr.NotFound, "city %q not found", city)
	}
	return &adapters.GeocodeResult{City: city, Latitude: 28.61, Longitude: 77.21, Country: "India"}, nil
}
func (f *fakeGeocoder) Reverse(context.Context, float64, float64) (*adapters.AdminLevels, error) {
	return nil, apperr.New(apperr.Transient, "down")
}
func (f *fakeGeocoder) Autocomplete(context.Context, string) ([]adapters.Suggestion, error) {
	return []adapters.Suggestion{{DisplayName: "New Delhi, India", Latitude: 28.61, Longitude: 77.21}}, nil
}

type testServer struct {
	srv      *httptest.Server
	owners   *repo.MemOwners
	settings *repo.MemSettings
	geocoder *fakeGeocoder
	prayer   *fakePrayer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{
		Cache: config.CacheConfig{
			SchemaVersion:        "v2",
			YearlyTTL:            24 * time.Hour,
			DailyTTL:             2 * time.Hour,
			LockTTL:              10 * time.Minute,
			GridSize:             0.2,
			DiffThresholdSeconds: 50,
			GracePeriodMonth:     12,
			GracePeriodDay:       15,
		},
		Schedule: config.ScheduleConfig{GenerationDays: 28},
		Prayer: config.PrayerConfig{
			AutomaticMethod: 99,
			DefaultLat:      28.60,
			DefaultLon:      77.20,
			DefaultMethod:   "1-0-1",
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	hot := cache.NewWithClient(client, cfg.Cache)
	calRepo := repo.NewMemCalendars()
	aliasRepo := repo.NewMemAliases()
	schedRepo := repo.NewMemSchedules()
	setRepo := repo.NewMemSettings()
	owners := repo.NewMemOwners(schedRepo)
	geoRepo := repo.NewMemGeocodes()
	notifier := &repo.RecordingNotifier{}
	prayer := &fakePrayer{}
	geocoder := &fakeGeocoder{}
	dispatch := services.NewMemDispatcher()

	methods, err := zone.LoadCountryMethods("")
	if err != nil {
		t.Fatal(err)
	}
	resolver := zone.New(geocoder, calRepo, aliasRepo, hot, methods, cfg.Cache, cfg.Prayer.AutomaticMethod)
	calendars := services.NewCalendarService(resolver, hot, calRepo, prayer, dispatch, cfg.Cache)
	schedules := services.NewScheduleService(calendars, schedRepo, setRepo, owners, hot)
	settingsSvc := services.NewSettingsService(setRepo, schedRepo, owners, hot, notifier)

	h := New(Deps{
		Cfg:          cfg,
		Cache:        hot,
		Calendars:    calendars,
		Schedules:    schedules,
		SettingsSvc:  settingsSvc,
		Owners:       owners,
		SettingsRepo: setRepo,
		Geocoder:     geocoder,
		Geocodes:     geoRepo,
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	// Seed a collective owner with full settings at the default grid.
	owners.AddOwner(models.Owner{ID: 9, Kind: models.OwnerCollective, Name: "Central Masjid"})
	masjidSettings := &models.OwnerSettings{
		OwnerID:   9,
		Latitude:  28.60,
		Longitude: 77.20,
		Method:    models.MethodKey{CalcMethodID: 1, HighLatID: 1},
		Rules: map[string]models.PrayerRule{
			models.Fajr:    {Offset: &models.OffsetRule{AzanOffset: 10, JamaatOffset: 15}},
			models.Dhuhr:   {Offset: &models.OffsetRule{AzanOffset: 15, JamaatOffset: 15}},
			models.Asr:     {Offset: &models.OffsetRule{AzanOffset: 20, JamaatOffset: 20}},
			models.Maghrib: {Offset: &models.OffsetRule{AzanOffset: 0, JamaatOffset: 5}},
			models.Isha:    {Offset: &models.OffsetRule{AzanOffset: 45, JamaatOffset: 15}},
		},
		ThresholdMinutes: 5,
		Jummah:           models.JummahRule{Offset: &models.JummahOffset{AzanOffset: 15, KhutbahOffset: 15, JamaatOffset: 15}},
		Timezone:         "UTC",
		TimeFormat:       "12h",
	}
	if err := setRepo.Save(context.Background(), masjidSettings); err != nil {
		t.Fatal(err)
	}

	return &testServer{srv: srv, owners: owners, settings: setRepo, geocoder: geocoder, prayer: prayer}
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestGetInitialPrayerDataGuest(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/prayer/initial?lat=28.60&lon=77.20&method=1&city=Delhi")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)

	if body["currentLocationName"] != "Delhi" {
		t.Errorf("currentLocationName = %v", body["currentLocationName"])
	}
	times, ok := body["prayerTimes"].(map[string]any)
	if !ok {
		t.Fatal("prayerTimes missing")
	}
	fajr, ok := times["fajr"].(map[string]any)
	if !ok || fajr["azan"] == "" {
		t.Errorf("fajr block malformed: %v", times["fajr"])
	}
	// Guest settings track the raw start exactly.
	if fajr["azan"] != "05:00" {
		t.Errorf("guest fajr azan = %v, want raw 05:00", fajr["azan"])
	}
	if _, ok := body["currentPrayerPeriod"].(map[string]any); !ok {
		t.Error("currentPrayerPeriod missing")
	}
	if _, ok := body["dateInfo"].(map[string]any); !ok {
		t.Error("dateInfo missing")
	}
	if following, _ := body["is_following_default_masjid"].(bool); following {
		t.Error("guest without device follow must not be following")
	}
}

func TestGetInitialPrayerDataRejectsBadLat(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/prayer/initial?lat=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMonthlyScheduleRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/schedule/monthly?year=2025&month=3")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for anonymous schedule read", resp.StatusCode)
	}
}

func TestGuestFollowAndSchedule(t *testing.T) {
	ts := newTestServer(t)

	follow := func() *http.Response {
		req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/guest/follow", strings.NewReader(`{"masjid_id":9}`))
		req.Header.Set("X-Device-ID", "device-1")
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}
	resp := follow()
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("follow status = %d, want 200", resp.StatusCode)
	}
	// Idempotent upsert.
	resp = follow()
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second follow status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/schedule/monthly?year=2025&month=3", nil)
	req.Header.Set("X-Device-ID", "device-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200", resp.StatusCode)
	}
	var sched models.MonthlySchedule
	decode(t, resp, &sched)
	if sched.OwnerID != 9 {
		t.Errorf("schedule owner = %d, want the followed masjid", sched.OwnerID)
	}
	if len(sched.Script) == 0 {
		t.Error("schedule script empty")
	}
}

func TestGuestFollowRejectsIndividual(t *testing.T) {
	ts := newTestServer(t)
	ts.owners.AddOwner(models.Owner{ID: 3, Kind: models.OwnerIndividual, Name: "person"})

	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/guest/follow", strings.NewReader(`{"masjid_id":3}`))
	req.Header.Set("X-Device-ID", "device-2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for non-collective target", resp.StatusCode)
	}
}

func TestSettingsConflictForFollower(t *testing.T) {
	ts := newTestServer(t)
	ts.owners.AddOwner(models.Owner{ID: 4, Kind: models.OwnerIndividual, Name: "follower"})
	ts.owners.SetFollow(4, 9)

	body := `{
		"latitude": 28.60, "longitude": 77.20, "method_key": "1-0-1",
		"rules": {
			"Fajr": {"fixed": {"azan": "05:30", "jamaat": "05:45"}},
			"Dhuhr": {"offset": {"azan_offset": 15, "jamaat_offset": 15}},
			"Asr": {"offset": {"azan_offset": 20, "jamaat_offset": 20}},
			"Maghrib": {"offset": {"azan_offset": 0, "jamaat_offset": 5}},
			"Isha": {"offset": {"azan_offset": 45, "jamaat_offset": 15}}
		},
		"jummah": {"offset": {"azan_offset": 15, "khutbah_offset": 15, "jamaat_offset": 15}},
		"timezone": "UTC", "time_format": "12h"
	}`
	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/owner/settings", strings.NewReader(body))
	req.Header.Set("X-Owner-ID", "4")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for follower prayer-settings change", resp.StatusCode)
	}
}

func TestGeocodeCaches(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/geo/geocode?city=Delhi")
	if err != nil {
		t.Fatal(err)
	}
	var first map[string]any
	decode(t, resp, &first)
	if first["cached"] != false {
		t.Errorf("first lookup cached = %v, want false", first["cached"])
	}

	resp, err = http.Get(ts.srv.URL + "/geo/geocode?city=delhi")
	if err != nil {
		t.Fatal(err)
	}
	var second map[string]any
	decode(t, resp, &second)
	if second["cached"] != true {
		t.Errorf("second lookup cached = %v, want true", second["cached"])
	}
	if ts.geocoder.geocodeCalls != 1 {
		t.Errorf("geocoder calls = %d, want 1", ts.geocoder.geocodeCalls)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/geo/geocode?city=nowhere")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

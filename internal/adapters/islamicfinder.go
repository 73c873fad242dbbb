package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/metrics"
	"github.com/quraeshi99/noortime/internal/models"
)

// IslamicFinder is the secondary prayer-time adapter. It only exposes a daily
// endpoint upstream, so the yearly fetch is composed from per-day calls.
type IslamicFinder struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewIslamicFinder creates the adapter.
func NewIslamicFinder(baseURL, apiKey string) *IslamicFinder {
	if baseURL == "" {
		baseURL = "https://www.islamicfinder.us/index.php/api"
	}
	return &IslamicFinder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *IslamicFinder) Name() string { return "islamicfinder" }

type islamicFinderDay struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Results map[string]string `json:"results"`
}

// islamicFinderKeyMap maps provider keys to the canonical shape.
var islamicFinderKeyMap = map[string]string{
	"Fajr":    models.Fajr,
	"Duha":    models.Sunrise,
	"Dhuhr":   models.Dhuhr,
	"Asr":     models.Asr,
	"Maghrib": models.Maghrib,
	"Isha":    models.Isha,
}

// FetchDaily returns one day's canonical timings.
func (f *IslamicFinder) FetchDaily(ctx context.Context, date time.Time, lat, lon float64, method models.MethodKey) (*models.DailyTimings, error) {
	var day *models.DailyTimings
	err := withRetry(ctx, func() error {
		d, err := f.fetchOne(ctx, date, lat, lon, method)
		if err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

// FetchYearly composes the year from daily calls, sorted by construction.
func (f *IslamicFinder) FetchYearly(ctx context.Context, year int, lat, lon float64, method models.MethodKey) ([]models.DailyTimings, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	days := make([]models.DailyTimings, 0, 366)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		day, err := f.FetchDaily(ctx, d, lat, lon, method)
		if err != nil {
			return nil, fmt.Errorf("islamicfinder yearly at %s: %w", d.Format("2006-01-02"), err)
		}
		days = append(days, *day)
	}
	return days, nil
}

func (f *IslamicFinder) fetchOne(ctx context.Context, date time.Time, lat, lon float64, method models.MethodKey) (*models.DailyTimings, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.APIRequests.WithLabelValues(f.Name(), "prayer_times", status).Inc()
		metrics.APIRequestDuration.WithLabelValues(f.Name(), "prayer_times").Observe(time.Since(start).Seconds())
	}()

	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	v.Set("method", strconv.Itoa(method.CalcMethodID))
	v.Set("juristic", strconv.Itoa(method.AsrJuristicID))
	v.Set("high_latitude", strconv.Itoa(method.HighLatID))
	v.Set("date", date.Format("2006-01-02"))
	v.Set("time_format", "0")
	if f.apiKey != "" {
		v.Set("user_key", f.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/prayer_times?"+v.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "islamicfinder request build", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err, f.Name(), "prayer_times")
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)
	if err := classifyHTTP(resp, f.Name(), "prayer_times"); err != nil {
		return nil, err
	}

	var body islamicFinderDay
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "islamicfinder response decode", err)
	}
	if !body.Success {
		return nil, apperr.Newf(apperr.Permanent, "islamicfinder error: %s", body.Message)
	}

	timings := make(map[string]string, len(body.Results))
	for providerKey, canonical := range islamicFinderKeyMap {
		if t, ok := body.Results[providerKey]; ok && t != "" {
			timings[canonical] = normalizeClock(t)
		}
	}
	if _, ok := timings[models.Fajr]; !ok {
		return nil, apperr.Newf(apperr.Permanent, "islamicfinder day %s missing Fajr", date.Format("2006-01-02"))
	}
	return &models.DailyTimings{
		Date:    date.Format("2006-01-02"),
		Timings: timings,
		Meta:    &models.DayMeta{Latitude: lat, Longitude: lon},
	}, nil
}

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/metrics"
	"github.com/quraeshi99/noortime/internal/models"
)

// AlAdhan is the primary prayer-time adapter, backed by the AlAdhan.com API.
type AlAdhan struct {
	baseURL string
	client  *http.Client
}

// NewAlAdhan creates the adapter. baseURL defaults to the public API when
// empty.
func NewAlAdhan(baseURL string) *AlAdhan {
	if baseURL == "" {
		baseURL = "https://api.aladhan.com/v1"
	}
	return &AlAdhan{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *AlAdhan) Name() string { return "aladhan" }

// aladhanEnvelope is the provider's response wrapper.
type aladhanEnvelope struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type aladhanDay struct {
	Timings map[string]string `json:"timings"`
	Date    struct {
		Gregorian struct {
			Date string `json:"date"` // DD-MM-YYYY
		} `json:"gregorian"`
		Hijri struct {
			Day   string `json:"day"`
			Year  string `json:"year"`
			Month struct {
				En string `json:"en"`
			} `json:"month"`
		} `json:"hijri"`
	} `json:"date"`
}

// FetchDaily returns one day's canonical timings.
func (a *AlAdhan) FetchDaily(ctx context.Context, date time.Time, lat, lon float64, method models.MethodKey) (*models.DailyTimings, error) {
	endpoint := fmt.Sprintf("%s/timings/%s", a.baseURL, date.Format("02-01-2006"))
	var day *models.DailyTimings
	err := withRetry(ctx, func() error {
		raw, err := a.get(ctx, "timings", endpoint, a.params(lat, lon, method, nil))
		if err != nil {
			return err
		}
		var d aladhanDay
		if err := json.Unmarshal(raw, &d); err != nil {
			return apperr.Wrap(apperr.Permanent, "aladhan timings payload", err)
		}
		day, err = a.toDaily(d, lat, lon)
		return err
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

// FetchYearly returns the full year sorted by date ascending.
func (a *AlAdhan) FetchYearly(ctx context.Context, year int, lat, lon float64, method models.MethodKey) ([]models.DailyTimings, error) {
	endpoint := fmt.Sprintf("%s/calendar", a.baseURL)
	extra := url.Values{"year": {strconv.Itoa(year)}}
	var days []models.DailyTimings
	err := withRetry(ctx, func() error {
		raw, err := a.get(ctx, "calendar", endpoint, a.params(lat, lon, method, extra))
		if err != nil {
			return err
		}
		// The calendar endpoint returns a month-number -> days map.
		var byMonth map[string][]aladhanDay
		if err := json.Unmarshal(raw, &byMonth); err != nil {
			return apperr.Wrap(apperr.Permanent, "aladhan calendar payload", err)
		}
		months := make([]int, 0, len(byMonth))
		for k := range byMonth {
			m, err := strconv.Atoi(k)
			if err != nil {
				return apperr.Newf(apperr.Permanent, "aladhan calendar month key %q", k)
			}
			months = append(months, m)
		}
		sort.Ints(months)
		days = days[:0]
		for _, m := range months {
			for _, d := range byMonth[strconv.Itoa(m)] {
				converted, err := a.toDaily(d, lat, lon)
				if err != nil {
					return err
				}
				days = append(days, *converted)
			}
		}
		if len(days) == 0 {
			return apperr.Newf(apperr.Permanent, "aladhan calendar returned no days for %d", year)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return days, nil
}

func (a *AlAdhan) params(lat, lon float64, method models.MethodKey, extra url.Values) url.Values {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	v.Set("method", strconv.Itoa(method.CalcMethodID))
	v.Set("school", strconv.Itoa(method.AsrJuristicID))
	v.Set("latitudeAdjustmentMethod", strconv.Itoa(method.HighLatID))
	for k, vals := range extra {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	return v
}

// get performs one instrumented request and unwraps the provider envelope.
func (a *AlAdhan) get(ctx context.Context, endpointLabel, endpoint string, params url.Values) (json.RawMessage, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.APIRequests.WithLabelValues(a.Name(), endpointLabel, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(a.Name(), endpointLabel).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "aladhan request build", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err, a.Name(), endpointLabel)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)
	if err := classifyHTTP(resp, a.Name(), endpointLabel); err != nil {
		return nil, err
	}

	var env aladhanEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "aladhan response decode", err)
	}
	if env.Code != http.StatusOK {
		return nil, apperr.Newf(apperr.Permanent, "aladhan error envelope code=%d status=%s", env.Code, env.Status)
	}
	return env.Data, nil
}

// toDaily converts a provider day to the canonical shape. Timezone suffixes
// like "05:01 (IST)" are stripped; only canonical keys are kept.
func (a *AlAdhan) toDaily(d aladhanDay, lat, lon float64) (*models.DailyTimings, error) {
	gd, err := time.Parse("02-01-2006", d.Date.Gregorian.Date)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, fmt.Sprintf("aladhan gregorian date %q", d.Date.Gregorian.Date), err)
	}
	timings := make(map[string]string, len(models.TimingKeys))
	for _, key := range models.TimingKeys {
		if v, ok := d.Timings[key]; ok && v != "" {
			timings[key] = normalizeClock(v)
		}
	}
	if _, ok := timings[models.Fajr]; !ok {
		return nil, apperr.Newf(apperr.Permanent, "aladhan day %s missing Fajr", d.Date.Gregorian.Date)
	}
	hijri := ""
	if h := d.Date.Hijri; h.Day != "" && h.Month.En != "" && h.Year != "" {
		hijri = fmt.Sprintf("%s %s %s AH", h.Day, h.Month.En, h.Year)
	}
	return &models.DailyTimings{
		Date:    gd.Format("2006-01-02"),
		Timings: timings,
		Hijri:   hijri,
		Meta:    &models.DayMeta{Latitude: lat, Longitude: lon},
	}, nil
}

// normalizeClock strips a provider timezone suffix ("05:01 (IST)" -> "05:01").
func normalizeClock(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return strings.TrimSpace(s)
}

// Package adapters holds the pluggable ports to the external prayer-time API
// and the geocoding provider, plus their concrete implementations. Adapters
// classify every failure as transient or permanent and retry transient
// failures internally with capped exponential backoff.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

// PrayerTimeAdapter fetches raw prayer times from an upstream provider.
// Implementations return the canonical daily shape (models.TimingKeys) with
// local "HH:MM" values.
type PrayerTimeAdapter interface {
	Name() string
	// FetchDaily returns one day's timings.
	FetchDaily(ctx context.Context, date time.Time, lat, lon float64, method models.MethodKey) (*models.DailyTimings, error)
	// FetchYearly returns 365/366 entries sorted by date ascending.
	FetchYearly(ctx context.Context, year int, lat, lon float64, method models.MethodKey) ([]models.DailyTimings, error)
}

// GeocodeResult is a forward-geocoding hit.
type GeocodeResult struct {
	City      string
	Latitude  float64
	Longitude float64
	Country   string
}

// AdminLevels are the administrative boundaries of a coordinate.
type AdminLevels struct {
	CountryCode string
	Admin1      string
	Admin2      string
	Admin3      string
	DisplayName string
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	DisplayName string  `json:"display_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// GeocodingAdapter converts between city names, coordinates, and
// administrative levels.
type GeocodingAdapter interface {
	Name() string
	Geocode(ctx context.Context, city string) (*GeocodeResult, error)
	// Reverse returns the administrative levels for a coordinate. Providers
	// without reverse support return a Permanent error; the zone resolver
	// falls back to grid quantization.
	Reverse(ctx context.Context, lat, lon float64) (*AdminLevels, error)
	Autocomplete(ctx context.Context, prefix string) ([]Suggestion, error)
}

// Retry policy for transient upstream failures.
const (
	retryAttempts = 3
	retryBase     = 250 * time.Millisecond
	retryCap      = 4 * time.Second
)

// withRetry runs fn up to retryAttempts times, backing off exponentially on
// transient errors and honoring an upstream Retry-After hint when present.
// Permanent errors surface immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !apperr.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts-1 {
			break
		}
		delay := retryBase << attempt
		if delay > retryCap {
			delay = retryCap
		}
		if ra := apperr.RetryAfterOf(err); ra > 0 {
			hinted := time.Duration(ra) * time.Second
			if hinted > delay {
				delay = hinted
			}
			if delay > retryCap {
				delay = retryCap
			}
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Transient, "request cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

// classifyHTTP maps an HTTP response status to the error taxonomy.
// 429 is transient with the Retry-After hint; other 4xx are permanent;
// 5xx are transient.
func classifyHTTP(resp *http.Response, adapter, endpoint string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := apperr.Newf(apperr.Transient, "%s %s rate limited", adapter, endpoint)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				e.RetryAfter = secs
			}
		}
		return e
	case resp.StatusCode >= 500:
		return apperr.Newf(apperr.Transient, "%s %s returned %d", adapter, endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		return apperr.Newf(apperr.Permanent, "%s %s returned %d", adapter, endpoint, resp.StatusCode)
	default:
		return nil
	}
}

// classifyTransport maps transport-level failures (timeouts, refused
// connections, cancelled contexts) to transient errors.
func classifyTransport(err error, adapter, endpoint string) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.Transient, fmt.Sprintf("%s %s transport failure", adapter, endpoint), err)
	}
	return apperr.Wrap(apperr.Transient, fmt.Sprintf("%s %s request failed", adapter, endpoint), err)
}

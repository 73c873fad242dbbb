package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/metrics"
)

// OpenWeatherMap is the fallback geocoding adapter. Its geocoding API has no
// administrative-boundary reverse lookup, so Reverse returns a permanent
// error and the zone resolver falls back to grid quantization.
type OpenWeatherMap struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenWeatherMap creates the adapter.
func NewOpenWeatherMap(apiKey string) *OpenWeatherMap {
	return &OpenWeatherMap{
		baseURL: "https://api.openweathermap.org/geo/1.0",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (o *OpenWeatherMap) Name() string { return "openweathermap" }

type owmPlace struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// Geocode resolves a city name via the direct geocoding endpoint.
func (o *OpenWeatherMap) Geocode(ctx context.Context, city string) (*GeocodeResult, error) {
	if o.apiKey == "" {
		return nil, apperr.New(apperr.Permanent, "openweathermap api key not configured")
	}
	v := url.Values{"q": {city}, "limit": {"1"}, "appid": {o.apiKey}}
	var result *GeocodeResult
	err := withRetry(ctx, func() error {
		var places []owmPlace
		if err := o.get(ctx, "direct", o.baseURL+"/direct", v, &places); err != nil {
			return err
		}
		if len(places) == 0 {
			return apperr.Newf(apperr.NotFound, "city %q not found", city)
		}
		p := places[0]
		result = &GeocodeResult{City: p.Name, Latitude: p.Lat, Longitude: p.Lon, Country: p.Country}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reverse is unsupported: the provider reports the place name but not the
// administrative hierarchy the resolver needs.
func (o *OpenWeatherMap) Reverse(ctx context.Context, lat, lon float64) (*AdminLevels, error) {
	return nil, apperr.New(apperr.Permanent, "openweathermap does not expose administrative levels")
}

// Autocomplete approximates suggestions with a multi-result direct lookup.
func (o *OpenWeatherMap) Autocomplete(ctx context.Context, prefix string) ([]Suggestion, error) {
	if o.apiKey == "" {
		return nil, apperr.New(apperr.Permanent, "openweathermap api key not configured")
	}
	v := url.Values{"q": {prefix}, "limit": {"5"}, "appid": {o.apiKey}}
	var out []Suggestion
	err := withRetry(ctx, func() error {
		var places []owmPlace
		if err := o.get(ctx, "direct", o.baseURL+"/direct", v, &places); err != nil {
			return err
		}
		out = out[:0]
		for _, p := range places {
			name := p.Name
			if p.State != "" {
				name += ", " + p.State
			}
			if p.Country != "" {
				name += ", " + p.Country
			}
			out = append(out, Suggestion{DisplayName: name, Latitude: p.Lat, Longitude: p.Lon})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpenWeatherMap) get(ctx context.Context, endpointLabel, endpoint string, params url.Values, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.APIRequests.WithLabelValues(o.Name(), endpointLabel, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(o.Name(), endpointLabel).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return apperr.Wrap(apperr.Permanent, "openweathermap request build", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return classifyTransport(err, o.Name(), endpointLabel)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)
	if err := classifyHTTP(resp, o.Name(), endpointLabel); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Permanent, "openweathermap response decode", err)
	}
	return nil
}

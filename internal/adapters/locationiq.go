package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/metrics"
)

// LocationIQ is the primary geocoding adapter. It supports forward, reverse,
// and autocomplete lookups.
type LocationIQ struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLocationIQ creates the adapter.
func NewLocationIQ(apiKey string) *LocationIQ {
	return &LocationIQ{
		baseURL: "https://us1.locationiq.com/v1",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *LocationIQ) Name() string { return "locationiq" }

type locationIQPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		CountryCode   string `json:"country_code"`
		State         string `json:"state"`
		County        string `json:"county"`
		StateDistrict string `json:"state_district"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Suburb        string `json:"suburb"`
	} `json:"address"`
}

// Geocode resolves a city name to coordinates and country.
func (l *LocationIQ) Geocode(ctx context.Context, city string) (*GeocodeResult, error) {
	if l.apiKey == "" {
		return nil, apperr.New(apperr.Permanent, "locationiq api key not configured")
	}
	v := url.Values{"key": {l.apiKey}, "q": {city}, "format": {"json"}, "limit": {"1"}}
	var result *GeocodeResult
	err := withRetry(ctx, func() error {
		var places []locationIQPlace
		if err := l.get(ctx, "search", l.baseURL+"/search.php", v, &places); err != nil {
			return err
		}
		if len(places) == 0 {
			return apperr.Newf(apperr.NotFound, "city %q not found", city)
		}
		p := places[0]
		lat, err1 := strconv.ParseFloat(p.Lat, 64)
		lon, err2 := strconv.ParseFloat(p.Lon, 64)
		if err1 != nil || err2 != nil {
			return apperr.Newf(apperr.Permanent, "locationiq coordinates for %q unparseable", city)
		}
		parts := strings.Split(p.DisplayName, ",")
		country := ""
		name := city
		if len(parts) > 0 {
			name = strings.TrimSpace(parts[0])
			country = strings.TrimSpace(parts[len(parts)-1])
		}
		result = &GeocodeResult{City: name, Latitude: lat, Longitude: lon, Country: country}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reverse resolves a coordinate to administrative levels. Zoom 10 returns
// the county/district boundaries the zone resolver needs.
func (l *LocationIQ) Reverse(ctx context.Context, lat, lon float64) (*AdminLevels, error) {
	if l.apiKey == "" {
		return nil, apperr.New(apperr.Permanent, "locationiq api key not configured")
	}
	v := url.Values{
		"key":    {l.apiKey},
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format": {"json"},
		"zoom":   {"10"},
	}
	var levels *AdminLevels
	err := withRetry(ctx, func() error {
		var p locationIQPlace
		if err := l.get(ctx, "reverse", l.baseURL+"/reverse.php", v, &p); err != nil {
			return err
		}
		admin2 := p.Address.County
		if admin2 == "" {
			admin2 = p.Address.StateDistrict
		}
		admin3 := p.Address.City
		for _, alt := range []string{p.Address.Town, p.Address.Village, p.Address.Suburb} {
			if admin3 != "" {
				break
			}
			admin3 = alt
		}
		levels = &AdminLevels{
			CountryCode: strings.ToUpper(p.Address.CountryCode),
			Admin1:      p.Address.State,
			Admin2:      admin2,
			Admin3:      admin3,
			DisplayName: p.DisplayName,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// Autocomplete returns up to five suggestions for a prefix.
func (l *LocationIQ) Autocomplete(ctx context.Context, prefix string) ([]Suggestion, error) {
	if l.apiKey == "" {
		return nil, apperr.New(apperr.Permanent, "locationiq api key not configured")
	}
	v := url.Values{"key": {l.apiKey}, "q": {prefix}, "limit": {"5"}, "format": {"json"}}
	var out []Suggestion
	err := withRetry(ctx, func() error {
		var places []locationIQPlace
		if err := l.get(ctx, "autocomplete", l.baseURL+"/autocomplete.php", v, &places); err != nil {
			return err
		}
		out = out[:0]
		for _, p := range places {
			lat, err1 := strconv.ParseFloat(p.Lat, 64)
			lon, err2 := strconv.ParseFloat(p.Lon, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			out = append(out, Suggestion{DisplayName: p.DisplayName, Latitude: lat, Longitude: lon})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LocationIQ) get(ctx context.Context, endpointLabel, endpoint string, params url.Values, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.APIRequests.WithLabelValues(l.Name(), endpointLabel, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(l.Name(), endpointLabel).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return apperr.Wrap(apperr.Permanent, "locationiq request build", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return classifyTransport(err, l.Name(), endpointLabel)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		return apperr.New(apperr.NotFound, "locationiq: no result")
	}
	if err := classifyHTTP(resp, l.Name(), endpointLabel); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Permanent, "locationiq response decode", err)
	}
	return nil
}

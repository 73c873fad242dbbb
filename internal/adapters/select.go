package adapters

import (
	"fmt"
	"strings"

	"github.com/quraeshi99/noortime/internal/config"
)

// SelectPrayerAdapter builds the configured prayer-time adapter. Both
// implementations are compiled in; configuration picks one at startup.
func SelectPrayerAdapter(cfg config.PrayerConfig) (PrayerTimeAdapter, error) {
	switch strings.ToLower(cfg.Adapter) {
	case "", "aladhan":
		return NewAlAdhan(cfg.BaseURL), nil
	case "islamicfinder":
		return NewIslamicFinder(cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported prayer adapter %q", cfg.Adapter)
	}
}

// SelectGeocodingAdapter builds the configured geocoding adapter.
func SelectGeocodingAdapter(cfg config.GeocodeConfig) (GeocodingAdapter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "locationiq":
		return NewLocationIQ(cfg.APIKey), nil
	case "openweathermap":
		return NewOpenWeatherMap(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported geocoding provider %q", cfg.Provider)
	}
}

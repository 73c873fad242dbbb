// Package config loads the process configuration from the environment once
// at startup. The resulting value is immutable; components receive it by
// reference and never read process-wide state afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Prayer   PrayerConfig
	Geocode  GeocodeConfig
	Cache    CacheConfig
	Schedule ScheduleConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Host        string
	Port        string
	Environment string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

// PrayerConfig selects and parameterizes the prayer-time adapter.
type PrayerConfig struct {
	Adapter         string // "aladhan" or "islamicfinder"
	BaseURL         string
	APIKey          string
	AutomaticMethod int    // sentinel method id meaning "resolve by country"
	CountryMapPath  string // JSON country->method map; embedded default if empty
	DefaultLat      float64
	DefaultLon      float64
	DefaultMethod   string // composite method key used when a request carries none
}

// GeocodeConfig selects and parameterizes the geocoding adapter.
type GeocodeConfig struct {
	Provider string // "locationiq" or "openweathermap"
	APIKey   string
}

// CacheConfig parameterizes the calendar cache pyramid.
type CacheConfig struct {
	SchemaVersion        string
	YearlyTTL            time.Duration
	DailyTTL             time.Duration
	LockTTL              time.Duration
	GridSize             float64 // degrees, grid zone quantization
	DiffThresholdSeconds int     // zone similarity threshold
	GracePeriodMonth     int
	GracePeriodDay       int
	CleanupMonth         int
	CleanupDay           int
}

// ScheduleConfig parameterizes the monthly rolling wave.
type ScheduleConfig struct {
	GenerationDays int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file is honored in
// development.
func Load() (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("HOST", "0.0.0.0"),
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Prayer: PrayerConfig{
			Adapter:         getEnv("PRAYER_API_ADAPTER", "aladhan"),
			BaseURL:         getEnv("PRAYER_API_BASE_URL", "https://api.aladhan.com/v1"),
			APIKey:          os.Getenv("PRAYER_API_KEY"),
			AutomaticMethod: getEnvInt("AUTOMATIC_METHOD_ID", 99),
			CountryMapPath:  os.Getenv("COUNTRY_METHOD_MAP_PATH"),
			DefaultLat:      getEnvFloat("DEFAULT_LATITUDE", 19.2183),
			DefaultLon:      getEnvFloat("DEFAULT_LONGITUDE", 72.8493),
			DefaultMethod:   getEnv("DEFAULT_METHOD_KEY", "1-0-1"),
		},
		Geocode: GeocodeConfig{
			Provider: getEnv("GEOCODING_PROVIDER", "locationiq"),
			APIKey:   os.Getenv("GEOCODING_API_KEY"),
		},
		Cache: CacheConfig{
			SchemaVersion:        getEnv("CACHE_SCHEMA_VERSION", "v2"),
			YearlyTTL:            time.Duration(getEnvInt("REDIS_TTL_YEARLY_CALENDAR", 7*24*3600)) * time.Second,
			DailyTTL:             time.Duration(getEnvInt("REDIS_TTL_DAILY_CACHE", 2*3600)) * time.Second,
			LockTTL:              time.Duration(getEnvInt("CALENDAR_FETCH_LOCK_TTL", 600)) * time.Second,
			GridSize:             getEnvFloat("PRAYER_ZONE_GRID_SIZE", 0.2),
			DiffThresholdSeconds: getEnvInt("PRAYER_TIME_DIFF_THRESHOLD_SECONDS", 50),
			GracePeriodMonth:     getEnvInt("CACHE_GRACE_PERIOD_START_MONTH", 12),
			GracePeriodDay:       getEnvInt("CACHE_GRACE_PERIOD_START_DAY", 15),
			CleanupMonth:         getEnvInt("CACHE_CLEANUP_MONTH", 1),
			CleanupDay:           getEnvInt("CACHE_CLEANUP_DAY", 3),
		},
		Schedule: ScheduleConfig{
			GenerationDays: getEnvInt("SCHEDULE_GENERATION_DAYS", 28),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getEnv("CORS_ALLOWED_ORIGIN", "*")},
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Cache.GridSize <= 0 {
		return nil, fmt.Errorf("PRAYER_ZONE_GRID_SIZE must be positive, got %v", cfg.Cache.GridSize)
	}
	if cfg.Schedule.GenerationDays < 1 {
		return nil, fmt.Errorf("SCHEDULE_GENERATION_DAYS must be at least 1, got %d", cfg.Schedule.GenerationDays)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

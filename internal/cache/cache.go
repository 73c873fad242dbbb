// Package cache provides the Redis hot tier for yearly calendars, daily
// fallback records, zone aliases, materialized schedules, and the
// calendar-fetch single-flight lock.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/models"
)

// Cache is the Redis-backed hot tier. All values are canonical JSON.
type Cache struct {
	client *redis.Client
	cfg    config.CacheConfig
}

// New connects to Redis and verifies the connection.
func New(redisURL string, cfg config.CacheConfig) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("cache connection established", "host", opt.Addr)
	return &Cache{client: client, cfg: cfg}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, cfg config.CacheConfig) *Cache {
	return &Cache{client: client, cfg: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error { return c.client.Close() }

// Client exposes the underlying client for direct access (dispatcher queue).
func (c *Cache) Client() *redis.Client { return c.client }

// Ping checks liveness.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Key layout. The schema version participates in every content key so a
// format change invalidates by construction.
func (c *Cache) calendarKey(zoneID string, year int, methodKey string) string {
	return fmt.Sprintf("calendar:%s:%s:%d:%s", c.cfg.SchemaVersion, zoneID, year, methodKey)
}

func (c *Cache) dailyKey(zoneID, date, methodKey string) string {
	return fmt.Sprintf("daily:%s:%s:%s:%s", c.cfg.SchemaVersion, zoneID, date, methodKey)
}

func (c *Cache) scheduleKey(ownerID int64, year, month int) string {
	return fmt.Sprintf("schedule:%s:%d:%d:%02d", c.cfg.SchemaVersion, ownerID, year, month)
}

// Alias keys carry no schema version; they only point at other keys.
func aliasKey(sourceZoneID, methodKey string) string {
	return fmt.Sprintf("alias:%s:%s", sourceZoneID, methodKey)
}

// FetchLockKey names the single-flight lock for a calendar fetch.
func FetchLockKey(zoneID string, year int, methodKey string) string {
	return fmt.Sprintf("lock:calendar_fetch:%s:%d:%s", zoneID, year, methodKey)
}

func (c *Cache) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		slog.Error("cache get error", "key", key, "error", err)
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Error("cache set error", "key", key, "error", err)
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	slog.Debug("cache set", "key", key, "ttl", ttl, "size_bytes", len(data))
	return nil
}

// GetCalendar returns a hot yearly calendar, or nil on miss. A Redis error is
// returned with a nil calendar; the read paths treat it as a miss so a Redis
// outage never takes reads down.
func (c *Cache) GetCalendar(ctx context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error) {
	var cal models.YearlyCalendar
	ok, err := c.getJSON(ctx, c.calendarKey(zoneID, year, methodKey), &cal)
	if err != nil || !ok {
		return nil, err
	}
	return &cal, nil
}

// SetCalendar stores a yearly calendar with the configured TTL.
func (c *Cache) SetCalendar(ctx context.Context, cal *models.YearlyCalendar) error {
	return c.setJSON(ctx, c.calendarKey(cal.ZoneID, cal.Year, cal.MethodKey), cal, c.cfg.YearlyTTL)
}

// RefreshCalendarTTL extends the TTL of an unchanged hot calendar.
func (c *Cache) RefreshCalendarTTL(ctx context.Context, zoneID string, year int, methodKey string) error {
	return c.client.Expire(ctx, c.calendarKey(zoneID, year, methodKey), c.cfg.YearlyTTL).Err()
}

// GetDaily returns the short-TTL instant-fallback record for one day.
func (c *Cache) GetDaily(ctx context.Context, zoneID, date, methodKey string) (*models.DailyTimings, error) {
	var day models.DailyTimings
	ok, err := c.getJSON(ctx, c.dailyKey(zoneID, date, methodKey), &day)
	if err != nil || !ok {
		return nil, err
	}
	return &day, nil
}

// SetDaily caches a single day to shield the upstream daily endpoint while a
// yearly fetch is in flight.
func (c *Cache) SetDaily(ctx context.Context, zoneID, methodKey string, day *models.DailyTimings) error {
	return c.setJSON(ctx, c.dailyKey(zoneID, day.Date, methodKey), day, c.cfg.DailyTTL)
}

// GetAlias returns the hot alias pointer, or nil.
func (c *Cache) GetAlias(ctx context.Context, sourceZoneID, methodKey string) (*models.ZoneAlias, error) {
	var alias models.ZoneAlias
	ok, err := c.getJSON(ctx, aliasKey(sourceZoneID, methodKey), &alias)
	if err != nil || !ok {
		return nil, err
	}
	return &alias, nil
}

// SetAlias stores an alias pointer. Aliases are cheap and stable; they share
// the yearly TTL.
func (c *Cache) SetAlias(ctx context.Context, alias *models.ZoneAlias) error {
	return c.setJSON(ctx, aliasKey(alias.SourceZoneID, alias.MethodKey), alias, c.cfg.YearlyTTL)
}

// GetSchedule returns a hot monthly schedule, or nil.
func (c *Cache) GetSchedule(ctx context.Context, ownerID int64, year, month int) (*models.MonthlySchedule, error) {
	var s models.MonthlySchedule
	ok, err := c.getJSON(ctx, c.scheduleKey(ownerID, year, month), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// SetSchedule stores a monthly schedule in the hot tier.
func (c *Cache) SetSchedule(ctx context.Context, s *models.MonthlySchedule) error {
	return c.setJSON(ctx, c.scheduleKey(s.OwnerID, s.Year, s.Month), s, c.cfg.YearlyTTL)
}

// DeleteSchedule drops the hot schedule record after invalidation.
func (c *Cache) DeleteSchedule(ctx context.Context, ownerID int64, year, month int) error {
	return c.client.Del(ctx, c.scheduleKey(ownerID, year, month)).Err()
}

// AcquireFetchLock atomically claims the single-flight lock for a calendar
// fetch with the configured lease. Returns true when this caller is the
// claimant. Dead holders free automatically by lease expiry.
func (c *Cache) AcquireFetchLock(ctx context.Context, zoneID string, year int, methodKey string) (bool, error) {
	ok, err := c.client.SetNX(ctx, FetchLockKey(zoneID, year, methodKey), "1", c.cfg.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire fetch lock: %w", err)
	}
	return ok, nil
}

// ReleaseFetchLock frees the lock early after a completed fetch.
func (c *Cache) ReleaseFetchLock(ctx context.Context, zoneID string, year int, methodKey string) error {
	return c.client.Del(ctx, FetchLockKey(zoneID, year, methodKey)).Err()
}

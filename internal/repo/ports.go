// Package repo defines the narrow persistence ports the engine consumes and
// their PostgreSQL implementations. Tests use the in-memory implementations
// from memory.go.
package repo

import (
	"context"

	"github.com/quraeshi99/noortime/internal/models"
)

// ZoneMethod is one distinct (zone, method) pair present in the cold store.
type ZoneMethod struct {
	ZoneID    string
	MethodKey string
}

// CalendarRepo is the cold store for yearly calendars.
type CalendarRepo interface {
	// Get returns the calendar for the unique key, or nil.
	Get(ctx context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error)
	// Exists reports presence without loading the day payload.
	Exists(ctx context.Context, zoneID string, year int, methodKey string) (bool, error)
	// Upsert writes the full calendar atomically. When the stored
	// content_hash equals the incoming one, only updated_at is touched and
	// unchanged=true is returned.
	Upsert(ctx context.Context, cal *models.YearlyCalendar) (unchanged bool, err error)
	// ListZoneMethods lists distinct (zone_id, method_key) pairs for a year.
	ListZoneMethods(ctx context.Context, year int) ([]ZoneMethod, error)
	// DeleteOlderThan removes calendars with year < the given year. Returns
	// the number of rows deleted.
	DeleteOlderThan(ctx context.Context, year int) (int64, error)
}

// ScheduleRepo is the cold store for materialized monthly schedules.
type ScheduleRepo interface {
	Get(ctx context.Context, ownerID int64, year, month int) (*models.MonthlySchedule, error)
	Exists(ctx context.Context, ownerID int64, year, month int) (bool, error)
	// Upsert performs the compare-before-write: equal script_hash is a no-op
	// (unchanged=true); otherwise the record is replaced and version
	// incremented. The stored version is written back into s.Version.
	Upsert(ctx context.Context, s *models.MonthlySchedule) (unchanged bool, err error)
	Delete(ctx context.Context, ownerID int64, year, month int) error
}

// SettingsRepo reads and writes owner settings and the last-raw-times blob.
type SettingsRepo interface {
	Get(ctx context.Context, ownerID int64) (*models.OwnerSettings, error)
	Save(ctx context.Context, s *models.OwnerSettings) error
	GetLastRawTimes(ctx context.Context, ownerID int64) (string, error)
	SaveLastRawTimes(ctx context.Context, ownerID int64, blob string) error
}

// AliasRepo is the cold store for zone alias pointers.
type AliasRepo interface {
	Get(ctx context.Context, sourceZoneID, methodKey string) (*models.ZoneAlias, error)
	Put(ctx context.Context, alias *models.ZoneAlias) error
}

// OwnerRepo resolves owners, collective follows, and rolling-wave buckets.
type OwnerRepo interface {
	Get(ctx context.Context, ownerID int64) (*models.Owner, error)
	// ResolveFollowTarget returns the collective owner id the given owner
	// follows, or 0 when it follows none.
	ResolveFollowTarget(ctx context.Context, ownerID int64) (int64, error)
	// ResolveDevice maps a guest device id to its followed owner, or 0.
	ResolveDevice(ctx context.Context, deviceID string) (int64, error)
	// UpsertDeviceFollow idempotently binds a device to a collective owner.
	UpsertDeviceFollow(ctx context.Context, deviceID string, ownerID int64) error
	// ListBucketOwners returns owner ids with id mod modulus == remainder
	// that have no schedule for (year, month) yet.
	ListBucketOwners(ctx context.Context, modulus, remainder, year, month int) ([]int64, error)
	// Announcements returns a collective owner's published notices.
	Announcements(ctx context.Context, ownerID int64) ([]models.Announcement, error)
}

// GeocodeRepo caches forward-geocoding results by normalized city name.
type GeocodeRepo interface {
	Get(ctx context.Context, cityName string) (*models.GeocodeEntry, error)
	Put(ctx context.Context, e *models.GeocodeEntry) error
}

// Notifier is the outbound advisory-notification port. Delivery is out of
// engine scope; production wires this to push/email.
type Notifier interface {
	NotifyFollowers(ctx context.Context, collectiveOwnerID int64, message string) error
}

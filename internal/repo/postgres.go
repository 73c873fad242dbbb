package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

// Calendars is the PostgreSQL cold store for yearly calendars.
type Calendars struct {
	pool *pgxpool.Pool
}

// NewCalendars creates the calendar repository.
func NewCalendars(pool *pgxpool.Pool) *Calendars {
	return &Calendars{pool: pool}
}

// ---------------------------------------------------------------------------
// CalendarRepo

func (p *Calendars) Get(ctx context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error) {
	const q = `
		SELECT schema_version, days, content_hash, created_at, updated_at
		FROM prayer_zone_calendars
		WHERE zone_id = $1 AND year = $2 AND method_key = $3`
	var (
		cal  = models.YearlyCalendar{ZoneID: zoneID, Year: year, MethodKey: methodKey}
		days []byte
	)
	err := p.pool.QueryRow(ctx, q, zoneID, year, methodKey).
		Scan(&cal.SchemaVersion, &days, &cal.ContentHash, &cal.CreatedAt, &cal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar %s/%d/%s: %w", zoneID, year, methodKey, err)
	}
	if err := json.Unmarshal(days, &cal.Days); err != nil {
		return nil, fmt.Errorf("decode calendar days %s/%d/%s: %w", zoneID, year, methodKey, err)
	}
	return &cal, nil
}

func (p *Calendars) Exists(ctx context.Context, zoneID string, year int, methodKey string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM prayer_zone_calendars
			WHERE zone_id = $1 AND year = $2 AND method_key = $3
		)`
	var exists bool
	if err := p.pool.QueryRow(ctx, q, zoneID, year, methodKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("calendar exists %s/%d/%s: %w", zoneID, year, methodKey, err)
	}
	return exists, nil
}

func (p *Calendars) Upsert(ctx context.Context, cal *models.YearlyCalendar) (bool, error) {
	const touch = `
		UPDATE prayer_zone_calendars
		SET updated_at = now()
		WHERE zone_id = $1 AND year = $2 AND method_key = $3 AND content_hash = $4`
	tag, err := p.pool.Exec(ctx, touch, cal.ZoneID, cal.Year, cal.MethodKey, cal.ContentHash)
	if err != nil {
		return false, fmt.Errorf("touch calendar %s/%d/%s: %w", cal.ZoneID, cal.Year, cal.MethodKey, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	days, err := models.CanonicalDaysJSON(cal.Days)
	if err != nil {
		return false, fmt.Errorf("encode calendar days: %w", err)
	}
	const upsert = `
		INSERT INTO prayer_zone_calendars
			(zone_id, year, method_key, schema_version, days, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (zone_id, year, method_key) DO UPDATE
		SET schema_version = EXCLUDED.schema_version,
		    days = EXCLUDED.days,
		    content_hash = EXCLUDED.content_hash,
		    updated_at = now()`
	if _, err := p.pool.Exec(ctx, upsert, cal.ZoneID, cal.Year, cal.MethodKey, cal.SchemaVersion, days, cal.ContentHash); err != nil {
		return false, fmt.Errorf("upsert calendar %s/%d/%s: %w", cal.ZoneID, cal.Year, cal.MethodKey, err)
	}
	return false, nil
}

func (p *Calendars) ListZoneMethods(ctx context.Context, year int) ([]ZoneMethod, error) {
	const q = `
		SELECT DISTINCT zone_id, method_key
		FROM prayer_zone_calendars
		WHERE year = $1
		ORDER BY zone_id, method_key`
	rows, err := p.pool.Query(ctx, q, year)
	if err != nil {
		return nil, fmt.Errorf("list zone methods for %d: %w", year, err)
	}
	defer rows.Close()

	var out []ZoneMethod
	for rows.Next() {
		var zm ZoneMethod
		if err := rows.Scan(&zm.ZoneID, &zm.MethodKey); err != nil {
			return nil, err
		}
		out = append(out, zm)
	}
	return out, rows.Err()
}

func (p *Calendars) DeleteOlderThan(ctx context.Context, year int) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM prayer_zone_calendars WHERE year < $1`, year)
	if err != nil {
		return 0, fmt.Errorf("delete calendars older than %d: %w", year, err)
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// ScheduleRepo

// Schedules exposes the ScheduleRepo over the same pool.
type Schedules struct {
	pool *pgxpool.Pool
}

// NewSchedules creates the schedule repository.
func NewSchedules(pool *pgxpool.Pool) *Schedules {
	return &Schedules{pool: pool}
}

func (s *Schedules) Get(ctx context.Context, ownerID int64, year, month int) (*models.MonthlySchedule, error) {
	const q = `
		SELECT version, script_hash, generated_at, updated_at, warnings, script
		FROM monthly_schedules
		WHERE owner_id = $1 AND year = $2 AND month = $3`
	var (
		sched            = models.MonthlySchedule{OwnerID: ownerID, Year: year, Month: month}
		warnings, script []byte
	)
	err := s.pool.QueryRow(ctx, q, ownerID, year, month).
		Scan(&sched.Version, &sched.ScriptHash, &sched.GeneratedAt, &sched.UpdatedAt, &warnings, &script)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d/%d-%02d: %w", ownerID, year, month, err)
	}
	if err := json.Unmarshal(warnings, &sched.Warnings); err != nil {
		return nil, fmt.Errorf("decode schedule warnings: %w", err)
	}
	if err := json.Unmarshal(script, &sched.Script); err != nil {
		return nil, fmt.Errorf("decode schedule script: %w", err)
	}
	return &sched, nil
}

func (s *Schedules) Exists(ctx context.Context, ownerID int64, year, month int) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM monthly_schedules WHERE owner_id = $1 AND year = $2 AND month = $3
		)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, ownerID, year, month).Scan(&exists); err != nil {
		return false, fmt.Errorf("schedule exists %d/%d-%02d: %w", ownerID, year, month, err)
	}
	return exists, nil
}

func (s *Schedules) Upsert(ctx context.Context, sched *models.MonthlySchedule) (bool, error) {
	const read = `
		SELECT version, script_hash FROM monthly_schedules
		WHERE owner_id = $1 AND year = $2 AND month = $3`
	var (
		version int
		hash    string
	)
	err := s.pool.QueryRow(ctx, read, sched.OwnerID, sched.Year, sched.Month).Scan(&version, &hash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		version, hash = 0, ""
	case err != nil:
		return false, fmt.Errorf("read schedule %d/%d-%02d: %w", sched.OwnerID, sched.Year, sched.Month, err)
	}
	if hash == sched.ScriptHash {
		sched.Version = version
		return true, nil
	}

	warnings, err := json.Marshal(sched.Warnings)
	if err != nil {
		return false, fmt.Errorf("encode schedule warnings: %w", err)
	}
	script, err := json.Marshal(sched.Script)
	if err != nil {
		return false, fmt.Errorf("encode schedule script: %w", err)
	}
	sched.Version = version + 1
	const upsert = `
		INSERT INTO monthly_schedules
			(owner_id, year, month, version, script_hash, generated_at, updated_at, warnings, script)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
		ON CONFLICT (owner_id, year, month) DO UPDATE
		SET version = EXCLUDED.version,
		    script_hash = EXCLUDED.script_hash,
		    generated_at = EXCLUDED.generated_at,
		    updated_at = now(),
		    warnings = EXCLUDED.warnings,
		    script = EXCLUDED.script`
	if _, err := s.pool.Exec(ctx, upsert,
		sched.OwnerID, sched.Year, sched.Month, sched.Version, sched.ScriptHash,
		sched.GeneratedAt, warnings, script); err != nil {
		return false, fmt.Errorf("upsert schedule %d/%d-%02d: %w", sched.OwnerID, sched.Year, sched.Month, err)
	}
	return false, nil
}

func (s *Schedules) Delete(ctx context.Context, ownerID int64, year, month int) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM monthly_schedules WHERE owner_id = $1 AND year = $2 AND month = $3`,
		ownerID, year, month); err != nil {
		return fmt.Errorf("delete schedule %d/%d-%02d: %w", ownerID, year, month, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SettingsRepo

// Settings exposes the SettingsRepo.
type Settings struct {
	pool *pgxpool.Pool
}

// NewSettings creates the settings repository.
func NewSettings(pool *pgxpool.Pool) *Settings {
	return &Settings{pool: pool}
}

func (r *Settings) Get(ctx context.Context, ownerID int64) (*models.OwnerSettings, error) {
	const q = `
		SELECT latitude, longitude, city_name, method_key, rules, threshold_minutes,
		       jummah, hijri_offset_days, timezone, time_format
		FROM owner_settings WHERE owner_id = $1`
	var (
		s             = models.OwnerSettings{OwnerID: ownerID}
		methodKey     string
		rules, jummah []byte
	)
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(
		&s.Latitude, &s.Longitude, &s.CityName, &methodKey, &rules,
		&s.ThresholdMinutes, &jummah, &s.HijriOffsetDays, &s.Timezone, &s.TimeFormat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "settings for owner %d", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get settings %d: %w", ownerID, err)
	}
	if s.Method, err = models.ParseMethodKey(methodKey); err != nil {
		return nil, fmt.Errorf("settings %d: %w", ownerID, err)
	}
	if err := json.Unmarshal(rules, &s.Rules); err != nil {
		return nil, fmt.Errorf("decode settings rules %d: %w", ownerID, err)
	}
	if err := json.Unmarshal(jummah, &s.Jummah); err != nil {
		return nil, fmt.Errorf("decode settings jummah %d: %w", ownerID, err)
	}
	return &s, nil
}

func (r *Settings) Save(ctx context.Context, s *models.OwnerSettings) error {
	rules, err := json.Marshal(s.Rules)
	if err != nil {
		return fmt.Errorf("encode settings rules: %w", err)
	}
	jummah, err := json.Marshal(s.Jummah)
	if err != nil {
		return fmt.Errorf("encode settings jummah: %w", err)
	}
	const q = `
		INSERT INTO owner_settings
			(owner_id, latitude, longitude, city_name, method_key, rules,
			 threshold_minutes, jummah, hijri_offset_days, timezone, time_format, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (owner_id) DO UPDATE
		SET latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    city_name = EXCLUDED.city_name,
		    method_key = EXCLUDED.method_key,
		    rules = EXCLUDED.rules,
		    threshold_minutes = EXCLUDED.threshold_minutes,
		    jummah = EXCLUDED.jummah,
		    hijri_offset_days = EXCLUDED.hijri_offset_days,
		    timezone = EXCLUDED.timezone,
		    time_format = EXCLUDED.time_format,
		    updated_at = now()`
	if _, err := r.pool.Exec(ctx, q,
		s.OwnerID, s.Latitude, s.Longitude, s.CityName, s.Method.String(), rules,
		s.ThresholdMinutes, jummah, s.HijriOffsetDays, s.Timezone, s.TimeFormat); err != nil {
		return fmt.Errorf("save settings %d: %w", s.OwnerID, err)
	}
	return nil
}

func (r *Settings) GetLastRawTimes(ctx context.Context, ownerID int64) (string, error) {
	var blob *string
	err := r.pool.QueryRow(ctx,
		`SELECT last_raw_times FROM owner_settings WHERE owner_id = $1`, ownerID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last raw times %d: %w", ownerID, err)
	}
	if blob == nil {
		return "", nil
	}
	return *blob, nil
}

func (r *Settings) SaveLastRawTimes(ctx context.Context, ownerID int64, blob string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE owner_settings SET last_raw_times = $2 WHERE owner_id = $1`, ownerID, blob); err != nil {
		return fmt.Errorf("save last raw times %d: %w", ownerID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// AliasRepo

// Aliases exposes the AliasRepo.
type Aliases struct {
	pool *pgxpool.Pool
}

// NewAliases creates the alias repository.
func NewAliases(pool *pgxpool.Pool) *Aliases {
	return &Aliases{pool: pool}
}

func (a *Aliases) Get(ctx context.Context, sourceZoneID, methodKey string) (*models.ZoneAlias, error) {
	const q = `
		SELECT target_zone_id, created_at FROM zone_aliases
		WHERE source_zone_id = $1 AND method_key = $2`
	alias := models.ZoneAlias{SourceZoneID: sourceZoneID, MethodKey: methodKey}
	err := a.pool.QueryRow(ctx, q, sourceZoneID, methodKey).Scan(&alias.TargetZoneID, &alias.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alias %s/%s: %w", sourceZoneID, methodKey, err)
	}
	return &alias, nil
}

func (a *Aliases) Put(ctx context.Context, alias *models.ZoneAlias) error {
	const q = `
		INSERT INTO zone_aliases (source_zone_id, method_key, target_zone_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_zone_id, method_key) DO UPDATE
		SET target_zone_id = EXCLUDED.target_zone_id`
	if _, err := a.pool.Exec(ctx, q, alias.SourceZoneID, alias.MethodKey, alias.TargetZoneID); err != nil {
		return fmt.Errorf("put alias %s/%s: %w", alias.SourceZoneID, alias.MethodKey, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OwnerRepo

// Owners exposes the OwnerRepo.
type Owners struct {
	pool *pgxpool.Pool
}

// NewOwners creates the owner repository.
func NewOwners(pool *pgxpool.Pool) *Owners {
	return &Owners{pool: pool}
}

func (o *Owners) Get(ctx context.Context, ownerID int64) (*models.Owner, error) {
	const q = `SELECT id, kind, name, COALESCE(device_id, '') FROM owners WHERE id = $1`
	var own models.Owner
	err := o.pool.QueryRow(ctx, q, ownerID).Scan(&own.ID, &own.Kind, &own.Name, &own.DeviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "owner %d", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get owner %d: %w", ownerID, err)
	}
	return &own, nil
}

func (o *Owners) ResolveFollowTarget(ctx context.Context, ownerID int64) (int64, error) {
	var target int64
	err := o.pool.QueryRow(ctx,
		`SELECT target_owner_id FROM owner_follows WHERE owner_id = $1`, ownerID).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve follow target %d: %w", ownerID, err)
	}
	return target, nil
}

func (o *Owners) ResolveDevice(ctx context.Context, deviceID string) (int64, error) {
	var ownerID int64
	err := o.pool.QueryRow(ctx,
		`SELECT owner_id FROM guest_follows WHERE device_id = $1`, deviceID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	return ownerID, nil
}

func (o *Owners) UpsertDeviceFollow(ctx context.Context, deviceID string, ownerID int64) error {
	const q = `
		INSERT INTO guest_follows (device_id, owner_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (device_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, updated_at = now()`
	if _, err := o.pool.Exec(ctx, q, deviceID, ownerID); err != nil {
		return fmt.Errorf("upsert device follow %s: %w", deviceID, err)
	}
	return nil
}

func (o *Owners) ListBucketOwners(ctx context.Context, modulus, remainder, year, month int) ([]int64, error) {
	// The anti-join skips owners whose next-month schedule already exists,
	// so re-running the wave on the same day is idempotent.
	const q = `
		SELECT ow.id FROM owners ow
		WHERE ow.id % $1 = $2
		  AND NOT EXISTS (
			SELECT 1 FROM monthly_schedules ms
			WHERE ms.owner_id = ow.id AND ms.year = $3 AND ms.month = $4
		  )
		ORDER BY ow.id`
	rows, err := o.pool.Query(ctx, q, modulus, remainder, year, month)
	if err != nil {
		return nil, fmt.Errorf("list bucket owners: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (o *Owners) Announcements(ctx context.Context, ownerID int64) ([]models.Announcement, error) {
	const q = `
		SELECT id, owner_id, title, body, created_at FROM announcements
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT 20`
	rows, err := o.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("announcements %d: %w", ownerID, err)
	}
	defer rows.Close()

	var out []models.Announcement
	for rows.Next() {
		var a models.Announcement
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Title, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// GeocodeRepo

// Geocodes exposes the GeocodeRepo.
type Geocodes struct {
	pool *pgxpool.Pool
}

// NewGeocodes creates the geocode cache repository.
func NewGeocodes(pool *pgxpool.Pool) *Geocodes {
	return &Geocodes{pool: pool}
}

func (g *Geocodes) Get(ctx context.Context, cityName string) (*models.GeocodeEntry, error) {
	const q = `
		SELECT latitude, longitude, country, created_at FROM geocode_cache
		WHERE city_name = $1`
	e := models.GeocodeEntry{CityName: cityName}
	err := g.pool.QueryRow(ctx, q, cityName).Scan(&e.Latitude, &e.Longitude, &e.Country, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get geocode %s: %w", cityName, err)
	}
	return &e, nil
}

func (g *Geocodes) Put(ctx context.Context, e *models.GeocodeEntry) error {
	const q = `
		INSERT INTO geocode_cache (city_name, latitude, longitude, country, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (city_name) DO UPDATE
		SET latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    country = EXCLUDED.country`
	if _, err := g.pool.Exec(ctx, q, e.CityName, e.Latitude, e.Longitude, e.Country); err != nil {
		return fmt.Errorf("put geocode %s: %w", e.CityName, err)
	}
	return nil
}

var _ CalendarRepo = (*Calendars)(nil)
var _ ScheduleRepo = (*Schedules)(nil)
var _ SettingsRepo = (*Settings)(nil)
var _ AliasRepo = (*Aliases)(nil)
var _ OwnerRepo = (*Owners)(nil)
var _ GeocodeRepo = (*Geocodes)(nil)

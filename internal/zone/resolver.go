// Package zone resolves coordinates onto canonical computation zones so that
// every request inside a zone shares one cached yearly calendar.
package zone

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quraeshi99/noortime/internal/adapters"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/config"
	"github.com/quraeshi99/noortime/internal/geo"
	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/repo"
	"github.com/quraeshi99/noortime/internal/timeutil"
)

const (
	adminLRUSize = 4096
	aliasLRUSize = 8192
)

// Resolution is the outcome of resolving a coordinate.
type Resolution struct {
	ZoneID string
	// Method is the concrete method key: AUTOMATIC has been replaced by the
	// country mapping before this value is used in any cache key.
	Method models.MethodKey
	// Admin carries the reverse-geocode result when one was available.
	Admin *adapters.AdminLevels
}

// Resolver maps (lat, lon, method, year) to a canonical zone id, choosing
// Admin-2 over Admin-3 when a year of calendars proves them interchangeable.
type Resolver struct {
	geocoder  adapters.GeocodingAdapter
	calendars repo.CalendarRepo
	aliases   repo.AliasRepo
	hot       *cache.Cache
	methods   *CountryMethods
	cfg       config.CacheConfig
	automatic int

	// Per-process LRUs. The hot cache is shared across instances; these only
	// shave repeat lookups within one process.
	adminLRU *lru.Cache[string, *adapters.AdminLevels]
	aliasLRU *lru.Cache[string, string]
}

// New creates a resolver.
func New(geocoder adapters.GeocodingAdapter, calendars repo.CalendarRepo, aliases repo.AliasRepo, hot *cache.Cache, methods *CountryMethods, cfg config.CacheConfig, automaticMethodID int) *Resolver {
	adminLRU, _ := lru.New[string, *adapters.AdminLevels](adminLRUSize)
	aliasLRU, _ := lru.New[string, string](aliasLRUSize)
	return &Resolver{
		geocoder:  geocoder,
		calendars: calendars,
		aliases:   aliases,
		hot:       hot,
		methods:   methods,
		cfg:       cfg,
		automatic: automaticMethodID,
		adminLRU:  adminLRU,
		aliasLRU:  aliasLRU,
	}
}

// GridZoneID quantizes a coordinate onto the configured grid.
func GridZoneID(lat, lon, gridSize float64) string {
	q := func(v float64) string {
		snapped := math.Floor(v/gridSize) * gridSize
		// Keep two decimals of honest precision; trim trailing zeros so
		// 28.60 renders as 28.6.
		rounded := math.Round(snapped*100) / 100
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	}
	return fmt.Sprintf("grid:%s/%s", q(lat), q(lon))
}

// GridZoneCenter recovers the center coordinate of a grid zone id. Returns
// false for admin zones.
func GridZoneCenter(zoneID string, gridSize float64) (lat, lon float64, ok bool) {
	rest, found := strings.CutPrefix(zoneID, "grid:")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	baseLat, err1 := strconv.ParseFloat(parts[0], 64)
	baseLon, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return baseLat + gridSize/2, baseLon + gridSize/2, true
}

// AdminZoneID builds the adm2 or adm3 canonical id from reverse-geocoded
// levels. Returns "" when the essential segments are missing.
func AdminZoneID(levels *adapters.AdminLevels, includeAdm3 bool) string {
	cc := geo.CanonicalSegment(levels.CountryCode)
	a1 := geo.CanonicalSegment(levels.Admin1)
	a2 := geo.CanonicalSegment(levels.Admin2)
	if cc == "" || a1 == "" || a2 == "" {
		return ""
	}
	if !includeAdm3 {
		return fmt.Sprintf("adm2:%s/%s/%s", cc, a1, a2)
	}
	a3 := geo.CanonicalSegment(levels.Admin3)
	if a3 == "" {
		return ""
	}
	return fmt.Sprintf("adm3:%s/%s/%s/%s", cc, a1, a2, a3)
}

// Resolve determines the canonical zone for a request. The returned method is
// always concrete.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64, method models.MethodKey, year int) (*Resolution, error) {
	levels := r.reverseGeocode(ctx, lat, lon)

	if method.CalcMethodID == r.automatic {
		country := "XX"
		if levels != nil {
			country = levels.CountryCode
		}
		method.CalcMethodID = r.methods.MethodFor(country)
		slog.Debug("automatic method resolved", "country", country, "method_id", method.CalcMethodID)
	}

	res := &Resolution{Method: method, Admin: levels}

	z2 := ""
	if levels != nil {
		z2 = AdminZoneID(levels, false)
	}
	if z2 == "" {
		res.ZoneID = GridZoneID(lat, lon, r.cfg.GridSize)
		return res, nil
	}

	z3 := AdminZoneID(levels, true)
	if z3 == "" {
		res.ZoneID = z2
		return res, nil
	}

	// A recorded alias answers the adm3 id without re-comparing.
	if target := r.lookupAlias(ctx, z3, method.String()); target != "" {
		res.ZoneID = target
		return res, nil
	}

	zoneID, err := r.chooseGranularity(ctx, z2, z3, year, method.String())
	if err != nil {
		return nil, err
	}
	res.ZoneID = zoneID
	return res, nil
}

// reverseGeocode returns admin levels or nil; failures degrade to the grid
// fallback rather than erroring the request.
func (r *Resolver) reverseGeocode(ctx context.Context, lat, lon float64) *adapters.AdminLevels {
	key := fmt.Sprintf("%.4f:%.4f", lat, lon)
	if cached, ok := r.adminLRU.Get(key); ok {
		return cached
	}
	levels, err := r.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		slog.Warn("reverse geocode failed, falling back to grid zone", "lat", lat, "lon", lon, "error", err)
		return nil
	}
	r.adminLRU.Add(key, levels)
	return levels
}

func (r *Resolver) lookupAlias(ctx context.Context, sourceZoneID, methodKey string) string {
	lruKey := sourceZoneID + "|" + methodKey
	if target, ok := r.aliasLRU.Get(lruKey); ok {
		return target
	}
	if alias, err := r.hot.GetAlias(ctx, sourceZoneID, methodKey); err == nil && alias != nil {
		r.aliasLRU.Add(lruKey, alias.TargetZoneID)
		return alias.TargetZoneID
	}
	alias, err := r.aliases.Get(ctx, sourceZoneID, methodKey)
	if err != nil {
		slog.Error("alias lookup failed", "source", sourceZoneID, "error", err)
		return ""
	}
	if alias == nil {
		return ""
	}
	r.aliasLRU.Add(lruKey, alias.TargetZoneID)
	if err := r.hot.SetAlias(ctx, alias); err != nil {
		slog.Warn("alias hot backfill failed", "source", sourceZoneID, "error", err)
	}
	return alias.TargetZoneID
}

// chooseGranularity applies the Admin-2 vs Admin-3 decision: without a year
// of evidence on both sides, prefer the finer adm3; with evidence, collapse
// onto adm2 when no compared prayer ever drifts past the threshold.
func (r *Resolver) chooseGranularity(ctx context.Context, z2, z3 string, year int, methodKey string) (string, error) {
	cal2, err := r.lookupCalendar(ctx, z2, year, methodKey)
	if err != nil {
		return "", err
	}
	if cal2 == nil {
		return z3, nil
	}
	cal3, err := r.lookupCalendar(ctx, z3, year, methodKey)
	if err != nil {
		return "", err
	}
	if cal3 == nil {
		return z3, nil
	}

	if CalendarsDiffer(cal2.Days, cal3.Days, r.cfg.DiffThresholdSeconds) {
		slog.Info("admin-3 zone required", "adm2", z2, "adm3", z3)
		return z3, nil
	}

	alias := &models.ZoneAlias{SourceZoneID: z3, TargetZoneID: z2, MethodKey: methodKey}
	if err := r.aliases.Put(ctx, alias); err != nil {
		slog.Error("alias write failed", "source", z3, "target", z2, "error", err)
	} else {
		r.aliasLRU.Add(z3+"|"+methodKey, z2)
		if err := r.hot.SetAlias(ctx, alias); err != nil {
			slog.Warn("alias hot write failed", "source", z3, "error", err)
		}
		slog.Info("admin-2 zone sufficient, alias recorded", "adm2", z2, "adm3", z3)
	}
	return z2, nil
}

// lookupCalendar reads hot then cold without triggering any fetch.
func (r *Resolver) lookupCalendar(ctx context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error) {
	if cal, err := r.hot.GetCalendar(ctx, zoneID, year, methodKey); err == nil && cal != nil {
		return cal, nil
	}
	return r.calendars.Get(ctx, zoneID, year, methodKey)
}

// CalendarsDiffer reports whether any compared prayer differs by more than
// thresholdSeconds on any shared day. Missing or unparseable values count as
// different: without clean evidence the zones are kept apart.
func CalendarsDiffer(a, b []models.DailyTimings, thresholdSeconds int) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		for _, prayer := range models.ComparisonPrayers {
			ta, okA := a[i].Timings[prayer]
			tb, okB := b[i].Timings[prayer]
			if !okA || !okB {
				return true
			}
			ca, errA := timeutil.Parse(ta)
			cb, errB := timeutil.Parse(tb)
			if errA != nil || errB != nil {
				return true
			}
			if ca.AbsDiffSeconds(cb) > thresholdSeconds {
				return true
			}
		}
	}
	return false
}

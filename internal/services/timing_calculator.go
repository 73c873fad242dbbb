// Package services provides the engine's business logic: the calendar cache
// pyramid, the personal time calculator, the schedule materializer, the
// settings hook, and the background rolling-wave jobs.
package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/timeutil"
)

// prayerEndBoundary maps each prayer to the timing key that closes its
// natural interval. Isha closes at tomorrow's Fajr.
var prayerEndBoundary = map[string]string{
	models.Fajr:    models.Sunrise,
	models.Dhuhr:   models.Asr,
	models.Asr:     models.Maghrib,
	models.Maghrib: models.Isha,
	models.Isha:    models.Fajr, // read from tomorrow
}

// CalculatorInput carries one day's context into the calculator.
type CalculatorInput struct {
	Settings *models.OwnerSettings
	Today    *models.DailyTimings
	Tomorrow *models.DailyTimings
	// LastRawBlob is the owner's persisted last-raw-times JSON, used by the
	// stability threshold. Empty means none.
	LastRawBlob string
	// Date is the local calendar date Today describes.
	Date time.Time
}

// CalculateDisplayTimes applies the owner's rules to one day's raw record,
// producing published display times, the Friday block, the derived markers,
// and boundary warnings.
func CalculateDisplayTimes(in CalculatorInput) *models.DisplayTimes {
	out := &models.DisplayTimes{
		Prayers: make(map[string]models.PrayerDisplay, len(models.DailyPrayers)),
	}
	todayTimings := map[string]string{}
	if in.Today != nil {
		todayTimings = in.Today.Timings
	}
	tomorrowTimings := map[string]string{}
	if in.Tomorrow != nil {
		tomorrowTimings = in.Tomorrow.Timings
	}

	lastRaw := map[string]string{}
	if in.LastRawBlob != "" {
		if err := json.Unmarshal([]byte(in.LastRawBlob), &lastRaw); err != nil {
			slog.Warn("last raw times blob unparseable, resetting", "owner_id", in.Settings.OwnerID, "error", err)
			out.NeedsPersist = true
			lastRaw = map[string]string{}
		}
	}

	usedNewRaw := false
	for _, prayer := range models.DailyPrayers {
		display, usedNew := calculatePrayer(prayer, in.Settings, todayTimings, tomorrowTimings, lastRaw, &out.Warnings)
		out.Prayers[prayer] = display
		usedNewRaw = usedNewRaw || usedNew
	}
	if usedNewRaw {
		out.NeedsPersist = true
	}
	if out.NeedsPersist {
		if blob, err := json.Marshal(todayTimings); err == nil {
			out.NewRawBlob = string(blob)
		}
	}

	if in.Date.Weekday() == time.Friday {
		out.Jummah = calculateJummah(in.Settings.Jummah, todayTimings)
	}

	// Derived markers, all on the local wall clock.
	if sunrise := parseTiming(todayTimings, models.Sunrise); sunrise != nil {
		out.Chasht = sunrise.AddSeconds(models.ChashtOffsetSeconds).String()
	} else {
		out.Chasht = "N/A"
	}
	out.Iftari = models.TimeOnly{Time: timeutil.FormatPtr(parseTiming(todayTimings, models.Maghrib))}
	out.SehriEnd = models.TimeOnly{Time: timeutil.FormatPtr(parseTiming(todayTimings, models.Imsak))}
	out.ZohwaKubra = zohwaKubraWindow(todayTimings)

	return out
}

// calculatePrayer produces one prayer's display pair. The second return value
// reports that the offset branch consumed a fresh raw time, which obliges the
// caller to persist the new blob.
func calculatePrayer(prayer string, settings *models.OwnerSettings, today, tomorrow, lastRaw map[string]string, warnings *[]string) (models.PrayerDisplay, bool) {
	rule := settings.RuleFor(prayer)
	rawStart := parseTiming(today, prayer)
	rawEnd := prayerIntervalEnd(prayer, today, tomorrow)

	if rule.Fixed != nil {
		azan := parseClock(rule.Fixed.Azan)
		jamaat := parseClock(rule.Fixed.Jamaat)
		azan = boundaryCheck(azan, rawStart, rawEnd, prayer, "Azan", warnings)
		jamaat = boundaryCheck(jamaat, rawStart, rawEnd, prayer, "Jamaat", warnings)
		return models.PrayerDisplay{Azan: timeutil.FormatPtr(azan), Jamaat: timeutil.FormatPtr(jamaat)}, false
	}

	if rawStart == nil {
		return models.PrayerDisplay{Azan: "N/A", Jamaat: "N/A"}, false
	}

	// Stability threshold: a small upstream drift keeps yesterday's raw so
	// published times don't jitter by a minute day over day.
	base := *rawStart
	usedNew := true
	if prev := parseClock(lastRaw[prayer]); prev != nil && settings.ThresholdMinutes > 0 {
		if rawStart.AbsDiffSeconds(*prev) < settings.ThresholdMinutes*60 {
			base = *prev
			usedNew = false
		}
	}

	azan := timeutil.Ptr(base.AddMinutes(rule.Offset.AzanOffset))
	azan = boundaryCheck(azan, rawStart, rawEnd, prayer, "Azan", warnings)
	var jamaat *timeutil.Clock
	if azan != nil {
		// Jamaat offset is taken from the corrected azan.
		jamaat = timeutil.Ptr(azan.AddMinutes(rule.Offset.JamaatOffset))
		jamaat = boundaryCheck(jamaat, rawStart, rawEnd, prayer, "Jamaat", warnings)
	}
	return models.PrayerDisplay{Azan: timeutil.FormatPtr(azan), Jamaat: timeutil.FormatPtr(jamaat)}, usedNew
}

// prayerIntervalEnd returns the raw upper bound of a prayer's interval.
func prayerIntervalEnd(prayer string, today, tomorrow map[string]string) *timeutil.Clock {
	endKey := prayerEndBoundary[prayer]
	if prayer == models.Isha {
		return parseTiming(tomorrow, endKey)
	}
	return parseTiming(today, endKey)
}

// boundaryCheck clamps t into [start, end - 8min], handling the wrapped Isha
// interval, and appends a human-readable warning on correction. Absent
// boundaries skip the check.
func boundaryCheck(t, start, end *timeutil.Clock, prayer, kind string, warnings *[]string) *timeutil.Clock {
	if t == nil || start == nil || end == nil {
		return t
	}
	const daySeconds = 24 * 60 * 60
	s := int(*start)
	e := int(*end)
	if e <= s {
		// Interval wraps midnight (Isha to tomorrow's Fajr).
		e += daySeconds
	}
	rawEnd := e
	e -= models.BoundaryBufferMinutes * 60

	// A value before start that falls before the raw end once moved past
	// midnight belongs to the wrapped part of the interval.
	v := int(*t)
	if v < s && v+daySeconds < rawEnd {
		v += daySeconds
	}

	original := t.String()
	switch {
	case v < s:
		*warnings = append(*warnings, fmt.Sprintf(
			"Your %s time for %s (%s) was before the prayer's start time (%s) and has been auto-corrected.",
			kind, prayer, original, start.String()))
		v = s
	case v > e:
		corrected := timeutil.Clock(e % daySeconds)
		*warnings = append(*warnings, fmt.Sprintf(
			"Your %s time for %s (%s) was too close to the prayer's end time and has been auto-corrected to %s.",
			kind, prayer, original, corrected.String()))
		v = e
	}
	c := timeutil.Clock(v % daySeconds)
	return &c
}

// calculateJummah builds the Friday block. In offset mode azan derives from
// the day's raw Dhuhr start; khutbah and jamaat both derive from azan.
func calculateJummah(rule models.JummahRule, today map[string]string) *models.JummahDisplay {
	if rule.Fixed != nil {
		return &models.JummahDisplay{
			Azan:    displayClock(rule.Fixed.Azan),
			Khutbah: displayClock(rule.Fixed.Khutbah),
			Jamaat:  displayClock(rule.Fixed.Jamaat),
		}
	}
	dhuhr := parseTiming(today, models.Dhuhr)
	if dhuhr == nil {
		return &models.JummahDisplay{Azan: "N/A", Khutbah: "N/A", Jamaat: "N/A"}
	}
	azan := dhuhr.AddMinutes(rule.Offset.AzanOffset)
	khutbah := azan.AddMinutes(rule.Offset.KhutbahOffset)
	jamaat := azan.AddMinutes(rule.Offset.JamaatOffset)
	return &models.JummahDisplay{Azan: azan.String(), Khutbah: khutbah.String(), Jamaat: jamaat.String()}
}

// zohwaKubraWindow computes the forenoon window: it opens at the midpoint of
// Fajr and Sunset and closes at the midpoint of Sunrise and Sunset.
func zohwaKubraWindow(today map[string]string) models.Window {
	fajr := parseTiming(today, models.Fajr)
	sunrise := parseTiming(today, models.Sunrise)
	sunset := parseTiming(today, models.Sunset)
	w := models.Window{Start: "N/A", End: "N/A"}
	if fajr != nil && sunset != nil {
		w.Start = fajr.Midpoint(*sunset).String()
	}
	if sunrise != nil && sunset != nil {
		w.End = sunrise.Midpoint(*sunset).String()
	}
	return w
}

// CurrentPrayerPeriod names the interval the given instant falls in. Before
// Fajr the night still belongs to Isha.
func CurrentPrayerPeriod(today, tomorrow map[string]string, now timeutil.Clock) models.PrayerPeriod {
	type segment struct {
		name        string
		startKey    string
		endKey      string
		endsNextDay bool
	}
	segments := []segment{
		{"FAJR", models.Fajr, models.Sunrise, false},
		{"SUNRISE", models.Sunrise, models.Dhuhr, false},
		{"DHUHR", models.Dhuhr, models.Asr, false},
		{"ASR", models.Asr, models.Maghrib, false},
		{"MAGHRIB", models.Maghrib, models.Isha, false},
		{"ISHA", models.Isha, models.Fajr, true},
	}
	for _, seg := range segments {
		start := parseTiming(today, seg.startKey)
		var end *timeutil.Clock
		if seg.endsNextDay {
			end = parseTiming(tomorrow, seg.endKey)
		} else {
			end = parseTiming(today, seg.endKey)
		}
		if start == nil || end == nil {
			continue
		}
		if now.InWindow(*start, *end) {
			return models.PrayerPeriod{Name: seg.name, Start: start.String(), End: end.String()}
		}
	}
	// Fall back to Isha so pre-dawn requests see the night period.
	return models.PrayerPeriod{
		Name:  "ISHA",
		Start: timeutil.FormatPtr(parseTiming(today, models.Isha)),
		End:   timeutil.FormatPtr(parseTiming(tomorrow, models.Fajr)),
	}
}

// NextDayPrayerKey picks which prayer to preview for tomorrow. On Thursday a
// Dhuhr period previews Jummah; on Friday it previews Saturday's Dhuhr.
func NextDayPrayerKey(currentPeriod string, today time.Time) string {
	key := models.Fajr
	for _, p := range models.DailyPrayers {
		if strings.EqualFold(currentPeriod, p) {
			key = p
			break
		}
	}
	switch today.Weekday() {
	case time.Thursday:
		if key == models.Dhuhr {
			return "Jummah"
		}
	case time.Friday:
		if key == models.Dhuhr {
			return models.Dhuhr
		}
	}
	return key
}

// NextDayPrayerDisplay is the one-prayer preview for tomorrow.
type NextDayPrayerDisplay struct {
	Name   string `json:"name"`
	Azan   string `json:"azan"`
	Jamaat string `json:"jamaat"`
}

// SingleNextDayPrayer resolves the preview for one prayer key against
// tomorrow's raw record. "Jummah" uses the Friday block rules.
func SingleNextDayPrayer(key string, settings *models.OwnerSettings, tomorrow, dayAfter map[string]string, lastRaw string) NextDayPrayerDisplay {
	if key == "Jummah" {
		j := calculateJummah(settings.Jummah, tomorrow)
		return NextDayPrayerDisplay{Name: key, Azan: j.Azan, Jamaat: j.Jamaat}
	}
	var warnings []string
	lastRawMap := map[string]string{}
	if lastRaw != "" {
		_ = json.Unmarshal([]byte(lastRaw), &lastRawMap)
	}
	display, _ := calculatePrayer(key, settings, tomorrow, dayAfter, lastRawMap, &warnings)
	return NextDayPrayerDisplay{Name: key, Azan: display.Azan, Jamaat: display.Jamaat}
}

// parseTiming parses a timing map entry, nil when absent or malformed.
func parseTiming(timings map[string]string, key string) *timeutil.Clock {
	return parseClock(timings[key])
}

// parseClock parses a clock string, nil when absent or malformed.
func parseClock(s string) *timeutil.Clock {
	if s == "" {
		return nil
	}
	c, err := timeutil.Parse(s)
	if err != nil {
		return nil
	}
	return &c
}

// displayClock echoes a configured clock string normalized through the
// formatter, "N/A" when unparseable.
func displayClock(s string) string {
	return timeutil.FormatPtr(parseClock(s))
}

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/services"
	"github.com/quraeshi99/noortime/internal/timeutil"
)

// initialPrayerResponse is the fixed shape of GET /prayer/initial.
type initialPrayerResponse struct {
	CurrentLocationName string                        `json:"currentLocationName"`
	CurrentPrayerPeriod models.PrayerPeriod           `json:"currentPrayerPeriod"`
	PrayerTimes         prayerTimesBlock              `json:"prayerTimes"`
	DateInfo            dateInfoBlock                 `json:"dateInfo"`
	NextDayPrayer       services.NextDayPrayerDisplay `json:"nextDayPrayerDisplay"`
	UserPreferences     userPreferencesBlock          `json:"userPreferences"`
	Warnings            []string                      `json:"warnings"`
	IsFollowingMasjid   bool                          `json:"is_following_default_masjid"`
	DefaultMasjidInfo   *masjidInfoBlock              `json:"default_masjid_info"`
	Announcements       []models.Announcement         `json:"announcements"`
	NextScheduleURL     string                        `json:"next_schedule_url,omitempty"`
}

type prayerTimesBlock struct {
	Fajr       models.PrayerDisplay  `json:"fajr"`
	Dhuhr      models.PrayerDisplay  `json:"dhuhr"`
	Asr        models.PrayerDisplay  `json:"asr"`
	Maghrib    models.PrayerDisplay  `json:"maghrib"`
	Isha       models.PrayerDisplay  `json:"isha"`
	Jummah     *models.JummahDisplay `json:"jummah,omitempty"`
	Chasht     string                `json:"chasht"`
	Iftari     models.TimeOnly       `json:"iftari"`
	SehriEnd   models.TimeOnly       `json:"sehri_end"`
	ZohwaKubra models.Window         `json:"zohwa_kubra"`
}

type dateInfoBlock struct {
	Gregorian string `json:"gregorian"`
	Hijri     string `json:"hijri"`
}

type userPreferencesBlock struct {
	TimeFormat        string  `json:"timeFormat"`
	CalculationMethod string  `json:"calculationMethod"`
	HomeLatitude      float64 `json:"homeLatitude"`
	HomeLongitude     float64 `json:"homeLongitude"`
}

type masjidInfoBlock struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetInitialPrayerData serves the prayer screen: personalized display times,
// the current period, tomorrow's preview, and community context.
func (h *Handlers) GetInitialPrayerData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, err := h.resolveOwnerID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var (
		settings    *models.OwnerSettings
		following   bool
		masjidInfo  *masjidInfoBlock
		announce    []models.Announcement
		subjectID   = ownerID
		scheduleURL string
	)
	if ownerID != 0 {
		scheduleOwner, err := h.schedules.ResolveScheduleOwner(ctx, ownerID)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		following = scheduleOwner != ownerID
		settings, err = h.settingsRepo.Get(ctx, scheduleOwner)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		if following {
			if masjid, err := h.owners.Get(ctx, scheduleOwner); err == nil {
				masjidInfo = &masjidInfoBlock{ID: masjid.ID, Name: masjid.Name}
			}
			if a, err := h.owners.Announcements(ctx, scheduleOwner); err == nil {
				announce = a
			}
		}
	} else {
		settings, err = h.settingsFromQuery(r)
		if err != nil {
			RespondBadRequest(w, err.Error())
			return
		}
	}

	loc := h.locationOf(settings)
	now := time.Now().In(loc)
	nowClock := timeutil.Clock(now.Hour()*3600 + now.Minute()*60 + now.Second())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	todayRes, err := h.calendars.DayFor(ctx, today, settings.Latitude, settings.Longitude, settings.Method)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	tomorrowRes, err := h.calendars.DayFor(ctx, today.AddDate(0, 0, 1), settings.Latitude, settings.Longitude, settings.Method)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	dayAfterRes, err := h.calendars.DayFor(ctx, today.AddDate(0, 0, 2), settings.Latitude, settings.Longitude, settings.Method)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	lastRaw := ""
	if subjectID != 0 {
		if blob, err := h.settingsRepo.GetLastRawTimes(ctx, subjectID); err == nil {
			lastRaw = blob
		}
	}

	display := services.CalculateDisplayTimes(services.CalculatorInput{
		Settings:    settings,
		Today:       todayRes.Day,
		Tomorrow:    tomorrowRes.Day,
		LastRawBlob: lastRaw,
		Date:        today,
	})

	// Followers never write the masjid's threshold blob.
	if display.NeedsPersist && subjectID != 0 && !following {
		if err := h.settingsRepo.SaveLastRawTimes(ctx, subjectID, display.NewRawBlob); err != nil {
			slog.Warn("last raw times persist failed", "owner_id", subjectID, "error", err)
		}
	}

	period := services.CurrentPrayerPeriod(todayRes.Day.Timings, tomorrowRes.Day.Timings, nowClock)
	nextKey := services.NextDayPrayerKey(period.Name, now)
	nextDay := services.SingleNextDayPrayer(nextKey, settings, tomorrowRes.Day.Timings, dayAfterRes.Day.Timings, lastRaw)

	if subjectID != 0 {
		scheduleURL = fmt.Sprintf("/schedule/monthly?year=%d&month=%d", now.Year(), int(now.Month()))
	}

	resp := initialPrayerResponse{
		CurrentLocationName: h.locationName(r, settings),
		CurrentPrayerPeriod: period,
		PrayerTimes: prayerTimesBlock{
			Fajr:       display.Prayers[models.Fajr],
			Dhuhr:      display.Prayers[models.Dhuhr],
			Asr:        display.Prayers[models.Asr],
			Maghrib:    display.Prayers[models.Maghrib],
			Isha:       display.Prayers[models.Isha],
			Jummah:     display.Jummah,
			Chasht:     display.Chasht,
			Iftari:     display.Iftari,
			SehriEnd:   display.SehriEnd,
			ZohwaKubra: display.ZohwaKubra,
		},
		DateInfo: dateInfoBlock{
			Gregorian: now.Format("02-01-2006, Monday"),
			Hijri:     h.hijriFor(ctx, today, settings, todayRes.Day),
		},
		NextDayPrayer: nextDay,
		UserPreferences: userPreferencesBlock{
			TimeFormat:        settings.TimeFormat,
			CalculationMethod: settings.Method.String(),
			HomeLatitude:      settings.Latitude,
			HomeLongitude:     settings.Longitude,
		},
		Warnings:          display.Warnings,
		IsFollowingMasjid: following,
		DefaultMasjidInfo: masjidInfo,
		Announcements:     announce,
		NextScheduleURL:   scheduleURL,
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if resp.Announcements == nil {
		resp.Announcements = []models.Announcement{}
	}
	RespondJSON(w, http.StatusOK, resp)
}

// GetMonthlyRaw serves the raw calendar slice for one month at a coordinate.
func (h *Handlers) GetMonthlyRaw(w http.ResponseWriter, r *http.Request) {
	year, month, err := yearMonthParams(r)
	if err != nil {
		RespondBadRequest(w, err.Error())
		return
	}
	settings, err := h.settingsFromQuery(r)
	if err != nil {
		RespondBadRequest(w, err.Error())
		return
	}
	days, res, err := h.calendars.MonthSlice(r.Context(), year, month, settings.Latitude, settings.Longitude, settings.Method)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"zone_id": res.ZoneID,
		"method":  res.Method.String(),
		"year":    year,
		"month":   month,
		"days":    days,
	})
}

// settingsFromQuery builds ephemeral settings for anonymous requests from
// lat/lon/method query parameters, falling back to the configured defaults.
func (h *Handlers) settingsFromQuery(r *http.Request) (*models.OwnerSettings, error) {
	q := r.URL.Query()

	lat := h.cfg.Prayer.DefaultLat
	lon := h.cfg.Prayer.DefaultLon
	if v := q.Get("lat"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -90 || f > 90 {
			return nil, fmt.Errorf("invalid lat %q", v)
		}
		lat = f
	}
	if v := q.Get("lon"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -180 || f > 180 {
			return nil, fmt.Errorf("invalid lon %q", v)
		}
		lon = f
	}

	method, err := models.ParseMethodKey(h.cfg.Prayer.DefaultMethod)
	if err != nil {
		method = models.MethodKey{CalcMethodID: 3}
	}
	if v := q.Get("method"); v != "" {
		if strings.EqualFold(v, "AUTOMATIC") {
			method.CalcMethodID = h.cfg.Prayer.AutomaticMethod
		} else {
			id, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid method %q", v)
			}
			method.CalcMethodID = id
		}
	}
	if v := q.Get("asr"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid asr %q", v)
		}
		method.AsrJuristicID = id
	}
	if v := q.Get("high_lat"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid high_lat %q", v)
		}
		method.HighLatID = id
	}

	// Anonymous requests track the raw times exactly: zero offsets, no
	// stability threshold.
	rules := make(map[string]models.PrayerRule, len(models.DailyPrayers))
	for _, p := range models.DailyPrayers {
		rules[p] = models.PrayerRule{Offset: &models.OffsetRule{}}
	}
	return &models.OwnerSettings{
		Latitude:   lat,
		Longitude:  lon,
		CityName:   q.Get("city"),
		Method:     method,
		Rules:      rules,
		Jummah:     models.JummahRule{Offset: &models.JummahOffset{}},
		TimeFormat: "12h",
	}, nil
}

// locationOf loads the owner's timezone, deriving one from the coordinates
// when settings carry none.
func (h *Handlers) locationOf(settings *models.OwnerSettings) *time.Location {
	name := settings.Timezone
	if name == "" && h.tzFinder != nil {
		name = h.tzFinder.GetTimezoneName(settings.Longitude, settings.Latitude)
	}
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("timezone load failed, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

func (h *Handlers) locationName(r *http.Request, settings *models.OwnerSettings) string {
	if city := r.URL.Query().Get("city"); city != "" {
		return city
	}
	if settings.CityName != "" {
		return settings.CityName
	}
	return "Current Location"
}

// hijriFor applies the owner's Hijri day offset by reading the Hijri label
// of the shifted date.
func (h *Handlers) hijriFor(ctx context.Context, today time.Time, settings *models.OwnerSettings, todayDay *models.DailyTimings) string {
	if todayDay == nil {
		return ""
	}
	if settings.HijriOffsetDays == 0 {
		return todayDay.Hijri
	}
	shifted, err := h.calendars.DayFor(ctx, today.AddDate(0, 0, settings.HijriOffsetDays), settings.Latitude, settings.Longitude, settings.Method)
	if err != nil || shifted.Day.Hijri == "" {
		return todayDay.Hijri
	}
	return shifted.Day.Hijri
}

func yearMonthParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil || year < 2000 || year > 2200 {
		return 0, 0, fmt.Errorf("invalid year %q", q.Get("year"))
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month %q", q.Get("month"))
	}
	return year, month, nil
}

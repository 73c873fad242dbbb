package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quraeshi99/noortime/internal/models"
)

// settingsRequest is the POST /owner/settings body. The method key travels
// in composite form.
type settingsRequest struct {
	Latitude         float64                      `json:"latitude"`
	Longitude        float64                      `json:"longitude"`
	CityName         string                       `json:"city_name"`
	MethodKey        string                       `json:"method_key"`
	Rules            map[string]models.PrayerRule `json:"rules"`
	ThresholdMinutes int                          `json:"threshold_minutes"`
	Jummah           models.JummahRule            `json:"jummah"`
	HijriOffsetDays  int                          `json:"hijri_offset_days"`
	Timezone         string                       `json:"timezone"`
	TimeFormat       string                       `json:"time_format"`
}

// UpdateOwnerSettings persists settings for the authenticated subject and
// triggers the invalidation hook on success.
func (h *Handlers) UpdateOwnerSettings(w http.ResponseWriter, r *http.Request) {
	subject := r.Header.Get("X-Owner-ID")
	ownerID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || ownerID <= 0 {
		RespondBadRequest(w, "X-Owner-ID header is required")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondBadRequest(w, "invalid settings body")
		return
	}
	method, err := models.ParseMethodKey(req.MethodKey)
	if err != nil {
		RespondBadRequest(w, err.Error())
		return
	}

	settings := &models.OwnerSettings{
		OwnerID:          ownerID,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		CityName:         req.CityName,
		Method:           method,
		Rules:            req.Rules,
		ThresholdMinutes: req.ThresholdMinutes,
		Jummah:           req.Jummah,
		HijriOffsetDays:  req.HijriOffsetDays,
		Timezone:         req.Timezone,
		TimeFormat:       req.TimeFormat,
	}
	if err := h.settingsSvc.Update(r.Context(), settings); err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

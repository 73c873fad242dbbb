package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quraeshi99/noortime/internal/models"
)

// Geocode resolves a city name to coordinates, reading the database cache
// before the adapter.
func (h *Handlers) Geocode(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		RespondBadRequest(w, "city is required")
		return
	}
	ctx := r.Context()
	normalized := strings.ToLower(city)

	if cached, err := h.geocodes.Get(ctx, normalized); err == nil && cached != nil {
		RespondJSON(w, http.StatusOK, map[string]any{
			"city":    city,
			"lat":     cached.Latitude,
			"lon":     cached.Longitude,
			"country": cached.Country,
			"cached":  true,
		})
		return
	}

	result, err := h.geocoder.Geocode(ctx, city)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if err := h.geocodes.Put(ctx, &models.GeocodeEntry{
		CityName:  normalized,
		Latitude:  result.Latitude,
		Longitude: result.Longitude,
		Country:   result.Country,
		CreatedAt: time.Now(),
	}); err != nil {
		slog.Warn("geocode cache write failed", "city", normalized, "error", err)
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"city":    result.City,
		"lat":     result.Latitude,
		"lon":     result.Longitude,
		"country": result.Country,
		"cached":  false,
	})
}

// Autocomplete proxies prefix suggestions; no caching, the result set is too
// volatile to be worth it.
func (h *Handlers) Autocomplete(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(prefix) < 2 {
		RespondBadRequest(w, "q must be at least 2 characters")
		return
	}
	suggestions, err := h.geocoder.Autocomplete(r.Context(), prefix)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

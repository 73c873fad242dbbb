package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

// GetMonthlySchedule returns the materializer's object verbatim for the
// authenticated subject or guest device.
func (h *Handlers) GetMonthlySchedule(w http.ResponseWriter, r *http.Request) {
	year, month, err := yearMonthParams(r)
	if err != nil {
		RespondBadRequest(w, err.Error())
		return
	}
	ownerID, err := h.resolveOwnerID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if ownerID == 0 {
		RespondError(w, r, apperr.New(apperr.NotFound, "no owner for this request"))
		return
	}
	sched, err := h.schedules.GetOrGenerate(r.Context(), ownerID, year, month, false)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, sched)
}

// guestFollowRequest is the POST /guest/follow body.
type guestFollowRequest struct {
	MasjidID int64 `json:"masjid_id"`
}

// GuestFollow idempotently binds the caller's device to a collective owner.
func (h *Handlers) GuestFollow(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		RespondBadRequest(w, "X-Device-ID header is required")
		return
	}
	var req guestFollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MasjidID <= 0 {
		RespondBadRequest(w, "masjid_id is required")
		return
	}

	ctx := r.Context()
	owner, err := h.owners.Get(ctx, req.MasjidID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if owner.Kind != models.OwnerCollective {
		RespondBadRequest(w, "owner is not a masjid")
		return
	}
	if err := h.owners.UpsertDeviceFollow(ctx, deviceID, req.MasjidID); err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"masjid_id": req.MasjidID,
	})
}

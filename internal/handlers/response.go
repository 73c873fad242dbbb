// Package handlers provides the HTTP handlers for the prayer schedule
// engine. Handlers parse and validate input, call the service layer, and
// render through the response helpers below; error kinds map to transport
// semantics in exactly one place.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quraeshi99/noortime/internal/apperr"
)

// RespondJSON writes a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// RespondError maps the error taxonomy onto HTTP: NotFound=404,
// Conflict=409, Transient=503 (+Retry-After when known), everything
// else=500.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	message := "internal server error"

	switch kind {
	case apperr.NotFound:
		status = http.StatusNotFound
		message = err.Error()
	case apperr.Conflict:
		status = http.StatusConflict
		message = err.Error()
	case apperr.Transient:
		status = http.StatusServiceUnavailable
		message = "upstream temporarily unavailable"
		if ra := apperr.RetryAfterOf(err); ra > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(ra))
		}
	case apperr.Permanent:
		message = "request could not be processed"
	}

	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind.String(), "error", err)
	} else {
		slog.Info("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind.String(), "error", err)
	}
	RespondJSON(w, status, errorBody{Error: message, Kind: kind.String()})
}

// RespondBadRequest is for malformed input detected before the service layer.
func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondJSON(w, http.StatusBadRequest, errorBody{Error: message, Kind: "bad_request"})
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/gorilla/mux"
)

// writeJSON encodes v as JSON with the provided status code and a JSON content-type.
// Encode errors are ignored; the status line is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError returns a plain-text HTTP error.
func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduling.ErrInvalid),
		errors.Is(err, notify.ErrMissingUser),
		errors.Is(err, notify.ErrInvalidAction),
		errors.Is(err, notify.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrNoSlotAvailable),
		errors.Is(err, scheduling.ErrSlotTaken),
		errors.Is(err, store.ErrAlreadyPublished),
		errors.Is(err, store.ErrClaimHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status statusFor picks.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// requireMethod returns false and writes StatusMethodNotAllowed if r.Method != method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// pathVar returns the mux path var value (or empty string if missing).
func pathVar(r *http.Request, key string) string {
	return strings.TrimSpace(mux.Vars(r)[key])
}

// decodeJSON decodes a JSON request body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseLimit reads ?limit= clamped to [min, max]; -1 means the value was not a number.
func parseLimit(r *http.Request, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

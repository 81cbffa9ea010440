package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/gorilla/mux"
)

func TestRequireMethod(t *testing.T) {
	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		rr := httptest.NewRecorder()

		ok := requireMethod(rr, req, http.MethodPost)
		if ok {
			t.Fatalf("expected ok=false")
		}
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
		}
	})

	t.Run("right method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		rr := httptest.NewRecorder()

		ok := requireMethod(rr, req, http.MethodPost)
		if !ok {
			t.Fatalf("expected ok=true")
		}
		// No status written yet.
		if rr.Code != http.StatusOK {
			t.Fatalf("expected default recorder status %d, got %d", http.StatusOK, rr.Code)
		}
	})
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]any{"ok": true})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	if body := rr.Body.String(); body == "" || body[0] != '{' {
		t.Fatalf("expected json body, got %q", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		A string `json:"a"`
	}
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"a":"b"}`))

	var out payload
	if err := decodeJSON(req, &out); err != nil {
		t.Fatalf("decodeJSON error: %v", err)
	}
	if out.A != "b" {
		t.Fatalf("expected a=b, got %q", out.A)
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`not-json`))
	var out map[string]any
	if err := decodeJSON(req, &out); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPathVar(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/users/123", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "123"})

	if got := pathVar(req, "id"); got != "123" {
		t.Fatalf("expected id=123, got %q", got)
	}
	if got := pathVar(req, "missing"); got != "" {
		t.Fatalf("expected missing var to be empty string, got %q", got)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusBadRequest, "nope")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	// http.Error writes text/plain; charset=utf-8 and appends a newline.
	if body := rr.Body.String(); body != "nope\n" {
		t.Fatalf("expected body %q, got %q", "nope\n", body)
	}
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	out := map[string]any{"kept": true}
	if err := decodeJSON(req, &out); err != nil {
		t.Fatalf("expected empty body to be accepted, got %v", err)
	}
	if out["kept"] != true {
		t.Fatalf("expected dst untouched")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad cadence", scheduling.ErrInvalid), http.StatusBadRequest},
		{notify.ErrInvalidAction, http.StatusBadRequest},
		{fmt.Errorf("item x: %w", store.ErrNotFound), http.StatusNotFound},
		{scheduling.ErrNoSlotAvailable, http.StatusConflict},
		{scheduling.ErrSlotTaken, http.StatusConflict},
		{store.ErrAlreadyPublished, http.StatusConflict},
		{store.ErrClaimHeld, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, got)
		}
	}
}

func TestParseLimit(t *testing.T) {
	for raw, want := range map[string]int{"": 50, "0": 1, "500": 200, "20": 20, "x": -1} {
		req := httptest.NewRequest(http.MethodGet, "/x?limit="+raw, nil)
		if got := parseLimit(req, 50, 1, 200); got != want {
			t.Fatalf("limit=%q: expected %d got %d", raw, want, got)
		}
	}
}

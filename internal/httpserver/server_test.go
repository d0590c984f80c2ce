package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeStore struct {
	pingErr error
	pending map[string]bool
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ApproveTelegramUser(_ context.Context, id string) (bool, error) {
	if !f.pending[id] {
		return false, nil
	}
	delete(f.pending, id)
	return true, nil
}

func testServer(store Store) *Server {
	return New(":0", slog.Default(), Dependencies{Store: store})
}

func TestHealthOK(t *testing.T) {
	s := testServer(&fakeStore{})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHealthDegradedKeepsJSONContentType(t *testing.T) {
	s := testServer(&fakeStore{pingErr: errors.New("connection refused")})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "degraded") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestApproveEndpoint(t *testing.T) {
	store := &fakeStore{pending: map[string]bool{"555001": true}}
	s := testServer(store)

	w := httptest.NewRecorder()
	s.handleApprove(w, httptest.NewRequest(http.MethodPost, "/admin/approve?telegram_id=555001", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "approved") {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	s.handleApprove(w, httptest.NewRequest(http.MethodPost, "/admin/approve?telegram_id=999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleApprove(w, httptest.NewRequest(http.MethodGet, "/admin/approve?telegram_id=555001", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}

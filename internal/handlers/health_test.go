package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthReportsOK(t *testing.T) {
	handler := HealthHandler{Checks: map[string]Pinger{"database": stubPinger{}}}

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %s", got)
	}
	body := decode[healthResponse](t, rec)
	if body.Status != "ok" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthDegradesOnFailedCheck(t *testing.T) {
	handler := HealthHandler{Checks: map[string]Pinger{
		"database": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
	}}

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	body := decode[healthResponse](t, rec)
	if body.Status != "degraded" || body.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.Handle(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed got %d", rec.Code)
	}
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/models"
	"github.com/doohworks/playmetry/internal/pipeline"
)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

// fakeRunner records trigger calls and returns canned results.
type fakeRunner struct {
	runErr      error
	backfillErr error
	lastStage   models.Stage
	lastFrom    time.Time
	lastTo      time.Time
}

func (f *fakeRunner) RunStage(_ context.Context, stage models.Stage) (*models.RunResult, error) {
	f.lastStage = stage
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &models.RunResult{Stage: stage, Period: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), RowsWritten: 3}, nil
}

func (f *fakeRunner) Backfill(_ context.Context, stage models.Stage, from, to time.Time) (*models.RunResult, error) {
	f.lastStage, f.lastFrom, f.lastTo = stage, from, to
	if f.backfillErr != nil {
		return nil, f.backfillErr
	}
	return &models.RunResult{Stage: stage, Period: from, RowsWritten: 7, Backfill: true}, nil
}

func (f *fakeRunner) Status(context.Context) ([]models.StageStatus, error) {
	return []models.StageStatus{
		{Stage: models.StageHourly},
		{Stage: models.StageDaily},
	}, nil
}

func testConfig(token string) *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			OpsToken:          token,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: true,
		},
	}
}

func setupRouter(t *testing.T, db Pinger, runner Runner, token string) http.Handler {
	t.Helper()
	return NewHandler(db, runner, testConfig(token)).Routes()
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router := setupRouter(t, &fakePinger{}, &fakeRunner{}, "")

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestHealthReadyDatabaseDown(t *testing.T) {
	router := setupRouter(t, &fakePinger{err: errors.New("down")}, &fakeRunner{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when database is down, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "not_ready" {
		t.Errorf("Expected not_ready, got %s", resp.Status)
	}
}

func TestWatermarksEndpoint(t *testing.T) {
	router := setupRouter(t, &fakePinger{}, &fakeRunner{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/watermarks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "success" {
		t.Errorf("Expected success, got %s", resp.Status)
	}
}

func TestRunRequiresToken(t *testing.T) {
	runner := &fakeRunner{}
	router := setupRouter(t, &fakePinger{}, runner, "secret-token")

	body := bytes.NewBufferString(`{"stage":"hourly"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", rec.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewBufferString(`{"stage":"hourly"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 with wrong token, got %d", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewBufferString(`{"stage":"hourly"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}
	if runner.lastStage != models.StageHourly {
		t.Errorf("Expected hourly run, got %s", runner.lastStage)
	}
}

func TestRunValidation(t *testing.T) {
	router := setupRouter(t, &fakePinger{}, &fakeRunner{}, "")

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"missing stage", `{}`},
		{"unknown stage", `{"stage":"weekly"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewBufferString(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestRunErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"caught up", pipeline.ErrNothingToProcess, http.StatusConflict, "NOTHING_TO_PROCESS"},
		{"lease held", database.ErrLeaseHeld, http.StatusConflict, "RUN_IN_PROGRESS"},
		{"open period", pipeline.ErrOpenPeriod, http.StatusUnprocessableEntity, "OPEN_PERIOD"},
		{"hourly behind", pipeline.ErrHourlyBehind, http.StatusUnprocessableEntity, "HOURLY_BEHIND"},
		{"invalid period", pipeline.ErrInvalidPeriod, http.StatusBadRequest, "INVALID_PERIOD"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "RUN_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, &fakePinger{}, &fakeRunner{runErr: tt.err}, "")

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewBufferString(`{"stage":"daily"}`)))
			if rec.Code != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("Expected error code %s, got %+v", tt.code, resp.Error)
			}
		})
	}
}

func TestBackfillEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	router := setupRouter(t, &fakePinger{}, runner, "")

	body := `{"stage":"hourly","from":"2026-03-10T09:00:00Z","to":"2026-03-10T12:00:00Z"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/backfill", bytes.NewBufferString(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !runner.lastFrom.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Wrong from bound: %v", runner.lastFrom)
	}
	if !runner.lastTo.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Wrong to bound: %v", runner.lastTo)
	}

	// Malformed timestamp.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/backfill",
		bytes.NewBufferString(`{"stage":"hourly","from":"yesterday","to":"2026-03-10T12:00:00Z"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed timestamp, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t, &fakePinger{}, &fakeRunner{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package api serves the operational HTTP surface: health and readiness
// probes, watermark status, manual run and backfill triggers, and
// Prometheus metrics. Reporting queries are deliberately absent;
// consumers read dooh_report_daily through their own tooling.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/models"
	"github.com/doohworks/playmetry/internal/pipeline"
)

// maxRequestBody bounds trigger request bodies.
const maxRequestBody = 1 << 16

var validate = validator.New(validator.WithRequiredStructEnabled())

// Pinger is the database health surface the handlers need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner is the pipeline surface the trigger endpoints drive.
// *pipeline.Runner implements it.
type Runner interface {
	RunStage(ctx context.Context, stage models.Stage) (*models.RunResult, error)
	Backfill(ctx context.Context, stage models.Stage, from, to time.Time) (*models.RunResult, error)
	Status(ctx context.Context) ([]models.StageStatus, error)
}

// Handler holds the HTTP handler dependencies.
type Handler struct {
	db        Pinger
	runner    Runner
	cfg       *config.Config
	startTime time.Time
}

// NewHandler creates the operational API handler.
func NewHandler(db Pinger, runner Runner, cfg *config.Config) *Handler {
	return &Handler{
		db:        db,
		runner:    runner,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Err(err).Str("code", code).Msg("API error")
	}
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// Health reports overall service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := http.StatusOK
	if !dbConnected {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, &models.APIResponse{
		Status: map[bool]string{true: "success", false: "error"}[dbConnected],
		Data: map[string]interface{}{
			"database_connected": dbConnected,
			"uptime_seconds":     time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthLive is the liveness probe: the process is up, dependencies
// notwithstanding.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady is the readiness probe: 200 only when the database
// answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := http.StatusOK
	state := "ready"
	if !dbConnected {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	respondJSON(w, status, &models.APIResponse{
		Status: state,
		Data: map[string]interface{}{
			"database_connected": dbConnected,
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// Watermarks returns watermark, lease and pending period per stage.
func (h *Handler) Watermarks(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.runner.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATUS_FAILED", "Failed to read pipeline status", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"stages": statuses})
}

// RunRequest triggers one run of a stage.
type RunRequest struct {
	Stage string `json:"stage" validate:"required,oneof=hourly daily"`
}

// Run triggers a single pipeline run for the requested stage.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.runner.RunStage(r.Context(), models.Stage(req.Stage))
	if err != nil {
		respondRunError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// BackfillRequest rewrites a closed period range of a stage in place.
// Timestamps are RFC 3339; both bounds are inclusive and must be
// aligned to the stage's period length (the hour or the day).
type BackfillRequest struct {
	Stage string `json:"stage" validate:"required,oneof=hourly daily"`
	From  string `json:"from" validate:"required"`
	To    string `json:"to" validate:"required"`
}

// Backfill triggers a watermark-preserving rewrite of committed periods.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from must be an RFC 3339 timestamp", nil)
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "to must be an RFC 3339 timestamp", nil)
		return
	}

	result, err := h.runner.Backfill(r.Context(), models.Stage(req.Stage), from, to)
	if err != nil {
		respondRunError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// decodeRequest parses and validates a JSON request body. Writes the
// error response itself and returns false when the request is bad.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON", nil)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		msg := "Invalid request"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = fmt.Sprintf("Invalid field %q (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
		return false
	}
	return true
}

// respondRunError maps pipeline errors onto HTTP statuses.
func respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNothingToProcess):
		respondError(w, http.StatusConflict, "NOTHING_TO_PROCESS", "Stage is caught up; no closed period is pending", nil)
	case errors.Is(err, database.ErrLeaseHeld):
		respondError(w, http.StatusConflict, "RUN_IN_PROGRESS", "Another run holds the stage lease", nil)
	case errors.Is(err, pipeline.ErrOpenPeriod):
		respondError(w, http.StatusUnprocessableEntity, "OPEN_PERIOD", "The requested period is not fully closed", nil)
	case errors.Is(err, pipeline.ErrHourlyBehind):
		respondError(w, http.StatusUnprocessableEntity, "HOURLY_BEHIND", "Hourly aggregation has not finished the requested day", nil)
	case errors.Is(err, pipeline.ErrInvalidPeriod):
		respondError(w, http.StatusBadRequest, "INVALID_PERIOD", "Period bounds are unaligned or ahead of the watermark", nil)
	default:
		respondError(w, http.StatusInternalServerError, "RUN_FAILED", "Pipeline run failed", err)
	}
}

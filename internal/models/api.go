// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package models

import "time"

// APIResponse is the standard envelope for all operational API responses.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// APIError describes an API-level failure.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StageStatus is the per-stage view returned by the watermarks endpoint.
type StageStatus struct {
	Stage         Stage      `json:"stage"`
	LastPeriod    *time.Time `json:"last_completed_period,omitempty"`
	LeaseHolder   *string    `json:"lease_holder,omitempty"`
	LeaseExpires  *time.Time `json:"lease_expires_at,omitempty"`
	PendingPeriod *time.Time `json:"next_pending_period,omitempty"`
}

// RunResult summarizes one committed pipeline run.
type RunResult struct {
	Stage       Stage     `json:"stage"`
	Period      time.Time `json:"period"`
	RowsWritten int       `json:"rows_written"`
	DurationMs  int64     `json:"duration_ms"`
	Backfill    bool      `json:"backfill"`
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package models

import "time"

// Stage identifies a pipeline stage with its own watermark and lease.
type Stage string

const (
	// StageHourly is the hourly aggregation stage.
	StageHourly Stage = "hourly"
	// StageDaily is the daily roll-up stage.
	StageDaily Stage = "daily"
)

// Valid reports whether the stage is one of the known pipeline stages.
func (s Stage) Valid() bool {
	return s == StageHourly || s == StageDaily
}

// Watermark records the last successfully committed period for a stage.
// LastPeriod is the start of the committed period in UTC: a truncated hour
// for the hourly stage, midnight for the daily stage. It advances only in
// the same transaction as a successful commit and is never rolled back
// automatically.
type Watermark struct {
	Stage      Stage     `json:"stage"`
	LastPeriod time.Time `json:"last_completed_period"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lease is the exclusive per-stage run ownership record. A run must hold
// the stage's lease before leaving Idle; a lease past ExpiresAt is treated
// as free, so a crashed run cannot block its stage forever.
type Lease struct {
	Stage     Stage     `json:"stage"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

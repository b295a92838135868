// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package pipeline implements the incremental aggregation pipeline.
//
// Two stages run independently, each driven by its own watermark:
//
//   - hourly: reconstructs playback sessions for exactly one closed hour
//     of raw events, joins device uptime and dimension attributes, and
//     commits the hour's rows together with the watermark advance.
//   - daily: rolls one fully closed calendar day of hourly rows into the
//     daily report table, the sole source for reporting consumers.
//
// Both stages write via delete-then-insert keyed by the period, so
// retrying a crashed run or backfilling a committed period is an
// idempotent overwrite. A stage takes an exclusive lease before running;
// a second concurrent run is rejected, never interleaved.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

var (
	// ErrNothingToProcess means the stage is caught up: the next period
	// is still open or there is no input data yet. Not a failure.
	ErrNothingToProcess = errors.New("no closed period pending")

	// ErrOpenPeriod rejects a request to process a period that is not
	// fully in the past. No write happens.
	ErrOpenPeriod = errors.New("period is still open")

	// ErrHourlyBehind rejects a daily roll-up for a day whose hourly
	// aggregation has not reached the day's final hour yet.
	ErrHourlyBehind = errors.New("hourly watermark behind requested day")

	// ErrInvalidPeriod rejects a backfill request whose bounds are
	// malformed or not aligned to the stage's period length.
	ErrInvalidPeriod = errors.New("invalid period bounds")
)

// Store is the persistence surface the pipeline stages run against.
// *database.DB implements it; tests substitute fakes for failure
// injection.
type Store interface {
	AnchorEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error)
	CompletionEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error)
	EarliestEventHour(ctx context.Context) (*time.Time, error)
	DailyPulseCounts(ctx context.Context, day time.Time) (map[string]models.PulseCounts, error)

	ReplaceHourlyRows(ctx context.Context, hour time.Time, rows []models.ReportRow, advance bool) error
	ReplaceDailyRows(ctx context.Context, day time.Time, rows []models.ReportRow, advance bool) error
	HourlyRowsForDate(ctx context.Context, day time.Time) ([]models.ReportRow, error)
	EarliestHourlyDate(ctx context.Context) (*time.Time, error)

	Watermark(ctx context.Context, stage models.Stage) (*models.Watermark, error)
	AcquireLease(ctx context.Context, stage models.Stage, ttl time.Duration, holder string) error
	ReleaseLease(ctx context.Context, stage models.Stage, holder string) error
	Lease(ctx context.Context, stage models.Stage) (*models.Lease, error)
}

// DimensionStore is the dimension master-data lookup surface.
type DimensionStore interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetCreativeAsset(ctx context.Context, id string) (*models.CreativeAsset, error)
	GetCreativeFile(ctx context.Context, creativeID, resolution string) (*models.CreativeFile, error)
}

// truncateHour floors t to the start of its UTC hour.
func truncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// truncateDay floors t to UTC midnight.
func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

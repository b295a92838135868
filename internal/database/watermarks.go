// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

// ErrLeaseHeld is returned when a stage's lease is held by another run.
var ErrLeaseHeld = errors.New("stage lease already held")

// Watermark returns the stage's last committed period, or nil when the
// stage has never committed.
func (db *DB) Watermark(ctx context.Context, stage models.Stage) (*models.Watermark, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var w models.Watermark
	err := db.conn.QueryRowContext(ctx,
		`SELECT stage, last_period, updated_at FROM pipeline_watermarks WHERE stage = ?`,
		string(stage)).
		Scan((*string)(&w.Stage), &w.LastPeriod, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s watermark: %w", stage, err)
	}
	w.LastPeriod = w.LastPeriod.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

// setWatermarkTx advances a stage watermark inside an open transaction.
// The watermark only ever moves forward; the guard matters for backfill,
// which rewrites old periods without touching the watermark at all, and
// protects against a misordered manual run.
func setWatermarkTx(ctx context.Context, tx *sql.Tx, stage models.Stage, period time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_watermarks (stage, last_period, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (stage) DO UPDATE SET
			last_period = greatest(pipeline_watermarks.last_period, excluded.last_period),
			updated_at = excluded.updated_at`,
		string(stage), period.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance %s watermark: %w", stage, err)
	}
	return nil
}

// AcquireLease takes the stage's exclusive run lease for ttl and returns
// the holder token. Returns ErrLeaseHeld when a non-expired lease exists.
// Expired leases are stolen; a crashed run cannot block its stage past
// the lease TTL.
func (db *DB) AcquireLease(ctx context.Context, stage models.Stage, ttl time.Duration, holder string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	var existingHolder string
	var expires time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM pipeline_leases WHERE stage = ?`, string(stage)).
		Scan(&existingHolder, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Free.
	case err != nil:
		return fmt.Errorf("failed to query %s lease: %w", stage, err)
	case expires.UTC().After(now) && existingHolder != holder:
		return ErrLeaseHeld
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO pipeline_leases (stage, holder, expires_at)
		VALUES (?, ?, ?)`,
		string(stage), holder, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to write %s lease: %w", stage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s lease: %w", stage, err)
	}
	return nil
}

// ReleaseLease releases the stage lease if still held by holder.
// Releasing an expired or stolen lease is a no-op, not an error.
func (db *DB) ReleaseLease(ctx context.Context, stage models.Stage, holder string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM pipeline_leases WHERE stage = ? AND holder = ?`,
		string(stage), holder); err != nil {
		return fmt.Errorf("failed to release %s lease: %w", stage, err)
	}
	return nil
}

// Lease returns the stage's current lease, or nil when none exists.
func (db *DB) Lease(ctx context.Context, stage models.Stage) (*models.Lease, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var l models.Lease
	err := db.conn.QueryRowContext(ctx,
		`SELECT stage, holder, expires_at FROM pipeline_leases WHERE stage = ?`, string(stage)).
		Scan((*string)(&l.Stage), &l.Holder, &l.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s lease: %w", stage, err)
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	return &l, nil
}

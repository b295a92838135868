// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

// AnchorEvents returns start/impression events with timestamps in the
// half-open window [from, to), ordered by timestamp. The exclusive upper
// bound guarantees an event at exactly an hour boundary is seen by the
// following window only.
func (db *DB) AnchorEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT device_id, slot_index, campaign_id, creative_id, playlist_id, event_kind, ts
		FROM raw_events
		WHERE event_kind IN ('start', 'impression')
		  AND ts >= ? AND ts < ?
		ORDER BY ts, device_id, slot_index`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query anchor events: %w", err)
	}
	defer closeQuietly(rows)

	return scanRawEvents(rows)
}

// CompletionEvents returns complete events with timestamps in the closed
// range [from, to]. The caller extends the range past the aggregation
// window end so completes belonging to sessions anchored late in the
// window can still be attributed.
func (db *DB) CompletionEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT device_id, slot_index, campaign_id, creative_id, playlist_id, event_kind, ts
		FROM raw_events
		WHERE event_kind = 'complete'
		  AND ts >= ? AND ts <= ?
		ORDER BY device_id, slot_index, ts`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion events: %w", err)
	}
	defer closeQuietly(rows)

	return scanRawEvents(rows)
}

// EarliestEventHour returns the truncated hour of the oldest raw event,
// or nil when the log is empty. Used to bootstrap the hourly watermark.
func (db *DB) EarliestEventHour(ctx context.Context) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var ts sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT date_trunc('hour', min(ts)) FROM raw_events`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to query earliest event: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	hour := ts.Time.UTC()
	return &hour, nil
}

// scanRawEvents drains an event result set.
func scanRawEvents(rows *sql.Rows) ([]models.RawEvent, error) {
	var events []models.RawEvent
	for rows.Next() {
		var ev models.RawEvent
		var kind string
		if err := rows.Scan(&ev.DeviceID, &ev.SlotIndex, &ev.CampaignID,
			&ev.CreativeID, &ev.PlaylistID, &kind, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("raw event iteration failed: %w", err)
	}
	return events, nil
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

// DailyPulseCounts returns, for every device that reported that day,
// the total pulse count and the count of ACTIVE pulses. Devices with no
// pulses are simply absent from the map; the uptime calculator treats
// absence as zero uptime.
//
// Pulses are read fresh on every call. A day's telemetry may still be
// arriving while its hours are aggregated, so no caching across runs.
func (db *DB) DailyPulseCounts(ctx context.Context, day time.Time) (map[string]models.PulseCounts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT device_id,
		       count(*) FILTER (WHERE status = 'ACTIVE') AS active,
		       count(*) AS total
		FROM telemetry_pulses
		WHERE ts >= ? AND ts < ?
		GROUP BY device_id`,
		dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query pulse counts: %w", err)
	}
	defer closeQuietly(rows)

	counts := make(map[string]models.PulseCounts)
	for rows.Next() {
		var deviceID string
		var c models.PulseCounts
		if err := rows.Scan(&deviceID, &c.Active, &c.Total); err != nil {
			return nil, fmt.Errorf("failed to scan pulse counts: %w", err)
		}
		counts[deviceID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pulse count iteration failed: %w", err)
	}
	return counts, nil
}

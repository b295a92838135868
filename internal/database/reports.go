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

// ReplaceHourlyRows atomically rewrites the hourly report rows for one
// hour and, when advance is true, moves the hourly watermark to that hour
// in the same transaction. Delete-then-insert keyed by the period makes
// re-running a committed hour an idempotent overwrite: a normal run and a
// backfill share this path, differing only in advance.
func (db *DB) ReplaceHourlyRows(ctx context.Context, hour time.Time, rows []models.ReportRow, advance bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	hour = hour.UTC()
	statDate := time.Date(hour.Year(), hour.Month(), hour.Day(), 0, 0, 0, 0, time.UTC)
	statHour := hour.Hour()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dooh_report_hourly WHERE stat_date = ? AND stat_hour = ?`,
		statDate, statHour); err != nil {
		return fmt.Errorf("failed to clear hourly rows: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO dooh_report_hourly (stat_date, stat_hour, %s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reportColumns)
	for i := range rows {
		r := &rows[i]
		if _, err := tx.ExecContext(ctx, insert,
			statDate, statHour,
			r.DeviceID, r.CampaignID, r.CreativeID, r.PlaylistID, r.SlotIndex,
			r.Impressions, r.Completes, r.PlaySeconds, r.UptimePct, r.Cost, r.ActiveCampaigns,
			r.DeviceName, r.DeviceResolution, r.DeviceCity,
			r.CampaignName, r.CampaignStatus, r.CostMicro,
			r.CreativeName, r.CreativeFormat, r.CreativeDurationSec, r.CreativeFileURL,
		); err != nil {
			return fmt.Errorf("failed to insert hourly row: %w", err)
		}
	}

	if advance {
		if err := setWatermarkTx(ctx, tx, models.StageHourly, hour); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hourly rows: %w", err)
	}
	return nil
}

// ReplaceDailyRows is the daily counterpart of ReplaceHourlyRows.
func (db *DB) ReplaceDailyRows(ctx context.Context, day time.Time, rows []models.ReportRow, advance bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	day = day.UTC()
	statDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dooh_report_daily WHERE stat_date = ?`, statDate); err != nil {
		return fmt.Errorf("failed to clear daily rows: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO dooh_report_daily (stat_date, %s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reportColumns)
	for i := range rows {
		r := &rows[i]
		if _, err := tx.ExecContext(ctx, insert,
			statDate,
			r.DeviceID, r.CampaignID, r.CreativeID, r.PlaylistID, r.SlotIndex,
			r.Impressions, r.Completes, r.PlaySeconds, r.UptimePct, r.Cost, r.ActiveCampaigns,
			r.DeviceName, r.DeviceResolution, r.DeviceCity,
			r.CampaignName, r.CampaignStatus, r.CostMicro,
			r.CreativeName, r.CreativeFormat, r.CreativeDurationSec, r.CreativeFileURL,
		); err != nil {
			return fmt.Errorf("failed to insert daily row: %w", err)
		}
	}

	if advance {
		if err := setWatermarkTx(ctx, tx, models.StageDaily, statDate); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily rows: %w", err)
	}
	return nil
}

// HourlyRowsForDate returns all hourly rows for one calendar day, ordered
// by hour then key. This is the daily roll-up's only input.
func (db *DB) HourlyRowsForDate(ctx context.Context, day time.Time) ([]models.ReportRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	statDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	query := fmt.Sprintf(`SELECT stat_date, stat_hour, %s
		FROM dooh_report_hourly
		WHERE stat_date = ?
		ORDER BY stat_hour, device_id, campaign_id, creative_id, playlist_id, slot_index`,
		reportColumns)

	rows, err := db.conn.QueryContext(ctx, query, statDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly rows: %w", err)
	}
	defer closeQuietly(rows)

	return scanReportRows(rows, true)
}

// DailyRowsForDate returns the daily rows for one calendar day.
func (db *DB) DailyRowsForDate(ctx context.Context, day time.Time) ([]models.ReportRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	statDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	query := fmt.Sprintf(`SELECT stat_date, %s
		FROM dooh_report_daily
		WHERE stat_date = ?
		ORDER BY device_id, campaign_id, creative_id, playlist_id, slot_index`,
		reportColumns)

	rows, err := db.conn.QueryContext(ctx, query, statDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily rows: %w", err)
	}
	defer closeQuietly(rows)

	return scanReportRows(rows, false)
}

// EarliestHourlyDate returns the oldest stat_date present in the hourly
// table, or nil when it is empty. Used to bootstrap the daily watermark.
func (db *DB) EarliestHourlyDate(ctx context.Context) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var day sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT min(stat_date) FROM dooh_report_hourly`).Scan(&day)
	if err != nil {
		return nil, fmt.Errorf("failed to query earliest hourly date: %w", err)
	}
	if !day.Valid {
		return nil, nil
	}
	d := day.Time.UTC()
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

// scanReportRows drains a report-row result set. hourly selects whether
// the stat_hour column is present in the scan.
func scanReportRows(rows *sql.Rows, hourly bool) ([]models.ReportRow, error) {
	var result []models.ReportRow
	for rows.Next() {
		var r models.ReportRow
		dest := []interface{}{&r.StatDate}
		if hourly {
			r.StatHour = new(int)
			dest = append(dest, r.StatHour)
		}
		dest = append(dest,
			&r.DeviceID, &r.CampaignID, &r.CreativeID, &r.PlaylistID, &r.SlotIndex,
			&r.Impressions, &r.Completes, &r.PlaySeconds, &r.UptimePct, &r.Cost, &r.ActiveCampaigns,
			&r.DeviceName, &r.DeviceResolution, &r.DeviceCity,
			&r.CampaignName, &r.CampaignStatus, &r.CostMicro,
			&r.CreativeName, &r.CreativeFormat, &r.CreativeDurationSec, &r.CreativeFileURL,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.StatDate = r.StatDate.UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report row iteration failed: %w", err)
	}
	return result, nil
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

/*
schema.go - Database Schema Management

Tables:
  - raw_events: append-only proof-of-play log (read-only to the pipeline)
  - telemetry_pulses: periodic device heartbeats (read-only)
  - devices, campaigns, creative_assets, creative_files: dimension master
    data (read-only)
  - dooh_report_hourly: per-hour aggregate rows, pipeline-internal
  - dooh_report_daily: per-day aggregate rows, the sole reporting source
  - pipeline_watermarks: last committed period per stage
  - pipeline_leases: exclusive per-stage run ownership

dooh_report_hourly and dooh_report_daily share an identical column set
except for stat_hour on the hourly table. The daily roll-up depends on
that equivalence; a column added to one table must be added to the other.

Index strategy: raw_events and telemetry_pulses are scanned by bounded
time ranges only, so each gets a leading-timestamp composite index.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// reportColumns is the shared column list of both report tables, minus
// stat_date/stat_hour. Keep in sync with scanReportRow and the insert
// statements in reports.go.
const reportColumns = `device_id, campaign_id, creative_id, playlist_id, slot_index,
	impressions, completes, play_seconds, uptime_pct, cost, active_campaigns,
	device_name, device_resolution, device_city,
	campaign_name, campaign_status, cost_micro,
	creative_name, creative_format, creative_duration_sec, creative_file_url`

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// tableCreationQueries returns the table creation SQL statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			device_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			campaign_id TEXT NOT NULL,
			creative_id TEXT NOT NULL,
			playlist_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS telemetry_pulses (
			device_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			status TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			resolution TEXT,
			city TEXT,
			timezone TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			advertiser TEXT,
			status TEXT NOT NULL,
			cost_micro BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS creative_assets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			format TEXT,
			duration_sec INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS creative_files (
			id TEXT PRIMARY KEY,
			creative_id TEXT NOT NULL,
			resolution TEXT NOT NULL,
			url TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS dooh_report_hourly (
			stat_date DATE NOT NULL,
			stat_hour INTEGER NOT NULL,
			device_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			creative_id TEXT NOT NULL,
			playlist_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			impressions BIGINT NOT NULL DEFAULT 0,
			completes BIGINT NOT NULL DEFAULT 0,
			play_seconds BIGINT NOT NULL DEFAULT 0,
			uptime_pct DOUBLE NOT NULL DEFAULT 0,
			cost DOUBLE NOT NULL DEFAULT 0,
			active_campaigns BIGINT NOT NULL DEFAULT 0,
			device_name TEXT,
			device_resolution TEXT,
			device_city TEXT,
			campaign_name TEXT,
			campaign_status TEXT,
			cost_micro BIGINT,
			creative_name TEXT,
			creative_format TEXT,
			creative_duration_sec INTEGER,
			creative_file_url TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (stat_date, stat_hour, device_id, campaign_id, creative_id, playlist_id, slot_index)
		)`,

		`CREATE TABLE IF NOT EXISTS dooh_report_daily (
			stat_date DATE NOT NULL,
			device_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			creative_id TEXT NOT NULL,
			playlist_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			impressions BIGINT NOT NULL DEFAULT 0,
			completes BIGINT NOT NULL DEFAULT 0,
			play_seconds BIGINT NOT NULL DEFAULT 0,
			uptime_pct DOUBLE NOT NULL DEFAULT 0,
			cost DOUBLE NOT NULL DEFAULT 0,
			active_campaigns BIGINT NOT NULL DEFAULT 0,
			device_name TEXT,
			device_resolution TEXT,
			device_city TEXT,
			campaign_name TEXT,
			campaign_status TEXT,
			cost_micro BIGINT,
			creative_name TEXT,
			creative_format TEXT,
			creative_duration_sec INTEGER,
			creative_file_url TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (stat_date, device_id, campaign_id, creative_id, playlist_id, slot_index)
		)`,

		`CREATE TABLE IF NOT EXISTS pipeline_watermarks (
			stage TEXT PRIMARY KEY,
			last_period TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS pipeline_leases (
			stage TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
	}
}

// createIndexes creates query-path indexes.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_raw_events_ts ON raw_events (ts, event_kind)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_device_slot ON raw_events (device_id, slot_index, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry_pulses (ts, device_id)`,
		`CREATE INDEX IF NOT EXISTS idx_creative_files_creative ON creative_files (creative_id)`,
		`CREATE INDEX IF NOT EXISTS idx_report_hourly_date ON dooh_report_hourly (stat_date)`,
		`CREATE INDEX IF NOT EXISTS idx_report_daily_date ON dooh_report_daily (stat_date)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}
	return nil
}

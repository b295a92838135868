// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package database

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/models"
)

// InsertRawEvents appends proof-of-play events to the raw log.
func (db *DB) InsertRawEvents(ctx context.Context, events []models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event insert transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_events (device_id, slot_index, campaign_id, creative_id, playlist_id, event_kind, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.DeviceID, e.SlotIndex, e.CampaignID,
			e.CreativeID, e.PlaylistID, string(e.Kind), e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// InsertTelemetryPulses appends device heartbeat pulses.
func (db *DB) InsertTelemetryPulses(ctx context.Context, pulses []models.TelemetryPulse) error {
	if len(pulses) == 0 {
		return nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pulse insert transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry_pulses (device_id, ts, status) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare pulse insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, p := range pulses {
		if _, err := stmt.ExecContext(ctx, p.DeviceID, p.Timestamp.UTC(), string(p.Status)); err != nil {
			return fmt.Errorf("failed to insert pulse: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertDevice writes a device master record.
func (db *DB) UpsertDevice(ctx context.Context, d models.Device) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO devices (id, name, resolution, city, timezone)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Resolution, d.City, d.Timezone)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
	}
	return nil
}

// UpsertCampaign writes a campaign master record.
func (db *DB) UpsertCampaign(ctx context.Context, c models.Campaign) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO campaigns (id, name, advertiser, status, cost_micro)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Advertiser, c.Status, c.CostMicro)
	if err != nil {
		return fmt.Errorf("failed to upsert campaign %s: %w", c.ID, err)
	}
	return nil
}

// UpsertCreativeAsset writes a creative master record.
func (db *DB) UpsertCreativeAsset(ctx context.Context, a models.CreativeAsset) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO creative_assets (id, name, format, duration_sec)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Format, a.DurationSec)
	if err != nil {
		return fmt.Errorf("failed to upsert creative %s: %w", a.ID, err)
	}
	return nil
}

// UpsertCreativeFile writes one encoded rendition of a creative.
func (db *DB) UpsertCreativeFile(ctx context.Context, f models.CreativeFile) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO creative_files (id, creative_id, resolution, url)
		VALUES (?, ?, ?, ?)`,
		f.ID, f.CreativeID, f.Resolution, f.URL)
	if err != nil {
		return fmt.Errorf("failed to upsert creative file %s: %w", f.ID, err)
	}
	return nil
}

// SeedDemoData populates the database with a small deterministic fleet and
// two days of playback history ending at the previous full hour. Intended
// for demo and local development; it is a no-op when raw_events already
// has rows.
func (db *DB) SeedDemoData(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var existing int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM raw_events`).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check for existing events: %w", err)
	}
	if existing > 0 {
		logging.Debug().Int64("events", existing).Msg("Raw event log not empty, skipping demo seed")
		return nil
	}

	devices := []models.Device{
		{ID: "dev-berlin-001", Name: "Alexanderplatz North", Resolution: "1920x1080", City: "Berlin", Timezone: "Europe/Berlin"},
		{ID: "dev-berlin-002", Name: "Hauptbahnhof Concourse", Resolution: "3840x2160", City: "Berlin", Timezone: "Europe/Berlin"},
		{ID: "dev-hamburg-001", Name: "Jungfernstieg Mall", Resolution: "1920x1080", City: "Hamburg", Timezone: "Europe/Berlin"},
	}
	campaigns := []models.Campaign{
		{ID: "cmp-kolibri", Name: "Kolibri Cold Brew Launch", Advertiser: "Kolibri Beverages", Status: models.CampaignStatusRunning, CostMicro: 12_500_000},
		{ID: "cmp-nordwind", Name: "Nordwind Winter Sale", Advertiser: "Nordwind Fashion", Status: models.CampaignStatusRunning, CostMicro: 8_000_000},
		{ID: "cmp-velo", Name: "Velo City Bikes", Advertiser: "Velo GmbH", Status: "PAUSED", CostMicro: 5_000_000},
	}
	creatives := []models.CreativeAsset{
		{ID: "cr-kolibri-15", Name: "Kolibri Hero 15s", Format: "video/mp4", DurationSec: 15},
		{ID: "cr-nordwind-10", Name: "Nordwind Loop 10s", Format: "video/mp4", DurationSec: 10},
		{ID: "cr-velo-still", Name: "Velo Static", Format: "image/png", DurationSec: 0},
	}
	files := []models.CreativeFile{
		{ID: "cf-001", CreativeID: "cr-kolibri-15", Resolution: "1920x1080", URL: "https://cdn.example.com/kolibri-15-fhd.mp4"},
		{ID: "cf-002", CreativeID: "cr-kolibri-15", Resolution: "3840x2160", URL: "https://cdn.example.com/kolibri-15-uhd.mp4"},
		{ID: "cf-003", CreativeID: "cr-nordwind-10", Resolution: "1920x1080", URL: "https://cdn.example.com/nordwind-10-fhd.mp4"},
		{ID: "cf-004", CreativeID: "cr-velo-still", Resolution: "1920x1080", URL: "https://cdn.example.com/velo-still-fhd.png"},
	}

	for _, d := range devices {
		if err := db.UpsertDevice(ctx, d); err != nil {
			return err
		}
	}
	for _, c := range campaigns {
		if err := db.UpsertCampaign(ctx, c); err != nil {
			return err
		}
	}
	for _, a := range creatives {
		if err := db.UpsertCreativeAsset(ctx, a); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := db.UpsertCreativeFile(ctx, f); err != nil {
			return err
		}
	}

	// Fixed seed keeps repeated demo runs comparable.
	rng := rand.New(rand.NewSource(42))
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-48 * time.Hour)

	var events []models.RawEvent
	var pulses []models.TelemetryPulse

	type booking struct {
		campaignID string
		creativeID string
		duration   int
		slot       int
	}
	bookings := map[string][]booking{
		"dev-berlin-001":  {{"cmp-kolibri", "cr-kolibri-15", 15, 0}, {"cmp-nordwind", "cr-nordwind-10", 10, 1}},
		"dev-berlin-002":  {{"cmp-kolibri", "cr-kolibri-15", 15, 0}},
		"dev-hamburg-001": {{"cmp-nordwind", "cr-nordwind-10", 10, 0}, {"cmp-velo", "cr-velo-still", 30, 1}},
	}

	for hour := start; hour.Before(end); hour = hour.Add(time.Hour) {
		for _, d := range devices {
			status := models.PulseActive
			if rng.Intn(10) == 0 {
				status = models.PulseInactive
			}
			pulses = append(pulses, models.TelemetryPulse{
				DeviceID:  d.ID,
				Timestamp: hour.Add(time.Duration(rng.Intn(3600)) * time.Second),
				Status:    status,
			})

			for _, b := range bookings[d.ID] {
				plays := 2 + rng.Intn(4)
				for i := 0; i < plays; i++ {
					at := hour.Add(time.Duration(rng.Intn(3300)) * time.Second)
					events = append(events, models.RawEvent{
						DeviceID: d.ID, SlotIndex: b.slot,
						CampaignID: b.campaignID, CreativeID: b.creativeID,
						PlaylistID: "pl-loop-" + d.ID,
						Kind:       models.EventStart, Timestamp: at,
					})
					// Roughly one play in eight never completes.
					if rng.Intn(8) != 0 {
						events = append(events, models.RawEvent{
							DeviceID: d.ID, SlotIndex: b.slot,
							CampaignID: b.campaignID, CreativeID: b.creativeID,
							PlaylistID: "pl-loop-" + d.ID,
							Kind:       models.EventComplete,
							Timestamp:  at.Add(time.Duration(b.duration) * time.Second),
						})
					}
				}
			}
		}
	}

	if err := db.InsertRawEvents(ctx, events); err != nil {
		return err
	}
	if err := db.InsertTelemetryPulses(ctx, pulses); err != nil {
		return err
	}

	logging.Info().
		Int("events", len(events)).
		Int("pulses", len(pulses)).
		Int("devices", len(devices)).
		Msg("Seeded demo playback history")
	return nil
}

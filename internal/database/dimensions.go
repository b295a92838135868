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

	"github.com/doohworks/playmetry/internal/models"
)

// Dimension lookups. All return ErrNotFound for a missing key so callers
// can distinguish "this device was deleted" (degrade the row) from a
// transient store failure (retry).

// GetDevice returns the device with the given id.
func (db *DB) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var d models.Device
	var resolution, city, timezone sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, resolution, city, timezone FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &resolution, &city, &timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device %s: %w", id, err)
	}
	d.Resolution = resolution.String
	d.City = city.String
	d.Timezone = timezone.String
	return &d, nil
}

// GetCampaign returns the campaign with the given id.
func (db *DB) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var c models.Campaign
	var advertiser sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, advertiser, status, cost_micro FROM campaigns WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &advertiser, &c.Status, &c.CostMicro)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign %s: %w", id, err)
	}
	c.Advertiser = advertiser.String
	return &c, nil
}

// GetCreativeAsset returns the creative asset with the given id.
func (db *DB) GetCreativeAsset(ctx context.Context, id string) (*models.CreativeAsset, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var a models.CreativeAsset
	var format sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, format, duration_sec FROM creative_assets WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &format, &a.DurationSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query creative asset %s: %w", id, err)
	}
	a.Format = format.String
	return &a, nil
}

// GetCreativeFile returns the rendition of a creative matching the given
// device resolution, falling back to any rendition when none matches.
func (db *DB) GetCreativeFile(ctx context.Context, creativeID, resolution string) (*models.CreativeFile, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var f models.CreativeFile
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, creative_id, resolution, url
		FROM creative_files
		WHERE creative_id = ?
		ORDER BY (resolution = ?) DESC, id
		LIMIT 1`,
		creativeID, resolution).
		Scan(&f.ID, &f.CreativeID, &f.Resolution, &f.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query creative file for %s: %w", creativeID, err)
	}
	return &f, nil
}

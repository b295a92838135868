// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/models"
)

// One live DuckDB connection at a time, same reasoning as the database
// package tests: concurrent in-memory instances can hang CI.
var testDBSemaphore = make(chan struct{}, 1)
var testDBMutex sync.Mutex

func setupStore(t *testing.T) *database.DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	testDBMutex.Lock()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	testDBMutex.Unlock()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		HourlyEnabled:           true,
		DailyEnabled:            true,
		CheckInterval:           time.Minute,
		CatchUpMaxRuns:          48,
		LeaseTTL:                10 * time.Minute,
		FallbackDuration:        60 * time.Second,
		MatchTolerance:          10 * time.Second,
		MaxCreativeDuration:     10 * time.Minute,
		RetryInitialInterval:    time.Millisecond,
		RetryMaxElapsedTime:     50 * time.Millisecond,
		BreakerFailureThreshold: 5,
	}
}

// seedCampaignFixture writes the dimension rows used across the
// pipeline tests: one device, one RUNNING campaign at 2.5 units cost,
// one 30-second creative.
func seedCampaignFixture(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()

	if err := db.UpsertDevice(ctx, models.Device{
		ID: "dev-1", Name: "Lobby Screen", Resolution: "1920x1080", City: "Berlin", Timezone: "Europe/Berlin",
	}); err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if err := db.UpsertCampaign(ctx, models.Campaign{
		ID: "cmp-1", Name: "Launch", Advertiser: "Acme", Status: models.CampaignStatusRunning, CostMicro: 2_500_000,
	}); err != nil {
		t.Fatalf("UpsertCampaign failed: %v", err)
	}
	if err := db.UpsertCreativeAsset(ctx, models.CreativeAsset{
		ID: "cr-1", Name: "Hero", Format: "video/mp4", DurationSec: 30,
	}); err != nil {
		t.Fatalf("UpsertCreativeAsset failed: %v", err)
	}
	if err := db.UpsertCreativeFile(ctx, models.CreativeFile{
		ID: "cf-1", CreativeID: "cr-1", Resolution: "1920x1080", URL: "https://cdn.example.com/hero.mp4",
	}); err != nil {
		t.Fatalf("UpsertCreativeFile failed: %v", err)
	}
}

func rawEvent(kind models.EventKind, at time.Time) models.RawEvent {
	return models.RawEvent{
		DeviceID: "dev-1", SlotIndex: 0,
		CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1",
		Kind: kind, Timestamp: at,
	}
}

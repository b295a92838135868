// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

func hourlyRow(hour int, key models.ReportKey, impressions, completes, playSeconds int64, uptime float64) models.ReportRow {
	h := hour
	return models.ReportRow{
		StatDate:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		StatHour:        &h,
		ReportKey:       key,
		Impressions:     impressions,
		Completes:       completes,
		PlaySeconds:     playSeconds,
		UptimePct:       uptime,
		ActiveCampaigns: 1,
	}
}

func TestRollupRowsSumsCounters(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	key := models.ReportKey{DeviceID: "dev-1", CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1", SlotIndex: 0}
	cost := int64(2_500_000)

	a := hourlyRow(9, key, 5, 4, 150, 70.0)
	a.CostMicro = &cost
	b := hourlyRow(10, key, 3, 3, 90, 70.0)
	b.CostMicro = &cost

	rows := RollupRows(day, []models.ReportRow{a, b})
	if len(rows) != 1 {
		t.Fatalf("Expected 1 daily row, got %d", len(rows))
	}
	r := rows[0]
	if r.Impressions != 8 || r.Completes != 7 || r.PlaySeconds != 240 {
		t.Errorf("Counter sums wrong: %d/%d/%d", r.Impressions, r.Completes, r.PlaySeconds)
	}
	if r.UptimePct != 70.0 {
		t.Errorf("Expected uptime 70.0, got %v", r.UptimePct)
	}
	if r.Cost != 2.5 {
		t.Errorf("Cost must be the flat rate 2.5, not summed: got %v", r.Cost)
	}
	if r.ActiveCampaigns != 1 {
		t.Errorf("Expected active_campaigns 1, got %d", r.ActiveCampaigns)
	}
	if r.StatHour != nil {
		t.Error("Daily row must not carry a stat_hour")
	}
}

func TestRollupRowsKeepsKeysApart(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	k1 := models.ReportKey{DeviceID: "dev-1", CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1", SlotIndex: 0}
	k2 := k1
	k2.SlotIndex = 1

	rows := RollupRows(day, []models.ReportRow{
		hourlyRow(9, k1, 5, 5, 100, 50.0),
		hourlyRow(9, k2, 2, 1, 40, 50.0),
		hourlyRow(10, k1, 1, 0, 0, 50.0),
	})
	if len(rows) != 2 {
		t.Fatalf("Expected 2 daily rows, got %d", len(rows))
	}
	// sortRows orders slot 0 first.
	if rows[0].Impressions != 6 || rows[1].Impressions != 2 {
		t.Errorf("Wrong grouping: %d and %d impressions", rows[0].Impressions, rows[1].Impressions)
	}
}

func TestRollupRowsDimensionDivergenceTolerated(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	key := models.ReportKey{DeviceID: "dev-1", CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1", SlotIndex: 0}

	oldName := "Launch"
	newName := "Launch v2"
	a := hourlyRow(9, key, 1, 1, 30, 70.0)
	a.CampaignName = &oldName
	b := hourlyRow(10, key, 1, 1, 30, 70.0)
	b.CampaignName = &newName
	c := hourlyRow(11, key, 1, 1, 30, 70.0)

	rows := RollupRows(day, []models.ReportRow{a, b, c})
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	// Deterministic pick: the lexicographically larger value wins,
	// regardless of hour order.
	if rows[0].CampaignName == nil || *rows[0].CampaignName != "Launch v2" {
		t.Errorf("Expected deterministic pick 'Launch v2', got %v", rows[0].CampaignName)
	}
}

func TestDailyRunEndToEnd(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	key := models.ReportKey{DeviceID: "dev-1", CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1", SlotIndex: 0}
	cost := int64(2_500_000)

	nine := hourlyRow(9, key, 1, 1, 31, 70.0)
	nine.CostMicro = &cost
	if err := db.ReplaceHourlyRows(ctx, day.Add(9*time.Hour), []models.ReportRow{nine}, true); err != nil {
		t.Fatalf("ReplaceHourlyRows failed: %v", err)
	}
	// Advance the hourly watermark through the day's final hour.
	if err := db.ReplaceHourlyRows(ctx, day.Add(23*time.Hour), nil, true); err != nil {
		t.Fatalf("ReplaceHourlyRows failed: %v", err)
	}

	rollup := NewDailyRollup(db, testPipelineConfig())
	result, err := rollup.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Period.Equal(day) || result.RowsWritten != 1 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	rows, err := db.DailyRowsForDate(ctx, day)
	if err != nil {
		t.Fatalf("DailyRowsForDate failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 daily row, got %d", len(rows))
	}
	r := rows[0]
	if r.Impressions != 1 || r.Completes != 1 || r.PlaySeconds != 31 {
		t.Errorf("Expected 1/1/31, got %d/%d/%d", r.Impressions, r.Completes, r.PlaySeconds)
	}
	if r.Cost != 2.5 {
		t.Errorf("Expected cost 2.5, got %v", r.Cost)
	}

	w, err := db.Watermark(ctx, models.StageDaily)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if w == nil || !w.LastPeriod.Equal(day) {
		t.Fatalf("Expected daily watermark %v, got %+v", day, w)
	}
}

func TestDailyRefusesHourlyBehind(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	key := models.ReportKey{DeviceID: "dev-1", CampaignID: "cmp-1", CreativeID: "cr-1", PlaylistID: "pl-1", SlotIndex: 0}

	// Hourly rows exist but the hourly watermark stops at 12:00, so the
	// day is not fully aggregated yet.
	if err := db.ReplaceHourlyRows(ctx, day.Add(12*time.Hour), []models.ReportRow{hourlyRow(12, key, 1, 1, 30, 70.0)}, true); err != nil {
		t.Fatalf("ReplaceHourlyRows failed: %v", err)
	}

	rollup := NewDailyRollup(db, testPipelineConfig())

	// The scheduler path reports nothing to do.
	if _, err := rollup.Run(ctx); !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("Expected ErrNothingToProcess, got %v", err)
	}

	// The explicit rewrite path surfaces the violation.
	if _, err := rollup.Rewrite(ctx, day); !errors.Is(err, ErrHourlyBehind) {
		t.Fatalf("Expected ErrHourlyBehind, got %v", err)
	}
}

func TestDailyRefusesOpenDay(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	today := truncateDay(time.Now().UTC())
	rollup := NewDailyRollup(db, testPipelineConfig())

	if _, err := rollup.Rewrite(ctx, today); !errors.Is(err, ErrOpenPeriod) {
		t.Fatalf("Expected ErrOpenPeriod for today, got %v", err)
	}
	if _, err := rollup.Rewrite(ctx, today.AddDate(0, 0, 1)); !errors.Is(err, ErrOpenPeriod) {
		t.Fatalf("Expected ErrOpenPeriod for a future day, got %v", err)
	}
}

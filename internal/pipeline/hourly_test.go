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

func TestHourlyRunEndToEnd(t *testing.T) {
	db := setupStore(t)
	seedCampaignFixture(t, db)
	ctx := context.Background()

	hour := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// A 30s creative started at 09:00:00 and completed at 09:00:31,
	// inside the 30+10s attribution window.
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, hour),
		rawEvent(models.EventComplete, hour.Add(31*time.Second)),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	// 7 of 10 pulses active that day: 70% uptime.
	var pulses []models.TelemetryPulse
	for i := 0; i < 10; i++ {
		status := models.PulseActive
		if i >= 7 {
			status = models.PulseInactive
		}
		pulses = append(pulses, models.TelemetryPulse{
			DeviceID: "dev-1", Timestamp: day.Add(time.Duration(i) * time.Hour), Status: status,
		})
	}
	if err := db.InsertTelemetryPulses(ctx, pulses); err != nil {
		t.Fatalf("InsertTelemetryPulses failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())

	result, err := agg.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Period.Equal(hour) {
		t.Errorf("Expected first run to process %v, got %v", hour, result.Period)
	}
	if result.RowsWritten != 1 {
		t.Fatalf("Expected 1 row, got %d", result.RowsWritten)
	}

	rows, err := db.HourlyRowsForDate(ctx, day)
	if err != nil {
		t.Fatalf("HourlyRowsForDate failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 hourly row, got %d", len(rows))
	}
	r := rows[0]
	if r.Impressions != 1 || r.Completes != 1 || r.PlaySeconds != 31 {
		t.Errorf("Expected impressions=1 completes=1 play_seconds=31, got %d/%d/%d",
			r.Impressions, r.Completes, r.PlaySeconds)
	}
	if r.UptimePct != 70.0 {
		t.Errorf("Expected uptime 70.0, got %v", r.UptimePct)
	}
	if r.ActiveCampaigns != 1 {
		t.Errorf("Expected active_campaigns 1 for RUNNING campaign, got %d", r.ActiveCampaigns)
	}
	if r.Cost != 2.5 {
		t.Errorf("Expected cost 2.5, got %v", r.Cost)
	}
	if r.DeviceName == nil || *r.DeviceName != "Lobby Screen" {
		t.Errorf("Expected denormalized device name, got %v", r.DeviceName)
	}
	if r.CreativeFileURL == nil || *r.CreativeFileURL != "https://cdn.example.com/hero.mp4" {
		t.Errorf("Expected resolved creative file URL, got %v", r.CreativeFileURL)
	}

	w, err := db.Watermark(ctx, models.StageHourly)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if w == nil || !w.LastPeriod.Equal(hour) {
		t.Fatalf("Expected watermark at %v, got %+v", hour, w)
	}
}

func TestHourlyRunsAdvanceInOrder(t *testing.T) {
	db := setupStore(t)
	seedCampaignFixture(t, db)
	ctx := context.Background()

	nine := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eleven := nine.Add(2 * time.Hour)

	// Events in 09:00 and 11:00; 10:00 is empty but must still be
	// processed so the watermark never skips an hour.
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, nine.Add(5*time.Minute)),
		rawEvent(models.EventStart, eleven.Add(5*time.Minute)),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())

	wantPeriods := []time.Time{nine, nine.Add(time.Hour), eleven}
	wantRows := []int{1, 0, 1}
	for i, want := range wantPeriods {
		result, err := agg.Run(ctx)
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if !result.Period.Equal(want) {
			t.Fatalf("Run %d processed %v, want %v", i, result.Period, want)
		}
		if result.RowsWritten != wantRows[i] {
			t.Errorf("Run %d wrote %d rows, want %d", i, result.RowsWritten, wantRows[i])
		}
	}
}

func TestHourlyNothingToProcess(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	agg := NewHourlyAggregator(db, db, testPipelineConfig())

	// Empty log.
	if _, err := agg.Run(ctx); !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("Expected ErrNothingToProcess on empty log, got %v", err)
	}

	// An event in the current, still-open hour must not be processed.
	now := time.Now().UTC()
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, now.Truncate(time.Hour).Add(time.Minute)),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}
	if _, err := agg.Run(ctx); !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("Expected ErrNothingToProcess for open hour, got %v", err)
	}
}

func TestHourlyBoundaryEventCountedOnce(t *testing.T) {
	db := setupStore(t)
	seedCampaignFixture(t, db)
	ctx := context.Background()

	nine := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ten := nine.Add(time.Hour)

	// One event exactly at 10:00:00 plus one inside 09:00.
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, nine.Add(30*time.Minute)),
		rawEvent(models.EventStart, ten),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())

	first, err := agg.Run(ctx)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := agg.Run(ctx)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if first.RowsWritten != 1 || second.RowsWritten != 1 {
		t.Fatalf("Expected 1 row per hour, got %d and %d", first.RowsWritten, second.RowsWritten)
	}

	rows, err := db.HourlyRowsForDate(ctx, nine)
	if err != nil {
		t.Fatalf("HourlyRowsForDate failed: %v", err)
	}
	var total int64
	for _, r := range rows {
		total += r.Impressions
	}
	if total != 2 {
		t.Fatalf("Boundary event double counted: total impressions %d, want 2", total)
	}
}

func TestHourlyLateCompleteAcrossBoundary(t *testing.T) {
	db := setupStore(t)
	seedCampaignFixture(t, db)
	ctx := context.Background()

	nine := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Start at 09:59:50, complete lands in the next hour at 10:00:15
	// (25s into a 30s creative's window).
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, nine.Add(59*time.Minute+50*time.Second)),
		rawEvent(models.EventComplete, nine.Add(60*time.Minute+15*time.Second)),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())
	rows, err := agg.BuildRows(ctx, nine)
	if err != nil {
		t.Fatalf("BuildRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Completes != 1 || rows[0].PlaySeconds != 25 {
		t.Errorf("Late complete not attributed: completes=%d play_seconds=%d", rows[0].Completes, rows[0].PlaySeconds)
	}
}

func TestHourlyBoundaryCompleteClaimedOnce(t *testing.T) {
	db := setupStore(t)
	seedCampaignFixture(t, db)
	ctx := context.Background()

	nine := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Back-to-back loop plays straddling the boundary: anchors at
	// 09:59:50 and 10:00:05 can both reach the single complete at
	// 10:00:15.
	err := db.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent(models.EventStart, nine.Add(59*time.Minute+50*time.Second)),
		rawEvent(models.EventStart, nine.Add(60*time.Minute+5*time.Second)),
		rawEvent(models.EventComplete, nine.Add(60*time.Minute+15*time.Second)),
	})
	if err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())

	nineRows, err := agg.BuildRows(ctx, nine)
	if err != nil {
		t.Fatalf("BuildRows 09:00 failed: %v", err)
	}
	tenRows, err := agg.BuildRows(ctx, nine.Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildRows 10:00 failed: %v", err)
	}
	if len(nineRows) != 1 || len(tenRows) != 1 {
		t.Fatalf("Expected 1 row per hour, got %d and %d", len(nineRows), len(tenRows))
	}

	var impressions, completes int64
	for _, r := range [2]models.ReportRow{nineRows[0], tenRows[0]} {
		impressions += r.Impressions
		completes += r.Completes
	}
	if impressions != 2 {
		t.Fatalf("Expected 2 impressions across both hours, got %d", impressions)
	}
	if completes != 1 {
		t.Fatalf("Boundary complete claimed %d times across adjacent hours, want 1", completes)
	}

	// The 09:59:50 anchor holds the claim in both runs; the 10:00:05
	// play reports no complete and is credited its configured length.
	if nineRows[0].Completes != 1 || nineRows[0].PlaySeconds != 25 {
		t.Errorf("09:00 row: completes=%d play_seconds=%d, want 1/25",
			nineRows[0].Completes, nineRows[0].PlaySeconds)
	}
	if tenRows[0].Completes != 0 || tenRows[0].PlaySeconds != 30 {
		t.Errorf("10:00 row: completes=%d play_seconds=%d, want 0/30",
			tenRows[0].Completes, tenRows[0].PlaySeconds)
	}
}

func TestHourlyMissingDimensionsDegrade(t *testing.T) {
	db := setupStore(t)
	// No dimension fixture at all: every lookup misses.
	ctx := context.Background()

	hour := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := db.InsertRawEvents(ctx, []models.RawEvent{rawEvent(models.EventStart, hour)}); err != nil {
		t.Fatalf("InsertRawEvents failed: %v", err)
	}

	agg := NewHourlyAggregator(db, db, testPipelineConfig())
	rows, err := agg.BuildRows(ctx, hour)
	if err != nil {
		t.Fatalf("BuildRows must not fail on missing dimensions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected the row to survive with absent labels, got %d rows", len(rows))
	}
	r := rows[0]
	if r.Impressions != 1 {
		t.Errorf("Expected impressions 1, got %d", r.Impressions)
	}
	// Unknown creative duration: unmatched playback credits no time.
	if r.PlaySeconds != 0 {
		t.Errorf("Expected play_seconds 0, got %d", r.PlaySeconds)
	}
	if r.DeviceName != nil || r.CampaignName != nil || r.CreativeName != nil {
		t.Errorf("Expected absent dimension labels, got %+v", r.DimensionSet)
	}
	if r.ActiveCampaigns != 0 {
		t.Errorf("Unknown campaign status must not count as active, got %d", r.ActiveCampaigns)
	}
}

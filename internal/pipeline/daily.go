// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/metrics"
	"github.com/doohworks/playmetry/internal/models"
)

// DailyRollup folds one fully closed calendar day of hourly rows into
// the daily report table. It reads nothing but dooh_report_hourly: raw
// events and dimensions were already joined by the hourly stage, so the
// roll-up is a pure regrouping.
type DailyRollup struct {
	store Store
	cfg   *config.PipelineConfig
}

// NewDailyRollup wires the daily stage.
func NewDailyRollup(store Store, cfg *config.PipelineConfig) *DailyRollup {
	return &DailyRollup{store: store, cfg: cfg}
}

// NextDay returns the day the next run would process. ErrNothingToProcess
// when there are no hourly rows yet, the next day is still open, or its
// hourly aggregation has not finished.
func (d *DailyRollup) NextDay(ctx context.Context) (time.Time, error) {
	return d.nextDay(ctx, time.Now().UTC())
}

func (d *DailyRollup) nextDay(ctx context.Context, now time.Time) (time.Time, error) {
	w, err := d.store.Watermark(ctx, models.StageDaily)
	if err != nil {
		return time.Time{}, err
	}

	var next time.Time
	if w != nil {
		next = truncateDay(w.LastPeriod).AddDate(0, 0, 1)
	} else {
		earliest, err := d.store.EarliestHourlyDate(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if earliest == nil {
			return time.Time{}, ErrNothingToProcess
		}
		next = *earliest
	}

	if err := d.checkClosed(ctx, next, now); err != nil {
		// The scheduler polls; a not-yet-closed day is routine there.
		if errors.Is(err, ErrOpenPeriod) || errors.Is(err, ErrHourlyBehind) {
			return time.Time{}, ErrNothingToProcess
		}
		return time.Time{}, err
	}
	return next, nil
}

// checkClosed rejects a day that is not safe to roll up: the day must
// be fully in the past and the hourly stage must have committed the
// day's final hour, otherwise the roll-up would bake in a partial day.
func (d *DailyRollup) checkClosed(ctx context.Context, day, now time.Time) error {
	day = truncateDay(day)
	if day.AddDate(0, 0, 1).After(now.UTC()) {
		return fmt.Errorf("%w: %s", ErrOpenPeriod, day.Format("2006-01-02"))
	}

	w, err := d.store.Watermark(ctx, models.StageHourly)
	if err != nil {
		return err
	}
	lastHourOfDay := day.Add(23 * time.Hour)
	if w == nil || w.LastPeriod.Before(lastHourOfDay) {
		return fmt.Errorf("%w: day %s needs hourly watermark at %s",
			ErrHourlyBehind, day.Format("2006-01-02"), lastHourOfDay.Format(time.RFC3339))
	}
	return nil
}

// Run processes the next pending day and advances the daily watermark.
// The caller must already hold the daily lease.
func (d *DailyRollup) Run(ctx context.Context) (*models.RunResult, error) {
	started := time.Now()

	day, err := d.nextDay(ctx, started.UTC())
	if err != nil {
		return nil, err
	}

	rows, err := d.buildRows(ctx, day)
	if err != nil {
		return nil, err
	}

	if err := d.store.ReplaceDailyRows(ctx, day, rows, true); err != nil {
		return nil, fmt.Errorf("daily commit for %s failed: %w", day.Format("2006-01-02"), err)
	}

	metrics.PipelineRowsWritten.WithLabelValues(string(models.StageDaily)).Add(float64(len(rows)))
	metrics.SetWatermark(string(models.StageDaily), day)

	logging.Info().
		Time("day", day).
		Int("rows", len(rows)).
		Dur("duration", time.Since(started)).
		Msg("Daily roll-up committed")

	return &models.RunResult{
		Stage:       models.StageDaily,
		Period:      day,
		RowsWritten: len(rows),
		DurationMs:  time.Since(started).Milliseconds(),
	}, nil
}

// Rewrite re-rolls one already-committed day in place without touching
// the watermark. The closed-day rules still apply: backfill may rewrite
// history, never an open day.
func (d *DailyRollup) Rewrite(ctx context.Context, day time.Time) (int, error) {
	day = truncateDay(day)
	if err := d.checkClosed(ctx, day, time.Now().UTC()); err != nil {
		return 0, err
	}

	rows, err := d.buildRows(ctx, day)
	if err != nil {
		return 0, err
	}
	if err := d.store.ReplaceDailyRows(ctx, day, rows, false); err != nil {
		return 0, fmt.Errorf("daily rewrite commit for %s failed: %w", day.Format("2006-01-02"), err)
	}
	return len(rows), nil
}

func (d *DailyRollup) buildRows(ctx context.Context, day time.Time) ([]models.ReportRow, error) {
	hourly, err := d.store.HourlyRowsForDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("reading hourly rows for %s failed: %w", day.Format("2006-01-02"), err)
	}
	return RollupRows(truncateDay(day), hourly), nil
}

// RollupRows regroups one day's hourly rows by report key.
//
// Counters (impressions, completes, play_seconds) are summed across
// hours. uptime_pct and every dimension column take the maximum across
// the day's rows: they are expected to be constant within a day, and a
// mid-day dimension change is tolerated by picking deterministically,
// not flagged. cost is recomputed from the picked cost_micro, and
// active_campaigns is the max across hours for the same reason.
func RollupRows(day time.Time, hourly []models.ReportRow) []models.ReportRow {
	groups := make(map[models.ReportKey]*models.ReportRow)
	order := make([]models.ReportKey, 0)

	for i := range hourly {
		h := &hourly[i]
		g := groups[h.ReportKey]
		if g == nil {
			g = &models.ReportRow{
				StatDate:  day,
				ReportKey: h.ReportKey,
			}
			groups[h.ReportKey] = g
			order = append(order, h.ReportKey)
		}

		g.Impressions += h.Impressions
		g.Completes += h.Completes
		g.PlaySeconds += h.PlaySeconds
		if h.UptimePct > g.UptimePct {
			g.UptimePct = h.UptimePct
		}
		if h.ActiveCampaigns > g.ActiveCampaigns {
			g.ActiveCampaigns = h.ActiveCampaigns
		}

		g.DeviceName = maxPtr(g.DeviceName, h.DeviceName)
		g.DeviceResolution = maxPtr(g.DeviceResolution, h.DeviceResolution)
		g.DeviceCity = maxPtr(g.DeviceCity, h.DeviceCity)
		g.CampaignName = maxPtr(g.CampaignName, h.CampaignName)
		g.CampaignStatus = maxPtr(g.CampaignStatus, h.CampaignStatus)
		g.CostMicro = maxPtr(g.CostMicro, h.CostMicro)
		g.CreativeName = maxPtr(g.CreativeName, h.CreativeName)
		g.CreativeFormat = maxPtr(g.CreativeFormat, h.CreativeFormat)
		g.CreativeDurationSec = maxPtr(g.CreativeDurationSec, h.CreativeDurationSec)
		g.CreativeFileURL = maxPtr(g.CreativeFileURL, h.CreativeFileURL)
	}

	rows := make([]models.ReportRow, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if g.CostMicro != nil {
			g.Cost = float64(*g.CostMicro) / models.CostScale
		}
		rows = append(rows, *g)
	}
	sortRows(rows)
	return rows
}

// maxPtr picks the larger of two optional values, treating nil as the
// smallest. This is the deterministic tie-break for dimension columns
// that diverge across a day's hourly rows.
func maxPtr[T interface{ ~string | ~int | ~int64 }](a, b *T) *T {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *b > *a {
		return b
	}
	return a
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/metrics"
	"github.com/doohworks/playmetry/internal/models"
	"github.com/doohworks/playmetry/internal/session"
	"github.com/doohworks/playmetry/internal/uptime"
)

// HourlyAggregator turns one closed hour of raw events into hourly
// report rows. Hours are processed strictly in order: the next hour is
// always watermark + 1h (or the hour of the oldest raw event on first
// run), never chosen by the caller, so every raw event is considered by
// exactly one advancing run.
type HourlyAggregator struct {
	store Store
	dims  DimensionStore
	cfg   *config.PipelineConfig
}

// NewHourlyAggregator wires the hourly stage.
func NewHourlyAggregator(store Store, dims DimensionStore, cfg *config.PipelineConfig) *HourlyAggregator {
	return &HourlyAggregator{store: store, dims: dims, cfg: cfg}
}

// NextHour returns the hour the next run would process, without side
// effects. ErrNothingToProcess when the log is empty or the next hour
// has not closed yet.
func (a *HourlyAggregator) NextHour(ctx context.Context) (time.Time, error) {
	return a.nextHour(ctx, time.Now().UTC())
}

func (a *HourlyAggregator) nextHour(ctx context.Context, now time.Time) (time.Time, error) {
	w, err := a.store.Watermark(ctx, models.StageHourly)
	if err != nil {
		return time.Time{}, err
	}

	var next time.Time
	if w != nil {
		next = truncateHour(w.LastPeriod).Add(time.Hour)
	} else {
		earliest, err := a.store.EarliestEventHour(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if earliest == nil {
			return time.Time{}, ErrNothingToProcess
		}
		next = truncateHour(*earliest)
	}

	// Only fully closed hours are aggregated.
	if !next.Add(time.Hour).After(now.UTC()) {
		return next, nil
	}
	return time.Time{}, ErrNothingToProcess
}

// Run processes the next pending hour and advances the watermark.
// The caller must already hold the hourly lease.
func (a *HourlyAggregator) Run(ctx context.Context) (*models.RunResult, error) {
	started := time.Now()

	hour, err := a.nextHour(ctx, started.UTC())
	if err != nil {
		return nil, err
	}

	rows, err := a.BuildRows(ctx, hour)
	if err != nil {
		return nil, fmt.Errorf("hourly aggregation for %s failed: %w", hour.Format(time.RFC3339), err)
	}

	if err := a.store.ReplaceHourlyRows(ctx, hour, rows, true); err != nil {
		return nil, fmt.Errorf("hourly commit for %s failed: %w", hour.Format(time.RFC3339), err)
	}

	metrics.PipelineRowsWritten.WithLabelValues(string(models.StageHourly)).Add(float64(len(rows)))
	metrics.SetWatermark(string(models.StageHourly), hour)

	logging.Info().
		Time("hour", hour).
		Int("rows", len(rows)).
		Dur("duration", time.Since(started)).
		Msg("Hourly aggregation committed")

	return &models.RunResult{
		Stage:       models.StageHourly,
		Period:      hour,
		RowsWritten: len(rows),
		DurationMs:  time.Since(started).Milliseconds(),
	}, nil
}

// Rewrite re-aggregates one already-committed hour in place without
// touching the watermark. Used by backfill after late data arrival or a
// dimension correction.
func (a *HourlyAggregator) Rewrite(ctx context.Context, hour time.Time) (int, error) {
	hour = truncateHour(hour)

	rows, err := a.BuildRows(ctx, hour)
	if err != nil {
		return 0, fmt.Errorf("hourly rewrite for %s failed: %w", hour.Format(time.RFC3339), err)
	}
	if err := a.store.ReplaceHourlyRows(ctx, hour, rows, false); err != nil {
		return 0, fmt.Errorf("hourly rewrite commit for %s failed: %w", hour.Format(time.RFC3339), err)
	}
	return len(rows), nil
}

// hourlyGroup accumulates session metrics for one report key.
type hourlyGroup struct {
	impressions int64
	completes   int64
	playSeconds int64
}

// BuildRows computes the report rows for one hour without writing them.
func (a *HourlyAggregator) BuildRows(ctx context.Context, hour time.Time) ([]models.ReportRow, error) {
	hour = truncateHour(hour)
	hourEnd := hour.Add(time.Hour)

	// Anchors near the hour boundary contend for the same completes
	// from both neighboring hours. Fetch one attribution window of
	// slack on each side and match everything, so a boundary complete
	// is settled against every anchor that can reach it, then keep
	// only the sessions anchored inside the hour. Claims resolve in
	// anchor timestamp order, so adjacent runs settle the same
	// complete identically and it is counted exactly once.
	slack := a.cfg.MaxCreativeDuration + a.cfg.MatchTolerance

	anchors, err := a.store.AnchorEvents(ctx, hour.Add(-slack), hourEnd.Add(slack))
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, nil
	}

	completes, err := a.store.CompletionEvents(ctx, hour.Add(-slack), hourEnd.Add(slack))
	if err != nil {
		return nil, err
	}

	resolver := NewResolver(a.dims, a.cfg)
	matcher := session.NewMatcher(session.Config{
		FallbackDuration: a.cfg.FallbackDuration,
		Tolerance:        a.cfg.MatchTolerance,
	}, func(creativeID string) time.Duration {
		return resolver.CreativeDuration(ctx, creativeID)
	})

	sessions := matcher.Match(anchors, completes)
	metrics.AnchorDuplicatesDropped.Add(float64(len(anchors) - len(sessions)))

	groups := make(map[models.ReportKey]*hourlyGroup)
	for _, s := range sessions {
		// Sessions anchored outside the hour were matched only to
		// settle claims on boundary completes; they belong to a
		// neighboring run.
		if s.StartedAt.Before(hour) || !s.StartedAt.Before(hourEnd) {
			continue
		}

		key := models.ReportKey{
			DeviceID:   s.DeviceID,
			CampaignID: s.CampaignID,
			CreativeID: s.CreativeID,
			PlaylistID: s.PlaylistID,
			SlotIndex:  s.SlotIndex,
		}
		g := groups[key]
		if g == nil {
			g = &hourlyGroup{}
			groups[key] = g
		}
		g.impressions++
		g.playSeconds += s.PlaySeconds
		if s.Completed() {
			g.completes++
			metrics.SessionsMatched.WithLabelValues("completed").Inc()
		} else {
			metrics.SessionsMatched.WithLabelValues("incomplete").Inc()
		}
	}

	if len(groups) == 0 {
		return nil, nil
	}

	// Uptime is daily-granularity, broadcast onto each hourly row of
	// the device's day.
	pulseCounts, err := a.store.DailyPulseCounts(ctx, hour)
	if err != nil {
		return nil, err
	}

	statDate := truncateDay(hour)
	statHour := hour.Hour()

	rows := make([]models.ReportRow, 0, len(groups))
	for key, g := range groups {
		dims, err := resolver.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}

		row := models.ReportRow{
			StatDate:     statDate,
			StatHour:     &statHour,
			ReportKey:    key,
			Impressions:  g.impressions,
			Completes:    g.completes,
			PlaySeconds:  g.playSeconds,
			UptimePct:    uptime.ForDevice(pulseCounts, key.DeviceID),
			DimensionSet: dims,
		}
		if dims.CostMicro != nil {
			row.Cost = float64(*dims.CostMicro) / models.CostScale
		}
		if dims.CampaignStatus != nil && *dims.CampaignStatus == models.CampaignStatusRunning {
			row.ActiveCampaigns = 1
		}
		rows = append(rows, row)
	}

	sortRows(rows)
	return rows, nil
}

// sortRows orders report rows by their full key for deterministic
// output and stable test fixtures.
func sortRows(rows []models.ReportRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].ReportKey, rows[j].ReportKey
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		if a.CreativeID != b.CreativeID {
			return a.CreativeID < b.CreativeID
		}
		if a.PlaylistID != b.PlaylistID {
			return a.PlaylistID < b.PlaylistID
		}
		return a.SlotIndex < b.SlotIndex
	})
}

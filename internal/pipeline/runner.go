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

	"github.com/google/uuid"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/metrics"
	"github.com/doohworks/playmetry/internal/models"
)

// Runner is the single entry point for executing pipeline stages. It
// owns lease handling, so the scheduler tick and the manual trigger
// endpoint go through the same exclusion and observability path.
type Runner struct {
	store  Store
	hourly *HourlyAggregator
	daily  *DailyRollup
	cfg    *config.PipelineConfig
}

// NewRunner wires both stages against one store.
func NewRunner(store Store, dims DimensionStore, cfg *config.PipelineConfig) *Runner {
	return &Runner{
		store:  store,
		hourly: NewHourlyAggregator(store, dims, cfg),
		daily:  NewDailyRollup(store, cfg),
		cfg:    cfg,
	}
}

// RunStage executes one run of the given stage under its lease.
// ErrNothingToProcess when the stage is caught up;
// database.ErrLeaseHeld when another run is in flight.
func (r *Runner) RunStage(ctx context.Context, stage models.Stage) (*models.RunResult, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	started := time.Now()
	result, err := r.withLease(ctx, stage, func(ctx context.Context) (*models.RunResult, error) {
		switch stage {
		case models.StageHourly:
			return r.hourly.Run(ctx)
		default:
			return r.daily.Run(ctx)
		}
	})

	switch {
	case errors.Is(err, ErrNothingToProcess):
		metrics.ObserveRun(string(stage), "skipped", time.Since(started))
	case err != nil:
		metrics.ObserveRun(string(stage), "error", time.Since(started))
	default:
		metrics.ObserveRun(string(stage), "success", time.Since(started))
	}
	return result, err
}

// CatchUp runs a stage repeatedly until it is caught up or the
// configured per-tick bound is hit. Returns the number of committed
// runs; a lease conflict stops quietly since another run is already
// making progress.
func (r *Runner) CatchUp(ctx context.Context, stage models.Stage) (int, error) {
	runs := 0
	for runs < r.cfg.CatchUpMaxRuns {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		_, err := r.RunStage(ctx, stage)
		if errors.Is(err, ErrNothingToProcess) {
			return runs, nil
		}
		if errors.Is(err, database.ErrLeaseHeld) {
			logging.Debug().Str("stage", string(stage)).Msg("Stage lease held elsewhere, skipping tick")
			return runs, nil
		}
		if err != nil {
			return runs, err
		}
		runs++
	}
	return runs, nil
}

// Backfill rewrites every committed period of the stage inside
// [from, to] without moving the watermark. Bounds must be aligned to
// the stage's period length, and only history at or before the
// watermark can be rewritten; everything ahead of it belongs to the
// normal advancing runs.
func (r *Runner) Backfill(ctx context.Context, stage models.Stage, from, to time.Time) (*models.RunResult, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	step := 24 * time.Hour
	truncate := truncateDay
	if stage == models.StageHourly {
		step = time.Hour
		truncate = truncateHour
	}

	from, to = from.UTC(), to.UTC()
	if !from.Equal(truncate(from)) || !to.Equal(truncate(to)) || to.Before(from) {
		return nil, fmt.Errorf("%w: %s..%s for stage %s",
			ErrInvalidPeriod, from.Format(time.RFC3339), to.Format(time.RFC3339), stage)
	}

	w, err := r.store.Watermark(ctx, stage)
	if err != nil {
		return nil, err
	}
	if w == nil || w.LastPeriod.Before(to) {
		return nil, fmt.Errorf("%w: backfill may only rewrite periods at or before the %s watermark",
			ErrInvalidPeriod, stage)
	}

	started := time.Now()
	result, err := r.withLease(ctx, stage, func(ctx context.Context) (*models.RunResult, error) {
		rows := 0
		periods := 0
		for period := from; !period.After(to); period = period.Add(step) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			var n int
			var err error
			if stage == models.StageHourly {
				n, err = r.hourly.Rewrite(ctx, period)
			} else {
				n, err = r.daily.Rewrite(ctx, period)
			}
			if err != nil {
				return nil, err
			}
			rows += n
			periods++
			metrics.PipelineBackfillRuns.WithLabelValues(string(stage)).Inc()
		}

		logging.Info().
			Str("stage", string(stage)).
			Time("from", from).
			Time("to", to).
			Int("periods", periods).
			Int("rows", rows).
			Msg("Backfill completed")

		return &models.RunResult{
			Stage:       stage,
			Period:      from,
			RowsWritten: rows,
			Backfill:    true,
		}, nil
	})
	if result != nil {
		result.DurationMs = time.Since(started).Milliseconds()
	}
	return result, err
}

// Status reports watermark, lease and pending period for both stages.
func (r *Runner) Status(ctx context.Context) ([]models.StageStatus, error) {
	statuses := make([]models.StageStatus, 0, 2)
	for _, stage := range []models.Stage{models.StageHourly, models.StageDaily} {
		s := models.StageStatus{Stage: stage}

		w, err := r.store.Watermark(ctx, stage)
		if err != nil {
			return nil, err
		}
		if w != nil {
			s.LastPeriod = &w.LastPeriod
		}

		lease, err := r.store.Lease(ctx, stage)
		if err != nil {
			return nil, err
		}
		if lease != nil && lease.ExpiresAt.After(time.Now().UTC()) {
			s.LeaseHolder = &lease.Holder
			s.LeaseExpires = &lease.ExpiresAt
		}

		var pending time.Time
		if stage == models.StageHourly {
			pending, err = r.hourly.NextHour(ctx)
		} else {
			pending, err = r.daily.NextDay(ctx)
		}
		switch {
		case errors.Is(err, ErrNothingToProcess):
			// Caught up.
		case err != nil:
			return nil, err
		default:
			s.PendingPeriod = &pending
		}

		statuses = append(statuses, s)
	}
	return statuses, nil
}

// withLease runs fn holding the stage's exclusive lease.
func (r *Runner) withLease(ctx context.Context, stage models.Stage, fn func(context.Context) (*models.RunResult, error)) (*models.RunResult, error) {
	holder := uuid.NewString()
	if err := r.store.AcquireLease(ctx, stage, r.cfg.LeaseTTL, holder); err != nil {
		if errors.Is(err, database.ErrLeaseHeld) {
			metrics.LeaseContention.WithLabelValues(string(stage)).Inc()
		}
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseLease(context.WithoutCancel(ctx), stage, holder); err != nil {
			logging.Warn().Err(err).Str("stage", string(stage)).Msg("Failed to release stage lease")
		}
	}()

	return fn(ctx)
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/models"
)

// Scheduler drives both pipeline stages on a fixed check interval.
// The tick only decides when to look for work; what to process is
// derived from the watermarks, so a missed or doubled tick never
// causes skipped or duplicated periods.
type Scheduler struct {
	runner *Runner
	cfg    *config.PipelineConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler around an existing runner.
func NewScheduler(runner *Runner, cfg *config.PipelineConfig) *Scheduler {
	return &Scheduler{runner: runner, cfg: cfg}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	logging.Info().
		Dur("check_interval", s.cfg.CheckInterval).
		Bool("hourly", s.cfg.HourlyEnabled).
		Bool("daily", s.cfg.DailyEnabled).
		Int("catch_up_max_runs", s.cfg.CatchUpMaxRuns).
		Msg("Starting pipeline scheduler")

	go s.run(ctx)
	return nil
}

// Stop stops the loop and waits for the current tick to finish. Only
// the caller that flips running off closes the stop channel, so
// concurrent Stops cannot close it twice.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	logging.Info().Msg("Pipeline scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	// First tick immediately so a restart resumes catch-up without
	// waiting out the interval.
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick lets each enabled stage catch up. Hourly goes first: a freshly
// committed hour may be the one the daily roll-up is waiting for.
func (s *Scheduler) tick(ctx context.Context) {
	if s.cfg.HourlyEnabled {
		if runs, err := s.runner.CatchUp(ctx, models.StageHourly); err != nil {
			logging.Error().Err(err).Msg("Hourly catch-up failed")
		} else if runs > 0 {
			logging.Debug().Int("runs", runs).Msg("Hourly catch-up tick done")
		}
	}

	if s.cfg.DailyEnabled {
		if runs, err := s.runner.CatchUp(ctx, models.StageDaily); err != nil {
			logging.Error().Err(err).Msg("Daily catch-up failed")
		} else if runs > 0 {
			logging.Debug().Int("runs", runs).Msg("Daily catch-up tick done")
		}
	}
}

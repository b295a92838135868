// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package services

import (
	"context"
	"fmt"

	"github.com/doohworks/playmetry/internal/pipeline"
)

// SchedulerService runs the pipeline scheduler under supervision. The
// scheduler owns its ticker loop; this wrapper only ties its lifetime
// to the supervisor's context.
type SchedulerService struct {
	scheduler *pipeline.Scheduler
}

// NewSchedulerService wraps a pipeline scheduler for supervision.
func NewSchedulerService(scheduler *pipeline.Scheduler) *SchedulerService {
	return &SchedulerService{scheduler: scheduler}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in suture logs.
func (s *SchedulerService) String() string {
	return "pipeline-scheduler"
}

// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package metrics exposes Prometheus instrumentation for the pipeline:
// run outcomes and durations per stage, rows written, session matching
// volume, dimension lookup health and lease contention. Everything is
// registered on the default registry and served from /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline run metrics. stage is "hourly" or "daily"; outcome is
	// "success", "skipped" or "error".
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_pipeline_runs_total",
			Help: "Total number of pipeline runs by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playmetry_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	PipelineRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_pipeline_rows_written_total",
			Help: "Total number of report rows written by stage",
		},
		[]string{"stage"},
	)

	PipelineBackfillRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_pipeline_backfill_runs_total",
			Help: "Total number of backfill period rewrites by stage",
		},
		[]string{"stage"},
	)

	PipelineWatermarkSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playmetry_pipeline_watermark_timestamp_seconds",
			Help: "Unix timestamp of the last committed period per stage",
		},
		[]string{"stage"},
	)

	// Session matching metrics.
	SessionsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_sessions_matched_total",
			Help: "Total number of reconstructed sessions by completion state",
		},
		[]string{"state"}, // "completed", "incomplete"
	)

	AnchorDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playmetry_anchor_duplicates_dropped_total",
			Help: "Total number of duplicate anchor events discarded during matching",
		},
	)

	// Dimension lookup metrics. entity is "device", "campaign",
	// "creative" or "creative_file".
	DimensionLookupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_dimension_lookup_errors_total",
			Help: "Total number of failed dimension lookups by entity and kind",
		},
		[]string{"entity", "kind"}, // kind: "missing", "transient"
	)

	DimensionBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playmetry_dimension_breaker_open",
			Help: "1 when the dimension lookup circuit breaker is open",
		},
	)

	// Lease metrics.
	LeaseContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playmetry_lease_contention_total",
			Help: "Total number of runs rejected because the stage lease was held",
		},
		[]string{"stage"},
	)
)

// ObserveRun records a completed run attempt for a stage.
func ObserveRun(stage string, outcome string, duration time.Duration) {
	PipelineRuns.WithLabelValues(stage, outcome).Inc()
	PipelineRunDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetWatermark publishes a stage's committed period as a gauge so alerts
// can fire on pipeline lag.
func SetWatermark(stage string, period time.Time) {
	PipelineWatermarkSeconds.WithLabelValues(stage).Set(float64(period.Unix()))
}

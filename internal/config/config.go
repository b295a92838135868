// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package config loads Playmetry configuration with Koanf v2 from layered
// sources (highest priority wins): environment variables, an optional YAML
// config file, and built-in defaults.
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings. The same database file carries the
// external tables (raw events, telemetry, dimensions) and the report tables
// the pipeline owns.
type DatabaseConfig struct {
	// Path is the DuckDB database file, or :memory: for tests.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB's memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`

	// SeedDemoData populates demo devices, campaigns, creatives, events
	// and pulses on startup. For demos and CI only.
	SeedDemoData bool `koanf:"seed_demo_data"`
}

// PipelineConfig holds aggregation pipeline settings.
type PipelineConfig struct {
	// HourlyEnabled controls the hourly scheduler service.
	HourlyEnabled bool `koanf:"hourly_enabled"`

	// DailyEnabled controls the daily roll-up scheduler service.
	DailyEnabled bool `koanf:"daily_enabled"`

	// CheckInterval is how often each scheduler looks for a pending
	// period. Runs are driven by watermarks, not by this tick, so a
	// short interval only affects catch-up latency.
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`

	// CatchUpMaxRuns bounds how many consecutive periods one scheduler
	// tick may process when the pipeline is behind.
	CatchUpMaxRuns int `koanf:"catch_up_max_runs" validate:"gt=0"`

	// LeaseTTL is the exclusive stage lease duration. A run renews no
	// lease; it must finish (or die) within this window.
	LeaseTTL time.Duration `koanf:"lease_ttl" validate:"gt=0"`

	// FallbackDuration is assumed for creatives with unknown configured
	// duration when sizing the complete-matching window.
	FallbackDuration time.Duration `koanf:"fallback_duration" validate:"gt=0"`

	// MatchTolerance is the grace period appended to the creative
	// duration when attributing complete events.
	MatchTolerance time.Duration `koanf:"match_tolerance" validate:"gte=0"`

	// MaxCreativeDuration bounds how far past the window end complete
	// events are fetched for attribution.
	MaxCreativeDuration time.Duration `koanf:"max_creative_duration" validate:"gt=0"`

	// RetryInitialInterval seeds the exponential backoff used for
	// transient store errors.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval" validate:"gt=0"`

	// RetryMaxElapsedTime caps the total time spent retrying one
	// transient operation before the run fails.
	RetryMaxElapsedTime time.Duration `koanf:"retry_max_elapsed_time" validate:"gt=0"`

	// BreakerFailureThreshold is the consecutive-failure count that
	// opens the dimension lookup circuit breaker.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold" validate:"gt=0"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Host    string        `koanf:"host" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// SecurityConfig guards the operational trigger endpoints.
type SecurityConfig struct {
	// OpsToken is the shared bearer token required by the run and
	// backfill triggers. Empty disables authentication (development
	// only; a warning is logged).
	OpsToken string `koanf:"ops_token"`

	// RateLimitReqs / RateLimitWindow bound requests per client IP.
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// CORSOrigins lists allowed origins for the status endpoints.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

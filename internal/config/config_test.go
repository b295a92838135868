// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Path != "/data/playmetry.duckdb" {
		t.Errorf("unexpected default database path: %s", cfg.Database.Path)
	}
	if cfg.Pipeline.FallbackDuration != 60*time.Second {
		t.Errorf("unexpected fallback duration: %s", cfg.Pipeline.FallbackDuration)
	}
	if cfg.Pipeline.MatchTolerance != 10*time.Second {
		t.Errorf("unexpected match tolerance: %s", cfg.Pipeline.MatchTolerance)
	}
	if !cfg.Pipeline.HourlyEnabled || !cfg.Pipeline.DailyEnabled {
		t.Error("both pipeline stages should be enabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", ":memory:")
	t.Setenv("PIPELINE_LEASE_TTL", "5m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SECURITY_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Path != ":memory:" {
		t.Errorf("DATABASE_PATH override not applied: %s", cfg.Database.Path)
	}
	if cfg.Pipeline.LeaseTTL != 5*time.Minute {
		t.Errorf("PIPELINE_LEASE_TTL override not applied: %s", cfg.Pipeline.LeaseTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("LOG_LEVEL alias not applied: %s", cfg.Logging.Level)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORS origins not split from env: %v", cfg.Security.CORSOrigins)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("database:\n  path: /tmp/test.duckdb\nserver:\n  port: 9000\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("config file database path not applied: %s", cfg.Database.Path)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("config file server port not applied: %d", cfg.Server.Port)
	}
	// Values absent from the file keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default host lost: %s", cfg.Server.Host)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env should override file: got %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero lease ttl", func(c *Config) { c.Pipeline.LeaseTTL = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"tolerance exceeds max duration", func(c *Config) {
			c.Pipeline.MatchTolerance = time.Hour
			c.Pipeline.MaxCreativeDuration = time.Minute
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformIgnoresUnknown(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("unrelated env var should be ignored, got %q", got)
	}
	if got := envTransformFunc("DATABASE_MAX_MEMORY"); got != "database.max_memory" {
		t.Errorf("unexpected transform: %q", got)
	}
}

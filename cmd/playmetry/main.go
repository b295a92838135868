// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package main is the entry point for the Playmetry server.
//
// Playmetry turns raw proof-of-play events and device heartbeats from
// digital signage players into hourly and daily campaign reports. The
// pipeline is incremental: watermarks track the last committed period
// per stage, and each scheduler tick aggregates the next pending
// period, so restarts and backlogs resolve themselves without manual
// intervention.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables, optional YAML file, defaults (Koanf v2)
//  2. Database: DuckDB with the report schema and pipeline bookkeeping tables
//  3. Pipeline: session matcher, dimension resolver, hourly and daily aggregators
//  4. Scheduler: watermark-driven catch-up loop for both stages
//  5. HTTP server: health, watermark status, and operational trigger endpoints
//
// The scheduler and HTTP server run as suture services under a two-layer
// supervision tree, so a pipeline crash restarts the scheduler without
// taking the API down and vice versa.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, a config file (config.yaml),
// built-in defaults. Common settings:
//
//	DATABASE_PATH=/data/playmetry.db
//	PIPELINE_CHECK_INTERVAL=1m
//	SERVER_PORT=8490
//	OPS_TOKEN=$(openssl rand -hex 32)
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// scheduler finishes its current tick, the HTTP server drains in-flight
// requests, then the database closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doohworks/playmetry/internal/api"
	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/pipeline"
	"github.com/doohworks/playmetry/internal/supervisor"
	"github.com/doohworks/playmetry/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Dur("check_interval", cfg.Pipeline.CheckInterval).
		Bool("hourly", cfg.Pipeline.HourlyEnabled).
		Bool("daily", cfg.Pipeline.DailyEnabled).
		Msg("Starting Playmetry")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Seed demo data if enabled (for demos and CI).
	if cfg.Database.SeedDemoData {
		if err := db.SeedDemoData(context.Background()); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				logging.Error().Err(closeErr).Msg("Error closing database")
			}
			logging.Fatal().Err(err).Msg("Failed to seed demo data")
		}
	}

	if cfg.Security.OpsToken == "" {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: OPS_TOKEN is empty")
		logging.Warn().Msg("  ")
		logging.Warn().Msg("  The run and backfill trigger endpoints accept requests")
		logging.Warn().Msg("  without authentication. Use this only for local")
		logging.Warn().Msg("  development or isolated networks.")
		logging.Warn().Msg("============================================================")
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (RATE_LIMIT_DISABLED=true)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The database doubles as pipeline store and dimension source; one
	// DuckDB file carries both the ingested tables and the reports.
	runner := pipeline.NewRunner(db, db, &cfg.Pipeline)
	scheduler := pipeline.NewScheduler(runner, &cfg.Pipeline)

	handler := api.NewHandler(db, runner, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(services.NewSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the terminal error once the tree has fully stopped.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor shutdown error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Playmetry stopped")
}

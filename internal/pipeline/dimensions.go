// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/doohworks/playmetry/internal/config"
	"github.com/doohworks/playmetry/internal/database"
	"github.com/doohworks/playmetry/internal/logging"
	"github.com/doohworks/playmetry/internal/metrics"
	"github.com/doohworks/playmetry/internal/models"
)

// Resolver performs dimension lookups for the aggregators with three
// layers of protection:
//
//   - per-run memoization, so one run hits the store at most once per
//     key, including for keys known to be missing;
//   - exponential-backoff retries for transient store errors, bounded
//     by the configured elapsed time;
//   - a circuit breaker that fails lookups fast when the store is
//     persistently down, letting the run fail and retry later instead
//     of grinding through timeouts key by key.
//
// A missing dimension row is not an error: the lookup returns nil and
// the report row carries absent labels. Metric completeness outranks
// dimensional completeness.
//
// Resolver is not safe for concurrent use; each run owns one.
type Resolver struct {
	store DimensionStore
	cfg   *config.PipelineConfig
	cb    *gobreaker.CircuitBreaker[any]

	devices   map[string]*models.Device
	campaigns map[string]*models.Campaign
	creatives map[string]*models.CreativeAsset
	files     map[string]*models.CreativeFile
}

// NewResolver returns a resolver for one pipeline run.
func NewResolver(store DimensionStore, cfg *config.PipelineConfig) *Resolver {
	r := &Resolver{
		store:     store,
		cfg:       cfg,
		devices:   make(map[string]*models.Device),
		campaigns: make(map[string]*models.Campaign),
		creatives: make(map[string]*models.CreativeAsset),
		files:     make(map[string]*models.CreativeFile),
	}

	r.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "dimension-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Dimension lookup circuit breaker state change")
			if to == gobreaker.StateOpen {
				metrics.DimensionBreakerState.Set(1)
			} else {
				metrics.DimensionBreakerState.Set(0)
			}
		},
	})

	return r
}

// lookup runs one guarded dimension fetch. database.ErrNotFound is a
// terminal, memoizable outcome and never trips the breaker or retries.
// Any other error is retried with backoff; exhausting the retry budget
// returns the last error to the caller, which fails the run.
func lookup[T any](ctx context.Context, r *Resolver, entity, id string, fetch func(context.Context) (*T, error)) (*T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryInitialInterval
	bo.MaxElapsedTime = r.cfg.RetryMaxElapsedTime

	var result *T
	operation := func() error {
		v, err := r.cb.Execute(func() (any, error) {
			v, err := fetch(ctx)
			if errors.Is(err, database.ErrNotFound) {
				// Not a store failure; keep the breaker closed.
				return (*T)(nil), nil
			}
			return v, err
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			metrics.DimensionLookupErrors.WithLabelValues(entity, "transient").Inc()
			logging.Warn().Err(err).Str("entity", entity).Str("id", id).Msg("Transient dimension lookup failure, retrying")
			return err
		}
		result = v.(*T)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	if result == nil {
		metrics.DimensionLookupErrors.WithLabelValues(entity, "missing").Inc()
	}
	return result, nil
}

// Device returns the device row, nil when the device no longer exists.
func (r *Resolver) Device(ctx context.Context, id string) (*models.Device, error) {
	if d, ok := r.devices[id]; ok {
		return d, nil
	}
	d, err := lookup(ctx, r, "device", id, func(ctx context.Context) (*models.Device, error) {
		return r.store.GetDevice(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	r.devices[id] = d
	return d, nil
}

// Campaign returns the campaign row, nil when missing.
func (r *Resolver) Campaign(ctx context.Context, id string) (*models.Campaign, error) {
	if c, ok := r.campaigns[id]; ok {
		return c, nil
	}
	c, err := lookup(ctx, r, "campaign", id, func(ctx context.Context) (*models.Campaign, error) {
		return r.store.GetCampaign(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	r.campaigns[id] = c
	return c, nil
}

// Creative returns the creative asset row, nil when missing.
func (r *Resolver) Creative(ctx context.Context, id string) (*models.CreativeAsset, error) {
	if a, ok := r.creatives[id]; ok {
		return a, nil
	}
	a, err := lookup(ctx, r, "creative", id, func(ctx context.Context) (*models.CreativeAsset, error) {
		return r.store.GetCreativeAsset(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	r.creatives[id] = a
	return a, nil
}

// CreativeFile returns the rendition of a creative closest to the
// device resolution, nil when the creative has no files at all.
func (r *Resolver) CreativeFile(ctx context.Context, creativeID, resolution string) (*models.CreativeFile, error) {
	key := creativeID + "|" + resolution
	if f, ok := r.files[key]; ok {
		return f, nil
	}
	f, err := lookup(ctx, r, "creative_file", creativeID, func(ctx context.Context) (*models.CreativeFile, error) {
		return r.store.GetCreativeFile(ctx, creativeID, resolution)
	})
	if err != nil {
		return nil, err
	}
	r.files[key] = f
	return f, nil
}

// CreativeDuration returns the creative's configured playback length for
// the session matcher, clamped to the configured maximum. Zero means
// unknown; a lookup failure also degrades to unknown rather than
// aborting matching, since the aggregator's own dimension join will
// surface a persistent store failure anyway.
func (r *Resolver) CreativeDuration(ctx context.Context, creativeID string) time.Duration {
	a, err := r.Creative(ctx, creativeID)
	if err != nil || a == nil || a.DurationSec <= 0 {
		return 0
	}
	d := time.Duration(a.DurationSec) * time.Second
	if d > r.cfg.MaxCreativeDuration {
		return r.cfg.MaxCreativeDuration
	}
	return d
}

// Resolve builds the denormalized attribute set for one report key.
// Missing entities leave their fields nil; only transient store
// failures that outlive the retry budget return an error.
func (r *Resolver) Resolve(ctx context.Context, key models.ReportKey) (models.DimensionSet, error) {
	var set models.DimensionSet

	device, err := r.Device(ctx, key.DeviceID)
	if err != nil {
		return set, err
	}
	resolution := ""
	if device != nil {
		set.DeviceName = &device.Name
		if device.Resolution != "" {
			set.DeviceResolution = &device.Resolution
			resolution = device.Resolution
		}
		if device.City != "" {
			set.DeviceCity = &device.City
		}
	}

	campaign, err := r.Campaign(ctx, key.CampaignID)
	if err != nil {
		return set, err
	}
	if campaign != nil {
		set.CampaignName = &campaign.Name
		set.CampaignStatus = &campaign.Status
		set.CostMicro = &campaign.CostMicro
	}

	creative, err := r.Creative(ctx, key.CreativeID)
	if err != nil {
		return set, err
	}
	if creative != nil {
		set.CreativeName = &creative.Name
		if creative.Format != "" {
			set.CreativeFormat = &creative.Format
		}
		if creative.DurationSec > 0 {
			set.CreativeDurationSec = &creative.DurationSec
		}
	}

	file, err := r.CreativeFile(ctx, key.CreativeID, resolution)
	if err != nil {
		return set, err
	}
	if file != nil {
		set.CreativeFileURL = &file.URL
	}

	return set, nil
}

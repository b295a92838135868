// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration for structural and cross-field errors.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return err
	}

	// Cross-field checks validator tags cannot express.
	if c.Pipeline.MatchTolerance >= c.Pipeline.MaxCreativeDuration {
		return fmt.Errorf("pipeline.match_tolerance (%s) must be smaller than pipeline.max_creative_duration (%s)",
			c.Pipeline.MatchTolerance, c.Pipeline.MaxCreativeDuration)
	}
	if c.Pipeline.FallbackDuration > c.Pipeline.MaxCreativeDuration {
		return fmt.Errorf("pipeline.fallback_duration (%s) exceeds pipeline.max_creative_duration (%s)",
			c.Pipeline.FallbackDuration, c.Pipeline.MaxCreativeDuration)
	}
	if c.Pipeline.RetryInitialInterval > c.Pipeline.RetryMaxElapsedTime {
		return fmt.Errorf("pipeline.retry_initial_interval (%s) exceeds pipeline.retry_max_elapsed_time (%s)",
			c.Pipeline.RetryInitialInterval, c.Pipeline.RetryMaxElapsedTime)
	}

	return nil
}

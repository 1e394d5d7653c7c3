// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import "log/slog"

// DefaultTrialFactor is the number of trials per wanted instance.
const DefaultTrialFactor = 20

// Config holds configuration for pool transitions.
type Config struct {
	// TrialFactor bounds value instantiation to TrialFactor x Tests trials
	// per contract.
	// Default: 20
	TrialFactor int

	// StrictInstanceCount makes a contract yielding fewer than Tests
	// instances an error instead of a warning.
	// Default: false
	StrictInstanceCount bool

	// Logger receives transition logs. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TrialFactor: DefaultTrialFactor,
	}
}

// Validate clamps out-of-range values.
func (c *Config) Validate() error {
	if c.TrialFactor < 1 {
		c.TrialFactor = DefaultTrialFactor
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Option is a function that modifies Config.
type Option func(*Config)

// WithTrialFactor sets the trials per wanted instance.
func WithTrialFactor(n int) Option {
	return func(c *Config) {
		c.TrialFactor = n
	}
}

// WithStrictInstanceCount fails contracts that fall short of Tests.
func WithStrictInstanceCount(strict bool) Option {
	return func(c *Config) {
		c.StrictInstanceCount = strict
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// NewConfig creates a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	_ = cfg.Validate()
	return cfg
}

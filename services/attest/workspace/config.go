// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the build workspace.
type Config struct {
	// Root is the directory holding the cargo workspace.
	// Default: $TMPDIR/attest
	Root string

	// Cargo is the cargo binary.
	// Default: "cargo"
	Cargo string

	// Release builds with optimizations.
	// Default: true
	Release bool

	// KeepCrates leaves generated crates on disk after building, for
	// debugging.
	// Default: false
	KeepCrates bool

	// MaxStderrBytes bounds the captured stderr of builds and processes.
	// Default: 256KB
	MaxStderrBytes int

	// LockPollInterval is how often a held workspace lock is retried.
	// Default: 50ms
	LockPollInterval time.Duration

	// SerdeJSONVersion is the serde_json requirement added to every
	// generated crate.
	// Default: "1"
	SerdeJSONVersion string
}

// DefaultConfig returns a Config with sensible defaults.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Root:             filepath.Join(os.TempDir(), "attest"),
		Cargo:            "cargo",
		Release:          true,
		MaxStderrBytes:   256 * 1024,
		LockPollInterval: 50 * time.Millisecond,
		SerdeJSONVersion: "1",
	}
}

// Validate clamps out-of-range values.
//
// Outputs:
//
//	error - Non-nil if configuration is invalid
func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = DefaultConfig().Root
	}
	if c.Cargo == "" {
		c.Cargo = "cargo"
	}
	if c.MaxStderrBytes < 1024 {
		c.MaxStderrBytes = 1024
	}
	if c.LockPollInterval < time.Millisecond {
		c.LockPollInterval = time.Millisecond
	}
	if c.SerdeJSONVersion == "" {
		c.SerdeJSONVersion = "1"
	}
	return nil
}

// profileDir is the target subdirectory binaries are built into.
func (c *Config) profileDir() string {
	if c.Release {
		return "release"
	}
	return "debug"
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithRoot sets the workspace directory.
func WithRoot(dir string) Option {
	return func(c *Config) {
		c.Root = dir
	}
}

// WithCargo sets the cargo binary.
func WithCargo(bin string) Option {
	return func(c *Config) {
		c.Cargo = bin
	}
}

// WithRelease toggles optimized builds.
func WithRelease(release bool) Option {
	return func(c *Config) {
		c.Release = release
	}
}

// WithKeepCrates keeps generated crates on disk.
func WithKeepCrates(keep bool) Option {
	return func(c *Config) {
		c.KeepCrates = keep
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

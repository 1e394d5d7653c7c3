// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the attest tool configuration file.
//
// # Example
//
//	workspace:
//	  root: /var/tmp/attest
//	  cargo: cargo
//	  release: true
//	pool:
//	  trial_factor: 20
//	  strict_instance_count: false
//	cache:
//	  path: ~/.aleutian/attest/cache
//	telemetry:
//	  trace_exporter: none
//	  metric_exporter: prometheus
//	logging:
//	  level: info
//	  json: false
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAttest/pkg/logging"
	"github.com/AleutianAI/AleutianAttest/services/attest/pool"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
	"github.com/AleutianAI/AleutianAttest/services/attest/telemetry"
	"github.com/AleutianAI/AleutianAttest/services/attest/workspace"
)

// ErrInvalidConfig indicates a configuration file that does not decode or
// validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config is the attest configuration file.
type Config struct {
	Workspace WorkspaceConfig  `yaml:"workspace"`
	Pool      PoolConfig       `yaml:"pool"`
	Cache     CacheConfig      `yaml:"cache"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// WorkspaceConfig configures the cargo workspace.
type WorkspaceConfig struct {
	// Root is the cargo workspace directory.
	// Default: $TMPDIR/attest
	Root string `yaml:"root"`

	// Cargo is the cargo binary.
	// Default: "cargo"
	Cargo string `yaml:"cargo" validate:"required"`

	// Release builds generated programs with optimizations.
	// Default: true
	Release bool `yaml:"release"`

	// KeepCrates leaves generated crates on disk.
	// Default: false
	KeepCrates bool `yaml:"keep_crates"`
}

// PoolConfig configures pool transitions.
type PoolConfig struct {
	// TrialFactor bounds trials to TrialFactor x tests per contract.
	// Default: 20
	TrialFactor int `yaml:"trial_factor" validate:"gte=1,lte=1000"`

	// StrictInstanceCount fails contracts that fall short of their tests.
	// Default: false
	StrictInstanceCount bool `yaml:"strict_instance_count"`
}

// CacheConfig configures the type-resolution cache.
type CacheConfig struct {
	// Disabled sends every resolution to the compiler.
	Disabled bool `yaml:"disabled"`

	// Path is the BadgerDB directory. Empty means an in-memory cache.
	Path string `yaml:"path"`
}

// LoggingConfig configures console and run-log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// JSON switches console output to JSON.
	JSON bool `yaml:"json"`

	// Dir enables a JSON run log per run in this directory.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	ws := workspace.DefaultConfig()
	return &Config{
		Workspace: WorkspaceConfig{
			Root:    ws.Root,
			Cargo:   ws.Cargo,
			Release: ws.Release,
		},
		Pool: PoolConfig{
			TrialFactor: pool.DefaultTrialFactor,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var configValidate = validator.New()

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithWorkspaceRoot sets the cargo workspace directory.
func WithWorkspaceRoot(dir string) Option {
	return func(c *Config) {
		c.Workspace.Root = dir
	}
}

// WithTrialFactor sets the trials per wanted instance.
func WithTrialFactor(n int) Option {
	return func(c *Config) {
		c.Pool.TrialFactor = n
	}
}

// WithStrictInstanceCount fails contracts that fall short of their tests.
func WithStrictInstanceCount(strict bool) Option {
	return func(c *Config) {
		c.Pool.StrictInstanceCount = strict
	}
}

// WithCachePath sets the resolution cache directory.
func WithCachePath(path string) Option {
	return func(c *Config) {
		c.Cache.Path = path
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Logging.Level = level
	}
}

// WithMetricExporter sets the metric exporter.
func WithMetricExporter(name string) Option {
	return func(c *Config) {
		c.Telemetry.MetricExporter = name
	}
}

// NewConfig creates a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the YAML file at path over DefaultConfig, then applies opts.
// An empty path loads the defaults only.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - ErrInvalidConfig wrapping the decode or validation failure, or
//	        an I/O error.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// =============================================================================
// PACKAGE CONFIGS
// =============================================================================

// WorkspaceOptions returns the workspace options for c.
func (c *Config) WorkspaceOptions() []workspace.Option {
	return []workspace.Option{
		workspace.WithRoot(expandPath(c.Workspace.Root)),
		workspace.WithCargo(c.Workspace.Cargo),
		workspace.WithRelease(c.Workspace.Release),
		workspace.WithKeepCrates(c.Workspace.KeepCrates),
	}
}

// PoolOptions returns the pool options for c.
func (c *Config) PoolOptions() []pool.Option {
	return []pool.Option{
		pool.WithTrialFactor(c.Pool.TrialFactor),
		pool.WithStrictInstanceCount(c.Pool.StrictInstanceCount),
	}
}

// ResolveCacheConfig returns the resolution cache settings, or false when
// the cache is disabled.
func (c *Config) ResolveCacheConfig() (resolve.CacheConfig, bool) {
	if c.Cache.Disabled {
		return resolve.CacheConfig{}, false
	}
	if c.Cache.Path == "" {
		return resolve.CacheConfig{InMemory: true}, true
	}
	return resolve.CacheConfig{Path: expandPath(c.Cache.Path)}, true
}

// LoggingConfig returns the logger settings for a run.
func (c *Config) LoggingConfig(runID string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return logging.Config{
		Level:  level,
		JSON:   c.Logging.JSON,
		LogDir: c.Logging.Dir,
		RunID:  runID,
	}, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

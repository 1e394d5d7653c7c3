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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

// CratePrefix starts every generated crate name.
const CratePrefix = "attest_"

// =============================================================================
// MANIFESTS
// =============================================================================

type rootManifest struct {
	Workspace struct {
		Members  []string `toml:"members"`
		Resolver string   `toml:"resolver"`
	} `toml:"workspace"`
}

type crateManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Edition string `toml:"edition"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"bin"`
	Dependencies contract.Dependencies `toml:"dependencies"`
}

// RootManifest renders the workspace Cargo.toml.
func RootManifest() ([]byte, error) {
	var m rootManifest
	m.Workspace.Members = []string{"crates/*"}
	m.Workspace.Resolver = "2"
	return toml.Marshal(m)
}

// CrateManifest renders the Cargo.toml of crate name with a single
// binary built from main.rs. serde_json is always required.
func CrateManifest(name string, deps contract.Dependencies, serdeJSON string) ([]byte, error) {
	var m crateManifest
	m.Package.Name = name
	m.Package.Version = "0.1.0"
	m.Package.Edition = "2021"
	m.Bin = append(m.Bin, struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	}{Name: name, Path: "main.rs"})

	m.Dependencies = deps.Clone()
	if m.Dependencies == nil {
		m.Dependencies = contract.Dependencies{}
	}
	if _, ok := m.Dependencies["serde_json"]; !ok {
		m.Dependencies["serde_json"] = contract.Dependency{Version: serdeJSON}
	}
	return toml.Marshal(m)
}

// NewCrateName returns a fresh crate name.
func NewCrateName() string {
	return CratePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// =============================================================================
// CARGO
// =============================================================================

// Cargo builds and runs generated programs in the shared workspace.
//
// # Description
//
// Each program becomes its own crate under crates/ so builds share one
// target directory and dependency cache. The workspace is held for the
// whole write and build, then released before the binary runs.
//
// # Thread Safety
//
// Safe for concurrent use; builds are serialized by the Coordinator.
type Cargo struct {
	cfg    *Config
	coord  *Coordinator
	logger *slog.Logger
}

// NewCargo creates a Cargo over the workspace described by cfg.
func NewCargo(cfg *Config, logger *slog.Logger) (*Cargo, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	coord, err := NewCoordinator(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Cargo{cfg: cfg, coord: coord, logger: logger}, nil
}

// Coordinator returns the workspace lock owner.
func (c *Cargo) Coordinator() *Coordinator {
	return c.coord
}

// Build compiles source as a binary crate and returns the binary path.
//
// Outputs:
//
//	string - Absolute path of the built binary.
//	error - *CompileError when cargo rejects the program.
func (c *Cargo) Build(ctx context.Context, source string, deps contract.Dependencies) (string, error) {
	name, err := c.cargo(ctx, "build", source, deps)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.cfg.Root, "target", c.cfg.profileDir(), name), nil
}

// Check type-checks source without producing a binary.
func (c *Cargo) Check(ctx context.Context, source string, deps contract.Dependencies) error {
	_, err := c.cargo(ctx, "check", source, deps)
	return err
}

// CompileAndRun builds source and starts the binary with piped stdio.
func (c *Cargo) CompileAndRun(ctx context.Context, source string, deps contract.Dependencies) (*Process, error) {
	bin, err := c.Build(ctx, source, deps)
	if err != nil {
		return nil, err
	}
	return StartProcess(ctx, c.cfg.Root, c.cfg.MaxStderrBytes, bin)
}

// cargo writes a fresh crate and runs the cargo subcommand on it.
func (c *Cargo) cargo(ctx context.Context, sub, source string, deps contract.Dependencies) (string, error) {
	name := NewCrateName()
	ctx, span := startBuildSpan(ctx, sub, name)
	defer span.End()
	start := time.Now()

	h, err := c.coord.Acquire(ctx)
	if err != nil {
		setBuildSpanResult(span, err)
		return "", err
	}
	defer h.Release()

	err = c.runLocked(ctx, h, sub, name, source, deps)
	recordBuild(ctx, sub, time.Since(start), err)
	setBuildSpanResult(span, err)
	if err != nil {
		return "", err
	}
	return name, nil
}

func (c *Cargo) runLocked(ctx context.Context, h *Handle, sub, name, source string, deps contract.Dependencies) error {
	root, err := RootManifest()
	if err != nil {
		return fmt.Errorf("render workspace manifest: %w", err)
	}
	if err := h.WriteFile("Cargo.toml", root); err != nil {
		return err
	}

	manifest, err := CrateManifest(name, deps, c.cfg.SerdeJSONVersion)
	if err != nil {
		return fmt.Errorf("render crate manifest: %w", err)
	}
	dir := path.Join("crates", name)
	if err := h.WriteFile(path.Join(dir, "Cargo.toml"), manifest); err != nil {
		return err
	}
	if err := h.WriteFile(path.Join(dir, "main.rs"), []byte(source)); err != nil {
		return err
	}
	if !c.cfg.KeepCrates {
		defer func() {
			if err := h.RemoveAll(dir); err != nil {
				c.logger.Warn("remove crate failed",
					slog.String("crate", name),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	args := []string{sub, "--quiet", "-p", name}
	if c.cfg.Release {
		args = append(args, "--release")
	}
	cmd := exec.CommandContext(ctx, c.cfg.Cargo, args...)
	cmd.Dir = h.Root()
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: c.cfg.MaxStderrBytes}

	c.logger.Debug("cargo",
		slog.String("subcommand", sub),
		slog.String("crate", name),
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("cargo failed",
			slog.String("subcommand", sub),
			slog.String("crate", name),
			slog.Int("stderr_bytes", stderr.Len()),
		)
		return &CompileError{Crate: name, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver runs contracts through every pool phase and writes the
// resulting assertions as one program.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/pool"
	"github.com/AleutianAI/AleutianAttest/services/attest/telemetry"
)

var tracer = otel.Tracer("aleutian.attest.driver")

// ErrNoContracts indicates a run with nothing to process.
var ErrNoContracts = errors.New("no contracts")

// PoolError locates a failed pool.
type PoolError struct {
	Pool  int
	Phase pool.Phase
	Err   error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %d (%s): %v", e.Pool, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// Stages are the collaborators of each pool phase.
type Stages struct {
	// Toolchain resolves types and builds precondition oracles.
	Toolchain pool.Toolchain

	// Values draws input values for contracts without a seed.
	Values pool.ValueSource

	// Evaluator computes eval terms.
	Evaluator pool.TermEvaluator

	// Coverage is optional. nil skips the coverage phase.
	Coverage pool.CoverageCollaborator
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Output     string
	Pools      int
	Contracts  int
	Assertions int
	Duration   time.Duration
}

// Driver runs contract files end to end.
//
// Thread Safety: A Driver runs one contract set at a time per call; calls
// may run concurrently when they write different outputs.
type Driver struct {
	stages  Stages
	opts    []pool.Option
	logger  *slog.Logger
	closers []func() error
}

// New creates a Driver over stages. A nil logger means slog.Default().
func New(stages Stages, logger *slog.Logger, opts ...pool.Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{stages: stages, opts: opts, logger: logger}
}

// Close releases resources opened for the driver.
func (d *Driver) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Run processes contracts and writes their assertions to output.
//
// Description:
//
//	Any previous output file is removed first, so a failed run never
//	leaves stale assertions behind. Contracts are grouped into pools by
//	dependency compatibility; each pool instantiates types, then values,
//	then computes eval nodes and, when configured, coverage. The first
//	failing pool stops the run.
//
// Outputs:
//
//	*Report - Counts of the run. Non-nil only on success.
//	error - *PoolError wrapping the failing phase, or a write error.
func (d *Driver) Run(ctx context.Context, contracts []*contract.Contract, output string) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "driver.Run",
		trace.WithAttributes(
			attribute.String("attest.run_id", runID),
			attribute.Int("attest.contracts", len(contracts)),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, d.logger).With(slog.String("run_id", runID))

	if len(contracts) == 0 {
		span.SetStatus(codes.Error, ErrNoContracts.Error())
		return nil, ErrNoContracts
	}
	if err := removeStale(output); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cfg := pool.NewConfig(append(d.opts, pool.WithLogger(logger))...)
	pools := pool.NewPools(contracts, cfg)
	logger.Info("processing contracts",
		slog.Int("contracts", len(contracts)),
		slog.Int("pools", len(pools)),
	)

	var uses []string
	var assertions []*ast.Macro
	for i, p := range pools {
		inst, err := d.runPool(ctx, logger.With(slog.Int("pool", i+1)), i+1, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, u := range inst.UseStatements() {
			if !slices.Contains(uses, u) {
				uses = append(uses, u)
			}
		}
		assertions = append(assertions, inst.Assertions()...)
	}

	if err := WriteProgram(output, uses, assertions); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{
		RunID:      runID,
		Output:     output,
		Pools:      len(pools),
		Contracts:  len(contracts),
		Assertions: len(assertions),
		Duration:   time.Since(start),
	}
	span.SetAttributes(attribute.Int("attest.assertions", report.Assertions))
	span.SetStatus(codes.Ok, "")
	logger.Info("wrote assertions",
		slog.String("output", output),
		slog.Int("assertions", report.Assertions),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (d *Driver) runPool(ctx context.Context, logger *slog.Logger, n int, g *pool.GenericPool) (*pool.InstantiatedPool, error) {
	fail := func(phase pool.Phase, err error) error {
		return &PoolError{Pool: n, Phase: phase, Err: err}
	}

	logger.Info("instantiating types", slog.Int("contracts", len(g.Contracts())))
	param, err := g.InstantiateTypes(ctx, d.stages.Toolchain)
	if err != nil {
		return nil, fail(pool.PhaseGeneric, err)
	}

	logger.Info("instantiating values")
	inst, err := param.InstantiateValues(ctx, d.stages.Values)
	if err != nil {
		return nil, fail(pool.PhaseParametric, err)
	}

	logger.Info("computing eval nodes", slog.Int("instances", len(inst.Contracts())))
	if err := inst.ComputeEvalNodes(ctx, d.stages.Evaluator); err != nil {
		return nil, fail(pool.PhaseInstantiated, err)
	}

	if d.stages.Coverage != nil {
		logger.Info("computing coverage")
		if err := inst.ComputeCoverage(ctx, d.stages.Coverage); err != nil {
			return nil, fail(pool.PhaseInstantiated, err)
		}
	}
	return inst, nil
}

// removeStale deletes a previous output file. A missing file is fine.
func removeStale(output string) error {
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous output: %w", err)
	}
	return nil
}

// Program renders `fn main() { ... }` holding the use statements then one
// assertion per line.
func Program(uses []string, assertions []*ast.Macro) string {
	var b strings.Builder
	b.WriteString("fn main() {\n")
	for _, u := range uses {
		u = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(u), "use "), ";")
		b.WriteString("    ")
		b.WriteString(ast.Render(&ast.UseStmt{Path: u}))
		b.WriteString("\n")
	}
	for _, a := range assertions {
		b.WriteString("    ")
		b.WriteString(ast.Render(&ast.ExprStmt{X: a, Semi: true}))
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// WriteProgram writes Program(uses, assertions) to output through a
// temporary file in the same directory.
func WriteProgram(output string, uses []string, assertions []*ast.Macro) error {
	dir := filepath.Dir(output)
	tmp, err := os.CreateTemp(dir, ".attest-*.rs")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Program(uses, assertions)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

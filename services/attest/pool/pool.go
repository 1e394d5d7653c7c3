// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool moves groups of contracts through three phases:
//
//	Generic -> Parametric -> Instantiated
//
// Each phase is its own type. A transition consumes its receiver and
// returns the next phase only after every contract satisfies that
// phase's invariant.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/batch"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

// PreconditionTester answers whether a contract's precondition holds for
// a set of wire values. *oracle.PreconditionOracle implements it.
type PreconditionTester interface {
	Test(ctx context.Context, index int, values []any) (oracle.Verdict, error)
	Close() error
}

// PreconditionBuilder starts a PreconditionTester for a pool, one entry
// per contract in pool order.
type PreconditionBuilder interface {
	Build(ctx context.Context, entries []oracle.PreconditionEntry, deps contract.Dependencies) (PreconditionTester, error)
}

// OracleBuilder builds precondition oracles by compiling them with Runner.
type OracleBuilder struct {
	Runner oracle.Runner
	Logger *slog.Logger
}

// Build implements PreconditionBuilder.
func (b OracleBuilder) Build(ctx context.Context, entries []oracle.PreconditionEntry, deps contract.Dependencies) (PreconditionTester, error) {
	o, err := oracle.CompilePreconditionOracle(ctx, b.Runner, entries, deps, b.Logger)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Toolchain is what the Generic to Parametric transition builds with.
type Toolchain struct {
	Resolver      resolve.Resolver
	Preconditions PreconditionBuilder
}

// spent marks a pool whose transition already ran.
type spent struct {
	done bool
}

func (s *spent) consume() error {
	if s.done {
		return ErrPoolConsumed
	}
	s.done = true
	return nil
}

// =============================================================================
// GENERIC
// =============================================================================

// GenericPool holds contracts whose inputs are still declared, not
// resolved.
//
// Thread Safety: Not safe for concurrent use.
type GenericPool struct {
	contracts []*contract.Contract
	cfg       *Config
	spent
}

// NewPools groups contracts into pools with compatible dependencies.
//
// Description:
//
//	Each contract joins the first pool whose merged dependencies agree
//	with its own on every shared crate; otherwise it starts a new pool.
//	Pools keep the relative order of their contracts.
//
// Inputs:
//
//	contracts - The contracts. They are owned by the pools afterwards.
//	cfg - Pool configuration. nil means DefaultConfig().
func NewPools(contracts []*contract.Contract, cfg *Config) []*GenericPool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	_ = cfg.Validate()

	var pools []*GenericPool
	var merged []contract.Dependencies
	for _, c := range contracts {
		placed := false
		for i, deps := range merged {
			if !deps.Compatible(c.Dependencies) {
				continue
			}
			// Compatible sets cannot conflict.
			merged[i], _ = deps.Merge(c.Dependencies)
			pools[i].contracts = append(pools[i].contracts, c)
			placed = true
			break
		}
		if !placed {
			merged = append(merged, c.Dependencies.Clone())
			pools = append(pools, &GenericPool{contracts: []*contract.Contract{c}, cfg: cfg})
		}
	}
	cfg.Logger.Debug("grouped contracts",
		slog.Int("contracts", len(contracts)),
		slog.Int("pools", len(pools)),
	)
	return pools
}

// Contracts returns the pool's contracts.
func (p *GenericPool) Contracts() []*contract.Contract {
	return p.contracts
}

// Dependencies merges the dependencies of every contract.
//
// Outputs:
//
//	error - contract.ErrDependencyConflict when two contracts disagree.
func (p *GenericPool) Dependencies() (contract.Dependencies, error) {
	return mergeDependencies(p.contracts)
}

func mergeDependencies(contracts []*contract.Contract) (contract.Dependencies, error) {
	deps := contract.Dependencies{}
	for _, c := range contracts {
		var err error
		deps, err = deps.Merge(c.Dependencies)
		if err != nil {
			return nil, err
		}
	}
	return deps, nil
}

// checkParametric verifies every contract can have its types resolved:
// at least one input and only value-kind inputs.
func checkParametric(contracts []*contract.Contract) error {
	for i, c := range contracts {
		if len(c.Inputs) == 0 {
			return &PhaseError{Phase: PhaseParametric, Index: i, Description: c.Description, Reason: "contract has no inputs"}
		}
		for _, in := range c.Inputs {
			if _, ok := in.Kind.(contract.ValueKind); !ok {
				return &PhaseError{Phase: PhaseParametric, Index: i, Description: c.Description,
					Reason: fmt.Sprintf("input %q is a type input", in.Name)}
			}
		}
	}
	return nil
}

// InstantiateTypes resolves every input type and starts the precondition
// oracle, consuming p.
//
// Description:
//
//	One query per value input, across all contracts, goes to the
//	resolver as a single batch; on failure the batch is bisected to the
//	offending queries. The precondition oracle covering every contract
//	compiles concurrently.
//
// Outputs:
//
//	*ParametricPool - Owns the running oracle until InstantiateValues.
//	error - *PhaseError, contract.ErrDependencyConflict,
//	        *batch.FaultError[resolve.Query], or an oracle build error.
func (p *GenericPool) InstantiateTypes(ctx context.Context, tc Toolchain) (*ParametricPool, error) {
	if err := p.consume(); err != nil {
		return nil, err
	}
	ctx, span := startTransitionSpan(ctx, PhaseParametric, len(p.contracts))
	defer span.End()
	start := time.Now()
	logger := p.cfg.Logger

	next, err := p.instantiateTypes(ctx, tc)
	recordTransition(ctx, PhaseParametric, time.Since(start), err)
	setTransitionSpanResult(span, err)
	if err != nil {
		return nil, err
	}
	logger.Info("types instantiated",
		slog.Int("contracts", len(p.contracts)),
		slog.Duration("duration", time.Since(start)),
	)
	return next, nil
}

func (p *GenericPool) instantiateTypes(ctx context.Context, tc Toolchain) (*ParametricPool, error) {
	if err := checkParametric(p.contracts); err != nil {
		return nil, err
	}
	deps, err := p.Dependencies()
	if err != nil {
		return nil, err
	}

	entries := make([]oracle.PreconditionEntry, len(p.contracts))
	var queries []resolve.Query
	for i, c := range p.contracts {
		pre, err := c.TypedPrecondition()
		if err != nil {
			return nil, fmt.Errorf("contract %d: %w", i, err)
		}
		entry := oracle.PreconditionEntry{
			Uses:      c.UseStatements,
			Predicate: ast.Render(pre.Predicate),
		}
		for _, param := range pre.Params {
			entry.Params = append(entry.Params, oracle.Param{Name: param.Name, Type: ast.Render(param.Type)})
			queries = append(queries, resolve.Query{
				Type:    param.Type,
				Imports: c.UseStatements,
			})
		}
		entries[i] = entry
	}

	var (
		resolved []resolve.Resolved
		pre      PreconditionTester
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resolved, err = batch.RunOrLocateError(gctx, queries, func(ctx context.Context, qs []resolve.Query) ([]resolve.Resolved, error) {
			return tc.Resolver.Resolve(ctx, qs, deps)
		})
		if err != nil {
			return fmt.Errorf("resolve input types: %w", err)
		}
		if len(resolved) != len(queries) {
			return fmt.Errorf("%w: resolver returned %d types for %d inputs", contract.ErrArity, len(resolved), len(queries))
		}
		return nil
	})
	g.Go(func() error {
		var err error
		pre, err = tc.Preconditions.Build(gctx, entries, deps)
		if err != nil {
			return fmt.Errorf("build precondition oracle: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if pre != nil {
			_ = pre.Close()
		}
		return nil, err
	}

	types := make([][]resolve.Resolved, len(p.contracts))
	cursor := 0
	for i, c := range p.contracts {
		types[i] = resolved[cursor : cursor+len(c.Inputs)]
		cursor += len(c.Inputs)
	}

	return &ParametricPool{
		contracts: p.contracts,
		types:     types,
		oracle:    pre,
		deps:      deps,
		cfg:       p.cfg,
	}, nil
}

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

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/generate"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

// ValueSource draws random values of a resolved kind.
// *generate.Generator implements it.
type ValueSource interface {
	Generate(kind resolve.Kind) (generate.Sample, error)
}

// =============================================================================
// PARAMETRIC
// =============================================================================

// ParametricPool holds contracts whose input types are resolved, together
// with the live precondition oracle for them.
//
// Thread Safety: Not safe for concurrent use.
type ParametricPool struct {
	contracts []*contract.Contract
	types     [][]resolve.Resolved
	oracle    PreconditionTester
	deps      contract.Dependencies
	cfg       *Config
	spent
}

// Contracts returns the pool's contracts.
func (p *ParametricPool) Contracts() []*contract.Contract {
	return p.contracts
}

// Types returns the resolved type of every input, per contract.
func (p *ParametricPool) Types() [][]resolve.Resolved {
	return p.types
}

// Close shuts the precondition oracle down without instantiating.
func (p *ParametricPool) Close() error {
	if err := p.consume(); err != nil {
		return err
	}
	return p.oracle.Close()
}

// InstantiateValues replaces every contract with up to Tests instances
// whose inputs are random values satisfying the precondition, consuming
// p. The precondition oracle is shut down on return.
//
// Description:
//
//	Each contract gets at most TrialFactor x Tests trials. A trial draws
//	one value per input, asks the oracle, and on success substitutes the
//	values into a clone of the contract. Contracts with a Seed draw from
//	their own generator seeded with it; the others draw from src.
//
// Outputs:
//
//	*InstantiatedPool - The instances, grouped in contract order.
//	error - *PreconditionPanicError when a precondition panics,
//	        ErrInstanceShortfall under StrictInstanceCount,
//	        generate.ErrUnsupportedKind, or an oracle error.
func (p *ParametricPool) InstantiateValues(ctx context.Context, src ValueSource) (*InstantiatedPool, error) {
	if err := p.consume(); err != nil {
		return nil, err
	}
	ctx, span := startTransitionSpan(ctx, PhaseInstantiated, len(p.contracts))
	defer span.End()
	start := time.Now()

	next, err := p.instantiateValues(ctx, src)
	if cerr := p.oracle.Close(); cerr != nil {
		p.cfg.Logger.Warn("precondition oracle exited uncleanly", slog.String("error", cerr.Error()))
	}
	recordTransition(ctx, PhaseInstantiated, time.Since(start), err)
	setTransitionSpanResult(span, err)
	if err != nil {
		return nil, err
	}
	p.cfg.Logger.Info("values instantiated",
		slog.Int("contracts", len(p.contracts)),
		slog.Int("instances", len(next.contracts)),
		slog.Duration("duration", time.Since(start)),
	)
	return next, nil
}

func (p *ParametricPool) instantiateValues(ctx context.Context, src ValueSource) (*InstantiatedPool, error) {
	var instances []*contract.Contract
	for i, c := range p.contracts {
		gen := src
		if c.Seed != nil {
			gen = generate.New(*c.Seed)
		}
		got, err := p.instantiateContract(ctx, i, c, gen)
		if err != nil {
			return nil, err
		}
		instances = append(instances, got...)
	}

	for i, c := range instances {
		if len(c.Inputs) != 0 {
			return nil, &PhaseError{Phase: PhaseInstantiated, Index: i, Description: c.Description,
				Reason: fmt.Sprintf("%d inputs left", len(c.Inputs))}
		}
	}
	return &InstantiatedPool{contracts: instances, deps: p.deps, cfg: p.cfg}, nil
}

func (p *ParametricPool) instantiateContract(ctx context.Context, index int, c *contract.Contract, gen ValueSource) ([]*contract.Contract, error) {
	kinds := p.types[index]
	trials := p.cfg.TrialFactor * c.Tests
	out := make([]*contract.Contract, 0, c.Tests)

	wire := make([]any, len(kinds))
	source := make([]string, len(kinds))
	for trial := 0; trial < trials && len(out) < c.Tests; trial++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, k := range kinds {
			s, err := gen.Generate(k.Kind)
			if err != nil {
				return nil, fmt.Errorf("contract %d input %q (%s): %w", index, c.Inputs[j].Name, k.Name, err)
			}
			wire[j], source[j] = s.Wire, s.Source
		}

		verdict, err := p.oracle.Test(ctx, index, wire)
		if err != nil {
			return nil, fmt.Errorf("test precondition of contract %d: %w", index, err)
		}
		recordTrial(ctx, verdict.Holds && !verdict.Caught)
		if verdict.Caught {
			return nil, &PreconditionPanicError{
				Index:       index,
				Description: c.Description,
				Values:      append([]string(nil), source...),
				Message:     verdict.Panic,
			}
		}
		if !verdict.Holds {
			continue
		}

		inst := c.Clone()
		for j, in := range c.Inputs {
			if err := inst.InstantiateInput(in.Name, contract.SimpleValue{Expr: &ast.Verbatim{Text: source[j]}}); err != nil {
				return nil, fmt.Errorf("contract %d: %w", index, err)
			}
		}
		out = append(out, inst)
	}

	if len(out) < c.Tests {
		recordShortfall(ctx)
		if p.cfg.StrictInstanceCount {
			return nil, fmt.Errorf("%w: contract %d (%q) yielded %d of %d after %d trials",
				ErrInstanceShortfall, index, c.Description, len(out), c.Tests, trials)
		}
		p.cfg.Logger.Warn("precondition rarely holds",
			slog.Int("contract", index),
			slog.String("description", c.Description),
			slog.Int("instances", len(out)),
			slog.Int("wanted", c.Tests),
			slog.Int("trials", trials),
		)
	}
	return out, nil
}


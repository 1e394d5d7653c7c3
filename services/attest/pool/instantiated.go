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
	"slices"
	"time"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/batch"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/partial"
)

// TermEvaluator evaluates closed terms in one program.
// *oracle.Evaluator implements it.
type TermEvaluator interface {
	Evaluate(ctx context.Context, terms []oracle.Term, deps contract.Dependencies) ([]oracle.Outcome, error)
}

// CoverageCollaborator measures which lines of a tested function the
// given instances reach.
type CoverageCollaborator interface {
	LineCoverage(ctx context.Context, function string, contracts []*contract.Contract) error
}

// =============================================================================
// INSTANTIATED
// =============================================================================

// InstantiatedPool holds contracts with no inputs left.
//
// Thread Safety: Not safe for concurrent use.
type InstantiatedPool struct {
	contracts []*contract.Contract
	deps      contract.Dependencies
	cfg       *Config
}

// Contracts returns the pool's contracts.
func (p *InstantiatedPool) Contracts() []*contract.Contract {
	return p.contracts
}

// Dependencies returns the merged dependencies of the pool.
func (p *InstantiatedPool) Dependencies() contract.Dependencies {
	return p.deps
}

// UseStatements returns the union of every contract's use statements in
// first-seen order.
func (p *InstantiatedPool) UseStatements() []string {
	var uses []string
	for _, c := range p.contracts {
		for _, u := range c.UseStatements {
			if !slices.Contains(uses, u) {
				uses = append(uses, u)
			}
		}
	}
	return uses
}

// Assertions returns `assert!(<postcondition>)` per contract.
func (p *InstantiatedPool) Assertions() []*ast.Macro {
	out := make([]*ast.Macro, len(p.contracts))
	for i, c := range p.contracts {
		out[i] = c.Assertion()
	}
	return out
}

// ComputeEvalNodes replaces every eval marker with the value of its term.
//
// Description:
//
//	Terms of all contracts are evaluated in one program. If it fails to
//	build or crashes, the batch is bisected to the responsible terms and
//	the error is returned. A term that panics drops its contract with a
//	warning. Every other placeholder is substituted back in the contract
//	it came from.
//
// Outputs:
//
//	error - *batch.FaultError[oracle.Term] or an extraction error. On
//	        error the pool is unchanged.
func (p *InstantiatedPool) ComputeEvalNodes(ctx context.Context, ev TermEvaluator) error {
	ctx, span := startEvalSpan(ctx, len(p.contracts))
	defer span.End()
	start := time.Now()

	dropped, terms, err := p.computeEvalNodes(ctx, ev)
	recordEvalNodes(ctx, time.Since(start), terms, dropped, err)
	setEvalSpanResult(span, terms, dropped, err)
	return err
}

func (p *InstantiatedPool) computeEvalNodes(ctx context.Context, ev TermEvaluator) (dropped, total int, err error) {
	extracted := make([]*contract.Contract, len(p.contracts))
	owned := make([][]partial.EvalNode, len(p.contracts))
	var terms []oracle.Term
	for i, c := range p.contracts {
		clone := c.Clone()
		nodes, err := clone.ExtractEvalNodes(partial.NewExtractor(c.UseStatements...))
		if err != nil {
			return 0, 0, fmt.Errorf("contract %d (%q): %w", i, c.Description, err)
		}
		extracted[i], owned[i] = clone, nodes
		for _, n := range nodes {
			terms = append(terms, oracle.Term{Source: ast.Render(n.Term)})
		}
	}
	if len(terms) == 0 {
		return 0, 0, nil
	}

	outcomes, err := batch.RunOrLocateError(ctx, terms, func(ctx context.Context, ts []oracle.Term) ([]oracle.Outcome, error) {
		return ev.Evaluate(ctx, ts, p.deps)
	})
	if err != nil {
		return 0, len(terms), fmt.Errorf("evaluate terms: %w", err)
	}
	if len(outcomes) != len(terms) {
		return 0, len(terms), fmt.Errorf("%w: %d outcomes for %d terms", contract.ErrArity, len(outcomes), len(terms))
	}

	kept := make([]*contract.Contract, 0, len(extracted))
	cursor := 0
	for i, c := range extracted {
		nodes := owned[i]
		results := outcomes[cursor : cursor+len(nodes)]
		cursor += len(nodes)

		values := make(map[string]ast.Expr, len(nodes))
		failed := -1
		for j, n := range nodes {
			if !results[j].OK {
				failed = j
				break
			}
			values[n.Placeholder] = &ast.Verbatim{Text: results[j].Source}
		}
		if failed >= 0 {
			dropped++
			p.cfg.Logger.Warn("dropping instance whose eval term panicked",
				slog.Int("contract", i),
				slog.String("description", c.Description),
				slog.String("panic", results[failed].Failure),
			)
			continue
		}
		if len(values) > 0 {
			if err := c.SubstNames(values); err != nil {
				return 0, len(terms), fmt.Errorf("contract %d (%q): %w", i, c.Description, err)
			}
		}
		kept = append(kept, c)
	}

	p.contracts = kept
	p.cfg.Logger.Debug("eval nodes computed",
		slog.Int("terms", len(terms)),
		slog.Int("dropped", dropped),
	)
	return dropped, len(terms), nil
}

// ComputeCoverage hands the instances of every tested function to cc.
// Contracts without a FunctionTested are skipped.
func (p *InstantiatedPool) ComputeCoverage(ctx context.Context, cc CoverageCollaborator) error {
	var order []string
	groups := make(map[string][]*contract.Contract)
	for _, c := range p.contracts {
		if c.FunctionTested == "" {
			continue
		}
		if _, ok := groups[c.FunctionTested]; !ok {
			order = append(order, c.FunctionTested)
		}
		groups[c.FunctionTested] = append(groups[c.FunctionTested], c)
	}
	for _, fn := range order {
		if err := cc.LineCoverage(ctx, fn, groups[fn]); err != nil {
			return fmt.Errorf("coverage of %s: %w", fn, err)
		}
	}
	return nil
}

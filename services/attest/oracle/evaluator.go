// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
)

// Outcome is the evaluation of one term.
type Outcome struct {
	// Source renders the value when OK.
	Source string

	// Failure is the panic message when not OK.
	Failure string

	OK bool
}

// Evaluator runs batches of closed terms through one-shot programs.
//
// Thread Safety: Safe for concurrent use.
type Evaluator struct {
	runner Runner
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator building with runner.
func NewEvaluator(runner Runner, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{runner: runner, logger: logger}
}

// Evaluate compiles terms into one program, runs it and returns one
// Outcome per term in order.
//
// Outputs:
//
//	[]Outcome - Same length as terms.
//	error - *workspace.CompileError when the program does not build,
//	        *TransportError when it crashes or prints garbage.
func (e *Evaluator) Evaluate(ctx context.Context, terms []Term, deps contract.Dependencies) ([]Outcome, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	ctx, span := startEvaluateSpan(ctx, len(terms))
	defer span.End()
	start := time.Now()

	outcomes, err := e.evaluate(ctx, terms, deps)
	recordEvaluate(ctx, time.Since(start), len(terms), err)
	setEvaluateSpanResult(span, err)
	return outcomes, err
}

func (e *Evaluator) evaluate(ctx context.Context, terms []Term, deps contract.Dependencies) ([]Outcome, error) {
	src, err := BatchProgram(terms)
	if err != nil {
		return nil, err
	}
	proc, err := e.runner.CompileAndRun(ctx, src, deps)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = proc.Kill()
	})
	_ = proc.CloseStdin()
	out, readErr := proc.ReadAll()
	waitErr := proc.Wait()
	stop()

	if err := errors.Join(readErr, waitErr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &TransportError{Op: "evaluate", Stderr: proc.Stderr(), Err: err}
	}

	outcomes, err := decodeOutcomes(out, len(terms))
	if err != nil {
		return nil, &TransportError{Op: "decode", Stderr: proc.Stderr(), Err: err}
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	e.logger.Debug("evaluated terms",
		slog.Int("terms", len(terms)),
		slog.Int("caught", failed),
	)
	return outcomes, nil
}

func decodeOutcomes(out []byte, want int) ([]Outcome, error) {
	raw, err := marshal.Decode(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrProtocol)
	}
	if len(items) != want {
		return nil, fmt.Errorf("%w: expected %d results, got %d", ErrProtocol, want, len(items))
	}

	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		t, err := marshal.AsTagged(item)
		if err != nil {
			return nil, err
		}
		switch t.Tag {
		case TagOk, TagCaught:
		default:
			return nil, fmt.Errorf("%w: result %d has tag %q", ErrProtocol, i, t.Tag)
		}
		data, err := marshal.Expect(t, t.Tag, 1)
		if err != nil {
			return nil, err
		}
		text, err := marshal.String().Decode(data[0])
		if err != nil {
			return nil, err
		}
		if t.Tag == TagOk {
			outcomes[i] = Outcome{Source: text, OK: true}
		} else {
			outcomes[i] = Outcome{Failure: text}
		}
	}
	return outcomes, nil
}

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
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/ast/rustparse"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
)

// =============================================================================
// INTERPRETER
// =============================================================================

// The interpreter runs the generated Rust for the abstractions crate used in
// tests: lift widens u8 to u16, lower narrows u16 to u8 and panics when the
// value does not fit, and arithmetic panics on overflow like a debug build.

// num is an unsigned integer of the given width. Width 0 is an unsuffixed
// literal that adopts the width of the other operand.
type num struct {
	v    uint64
	bits int
}

// rustPanic is a panic in the interpreted program.
type rustPanic struct{ msg string }

func (p *rustPanic) Error() string { return p.msg }

func widthOf(suffix string) (int, error) {
	switch suffix {
	case "":
		return 0, nil
	case "u8":
		return 8, nil
	case "u16":
		return 16, nil
	case "u32":
		return 32, nil
	}
	return 0, fmt.Errorf("unsupported literal suffix %q", suffix)
}

func parseNum(lit string) (num, error) {
	end := 0
	for end < len(lit) && lit[end] >= '0' && lit[end] <= '9' {
		end++
	}
	v, err := strconv.ParseUint(lit[:end], 10, 64)
	if err != nil {
		return num{}, err
	}
	bits, err := widthOf(lit[end:])
	if err != nil {
		return num{}, err
	}
	return num{v: v, bits: bits}, nil
}

func fits(n num) bool {
	return n.bits == 0 || n.bits == 64 || n.v < 1<<uint(n.bits)
}

type interp struct {
	env map[string]any
}

func (in *interp) eval(e ast.Expr) (any, error) {
	switch n := e.(type) {
	case *ast.Ident:
		v, ok := in.env[n.Name]
		if !ok {
			return nil, fmt.Errorf("cannot find value `%s`", n.Name)
		}
		return v, nil
	case *ast.Lit:
		switch n.Kind {
		case ast.LitBool:
			return n.Value == "true", nil
		case ast.LitInt:
			return parseNum(n.Value)
		}
	case *ast.Verbatim:
		return parseNum(n.Text)
	case *ast.Paren:
		return in.eval(n.X)
	case *ast.Block:
		for _, s := range n.Stmts {
			switch st := s.(type) {
			case *ast.UseStmt:
			case *ast.LetStmt:
				v, err := in.eval(st.Init)
				if err != nil {
					return nil, err
				}
				pat, ok := st.Pat.(*ast.IdentPat)
				if !ok {
					return nil, fmt.Errorf("unsupported pattern %s", ast.Render(st.Pat))
				}
				in.env[pat.Name] = v
			default:
				return nil, fmt.Errorf("unsupported statement %s", ast.Render(s))
			}
		}
		return in.eval(n.Tail)
	case *ast.Call:
		return in.call(n)
	case *ast.Binary:
		return in.binary(n)
	}
	return nil, fmt.Errorf("unsupported expression %s", ast.Render(e))
}

func (in *interp) call(n *ast.Call) (any, error) {
	name, ok := ast.AsIdent(n.Func)
	if !ok || len(n.Args) != 1 {
		return nil, fmt.Errorf("unsupported call %s", ast.Render(n))
	}
	arg, err := in.eval(n.Args[0])
	if err != nil {
		return nil, err
	}
	a, ok := arg.(num)
	if !ok {
		return nil, fmt.Errorf("%s expects an integer", name)
	}
	switch name {
	case "lift":
		return num{v: a.v, bits: 16}, nil
	case "lower":
		if a.v > 255 {
			return nil, &rustPanic{msg: "lower: value does not fit in u8"}
		}
		return num{v: a.v, bits: 8}, nil
	}
	return nil, fmt.Errorf("unknown function %s", name)
}

func (in *interp) binary(n *ast.Binary) (any, error) {
	x, err := in.eval(n.X)
	if err != nil {
		return nil, err
	}
	y, err := in.eval(n.Y)
	if err != nil {
		return nil, err
	}
	if n.Op == "&&" || n.Op == "||" {
		a, aok := x.(bool)
		b, bok := y.(bool)
		if !aok || !bok {
			return nil, fmt.Errorf("%s expects booleans", n.Op)
		}
		if n.Op == "&&" {
			return a && b, nil
		}
		return a || b, nil
	}

	a, aok := x.(num)
	b, bok := y.(num)
	if !aok || !bok {
		return nil, fmt.Errorf("%s expects integers", n.Op)
	}
	bits := max(a.bits, b.bits)
	if a.bits != 0 && b.bits != 0 && a.bits != b.bits {
		return nil, fmt.Errorf("mismatched types u%d and u%d", a.bits, b.bits)
	}
	if !fits(num{v: a.v, bits: bits}) || !fits(num{v: b.v, bits: bits}) {
		return nil, fmt.Errorf("literal out of range for u%d", bits)
	}
	switch n.Op {
	case "+":
		sum := num{v: a.v + b.v, bits: bits}
		if !fits(sum) {
			return nil, &rustPanic{msg: "attempt to add with overflow"}
		}
		return sum, nil
	case "<":
		return a.v < b.v, nil
	case "<=":
		return a.v <= b.v, nil
	case "==":
		return a.v == b.v, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", n.Op)
}

// run interprets src with env. A panic of the program is returned as a
// *rustPanic.
func run(src string, env map[string]any) (any, error) {
	e, err := rustparse.NewParser().Expr(context.Background(), src)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]any{}
	}
	return (&interp{env: env}).eval(e)
}

// =============================================================================
// INTERPRETING COLLABORATORS
// =============================================================================

// interpBuilder builds testers that interpret each rendered predicate. It
// records the single-input values each precondition index saw.
type interpBuilder struct {
	mu       sync.Mutex
	accepted map[int][]uint8
	rejected map[int][]uint8
}

func (b *interpBuilder) Build(_ context.Context, entries []oracle.PreconditionEntry, _ contract.Dependencies) (PreconditionTester, error) {
	b.accepted = map[int][]uint8{}
	b.rejected = map[int][]uint8{}
	return &interpTester{entries: entries, b: b}, nil
}

type interpTester struct {
	entries []oracle.PreconditionEntry
	b       *interpBuilder
}

func (t *interpTester) Test(_ context.Context, index int, values []any) (oracle.Verdict, error) {
	if index >= len(t.entries) {
		return oracle.Verdict{}, oracle.ErrUnknownPrecondition
	}
	entry := t.entries[index]
	env := map[string]any{}
	for i, p := range entry.Params {
		if p.Type != "u8" {
			return oracle.Verdict{}, fmt.Errorf("unsupported parameter type %s", p.Type)
		}
		v, err := marshal.Uint8().Decode(values[i])
		if err != nil {
			return oracle.Verdict{}, err
		}
		env[p.Name] = num{v: uint64(v), bits: 8}
	}

	got, err := run(entry.Predicate, env)
	var rp *rustPanic
	if errors.As(err, &rp) {
		return oracle.Verdict{Caught: true, Panic: rp.msg}, nil
	}
	if err != nil {
		return oracle.Verdict{}, err
	}
	holds, ok := got.(bool)
	if !ok {
		return oracle.Verdict{}, fmt.Errorf("predicate %q is not boolean", entry.Predicate)
	}

	if len(entry.Params) == 1 {
		t.b.mu.Lock()
		x := uint8(env[entry.Params[0].Name].(num).v)
		if holds {
			t.b.accepted[index] = append(t.b.accepted[index], x)
		} else {
			t.b.rejected[index] = append(t.b.rejected[index], x)
		}
		t.b.mu.Unlock()
	}
	return oracle.Verdict{Holds: holds}, nil
}

func (t *interpTester) Close() error { return nil }

// interpEvaluator evaluates each term with the interpreter.
type interpEvaluator struct {
	mu      sync.Mutex
	batches int
}

func (e *interpEvaluator) Evaluate(_ context.Context, terms []oracle.Term, _ contract.Dependencies) ([]oracle.Outcome, error) {
	e.mu.Lock()
	e.batches++
	e.mu.Unlock()

	out := make([]oracle.Outcome, len(terms))
	for i, t := range terms {
		got, err := run(t.Source, nil)
		var rp *rustPanic
		if errors.As(err, &rp) {
			out[i] = oracle.Outcome{Failure: rp.msg}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error: %w", err)
		}
		n, ok := got.(num)
		if !ok || n.bits == 0 {
			return nil, fmt.Errorf("term %q has no integer type", t.Source)
		}
		out[i] = oracle.Outcome{OK: true, Source: fmt.Sprintf("%du%d", n.v, n.bits)}
	}
	return out, nil
}

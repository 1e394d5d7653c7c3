// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/batch"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/generate"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/pool"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

// =============================================================================
// FAKES
// =============================================================================

type primitiveResolver struct {
	bad string
}

func (r primitiveResolver) Resolve(_ context.Context, qs []resolve.Query, _ contract.Dependencies) ([]resolve.Resolved, error) {
	out := make([]resolve.Resolved, len(qs))
	for i, q := range qs {
		name := ast.Render(q.Type)
		if name == r.bad {
			return nil, &resolve.Error{Failed: qs, Diagnostic: "cannot find type `" + name + "`"}
		}
		out[i] = resolve.Resolved{Name: name, Kind: resolve.KindOf(name)}
	}
	return out, nil
}

type acceptAll struct{}

func (acceptAll) Test(context.Context, int, []any) (oracle.Verdict, error) {
	return oracle.Verdict{Holds: true}, nil
}

func (acceptAll) Close() error { return nil }

type acceptAllBuilder struct{}

func (acceptAllBuilder) Build(context.Context, []oracle.PreconditionEntry, contract.Dependencies) (pool.PreconditionTester, error) {
	return acceptAll{}, nil
}

var sumTerm = regexp.MustCompile(`(\d+)u8 \+ (\d+)u8\s*\}$`)

// wideSum evaluates `a + b` over u8 literals, widening to u16 so nothing
// overflows.
type wideSum struct {
	calls int
}

func (e *wideSum) Evaluate(_ context.Context, terms []oracle.Term, _ contract.Dependencies) ([]oracle.Outcome, error) {
	e.calls++
	out := make([]oracle.Outcome, len(terms))
	for i, t := range terms {
		m := sumTerm.FindStringSubmatch(t.Source)
		if m == nil {
			return nil, fmt.Errorf("unexpected term %q", t.Source)
		}
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		out[i] = oracle.Outcome{OK: true, Source: strconv.Itoa(a+b) + "u16"}
	}
	return out, nil
}

type countingCoverage struct {
	instances map[string]int
}

func (c *countingCoverage) LineCoverage(_ context.Context, fn string, cs []*contract.Contract) error {
	if c.instances == nil {
		c.instances = map[string]int{}
	}
	c.instances[fn] += len(cs)
	return nil
}

func stages(ev pool.TermEvaluator) Stages {
	return Stages{
		Toolchain: pool.Toolchain{Resolver: primitiveResolver{}, Preconditions: acceptAllBuilder{}},
		Values:    generate.New(42),
		Evaluator: ev,
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func widen(tests int, deps contract.Dependencies) *contract.Contract {
	x := ast.NewIdent("x")
	return &contract.Contract{
		Description: "widen adds without overflow",
		Inputs:      []contract.Input{{Name: "x", Kind: contract.ValueKind{Type: ast.Named("u8")}}},
		Precondition: ast.Bool(true),
		Postcondition: &ast.Binary{Op: "==",
			X: ast.CallName("widen", x, x),
			Y: ast.CallName("eval", &ast.Binary{Op: "+", X: x, Y: x}),
		},
		Dependencies:   deps,
		UseStatements:  []string{"abstractions::widen"},
		Tests:          tests,
		FunctionTested: "abstractions::widen",
	}
}

func identity(tests int) *contract.Contract {
	return &contract.Contract{
		Description:   "identity",
		Inputs:        []contract.Input{{Name: "y", Kind: contract.ValueKind{Type: ast.Named("i32")}}},
		Precondition:  ast.Bool(true),
		Postcondition: &ast.Binary{Op: "==", X: ast.CallName("id", ast.NewIdent("y")), Y: ast.NewIdent("y")},
		UseStatements: []string{"use abstractions::id;"},
		Tests:         tests,
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestRun_EndToEnd(t *testing.T) {
	out := filepath.Join(t.TempDir(), "assertions.rs")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	ev := &wideSum{}
	cov := &countingCoverage{}
	st := stages(ev)
	st.Coverage = cov
	d := New(st, nil)

	report, err := d.Run(context.Background(), []*contract.Contract{widen(4, nil), identity(3)}, out)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pools)
	assert.Equal(t, 2, report.Contracts)
	assert.Equal(t, 7, report.Assertions)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, ev.calls, "eval terms of a pool run as one batch")
	assert.Equal(t, map[string]int{"abstractions::widen": 4}, cov.instances)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	src := string(data)
	assert.True(t, strings.HasPrefix(src, "fn main() {\n"))
	assert.True(t, strings.HasSuffix(src, "}\n"))
	assert.NotContains(t, src, "stale")
	assert.NotContains(t, src, "eval(")
	assert.Contains(t, src, "    use abstractions::widen;\n")
	assert.Contains(t, src, "    use abstractions::id;\n")
	assert.Equal(t, 7, strings.Count(src, "assert!("))
	assert.Regexp(t, `assert!\(widen\(\d+u8, \d+u8\) == \d+u16\);`, src)
}

func TestRun_PoolsByDependencies(t *testing.T) {
	out := filepath.Join(t.TempDir(), "assertions.rs")
	a := widen(2, contract.Dependencies{"abstractions": {Path: "/a"}})
	b := widen(2, contract.Dependencies{"abstractions": {Path: "/b"}})

	report, err := New(stages(&wideSum{}), nil).Run(context.Background(), []*contract.Contract{a, b}, out)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pools)
	assert.Equal(t, 4, report.Assertions)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "use abstractions::widen;"), "use statements are deduplicated across pools")
}

func TestRun_FailingPoolStopsRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "assertions.rs")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	st := stages(&wideSum{})
	st.Toolchain.Resolver = primitiveResolver{bad: "i32"}
	_, err := New(st, nil).Run(context.Background(), []*contract.Contract{widen(2, nil), identity(2)}, out)

	var pe *PoolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Pool)
	assert.Equal(t, pool.PhaseGeneric, pe.Phase)
	var fe *batch.FaultError[resolve.Query]
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Items, 1)
	assert.Equal(t, "i32", ast.Render(fe.Items[0].Type))

	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "stale output is removed even when the run fails")
}

func TestRun_NoContracts(t *testing.T) {
	_, err := New(stages(&wideSum{}), nil).Run(context.Background(), nil, filepath.Join(t.TempDir(), "out.rs"))
	assert.ErrorIs(t, err, ErrNoContracts)
}

func TestRun_PhaseViolation(t *testing.T) {
	c := identity(1)
	c.Inputs[0].Kind = contract.TypeKind{}
	_, err := New(stages(&wideSum{}), nil).Run(context.Background(), []*contract.Contract{c}, filepath.Join(t.TempDir(), "out.rs"))
	assert.ErrorIs(t, err, contract.ErrInvariant)
}

func TestProgram(t *testing.T) {
	got := Program(
		[]string{"abstractions::lift", "use abstractions::lower;"},
		[]*ast.Macro{
			ast.Assert(&ast.Binary{Op: "==", X: ast.CallName("lower", ast.CallName("lift", ast.Int("3", "u8"))), Y: ast.Int("3", "u8")}),
			ast.Assert(ast.Bool(true)),
		},
	)
	want := "fn main() {\n" +
		"    use abstractions::lift;\n" +
		"    use abstractions::lower;\n" +
		"    assert!(lower(lift(3u8)) == 3u8);\n" +
		"    assert!(true);\n" +
		"}\n"
	assert.Equal(t, want, got)
}

func TestWriteProgram_ReplacesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "assertions.rs")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o600))
	require.NoError(t, WriteProgram(out, nil, nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "fn main() {\n}\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

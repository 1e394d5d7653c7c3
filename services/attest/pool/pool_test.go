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
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/ast/rustparse"
	"github.com/AleutianAI/AleutianAttest/services/attest/batch"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/generate"
	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeResolver resolves primitive names by spelling.
type fakeResolver struct {
	mu    sync.Mutex
	calls int
	bad   string
}

func (r *fakeResolver) Resolve(_ context.Context, qs []resolve.Query, _ contract.Dependencies) ([]resolve.Resolved, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
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

// predicate emulates one compiled precondition.
type predicate func(values []any) oracle.Verdict

type fakeTester struct {
	preds  []predicate
	closed bool
}

func (t *fakeTester) Test(_ context.Context, index int, values []any) (oracle.Verdict, error) {
	if index >= len(t.preds) {
		return oracle.Verdict{}, oracle.ErrUnknownPrecondition
	}
	return t.preds[index](values), nil
}

func (t *fakeTester) Close() error {
	t.closed = true
	return nil
}

type fakeBuilder struct {
	preds   []predicate
	entries []oracle.PreconditionEntry
	tester  *fakeTester
	err     error
}

func (b *fakeBuilder) Build(_ context.Context, entries []oracle.PreconditionEntry, _ contract.Dependencies) (PreconditionTester, error) {
	b.entries = entries
	if b.err != nil {
		return nil, b.err
	}
	b.tester = &fakeTester{preds: b.preds}
	return b.tester, nil
}

func u8At(values []any, i int) uint8 {
	v, err := marshal.Uint8().Decode(values[i])
	if err != nil {
		panic(err)
	}
	return v
}

func always(values []any) oracle.Verdict { return oracle.Verdict{Holds: true} }

func atMost127(values []any) oracle.Verdict {
	return oracle.Verdict{Holds: u8At(values, 0) <= 127}
}

var sumTerm = regexp.MustCompile(`(\d+)u8 \+ (\d+)u8\s*\}$`)

// u8Evaluator evaluates `a + b` over u8 literals and panics on overflow,
// like a debug build would.
type u8Evaluator struct {
	mu      sync.Mutex
	batches [][]oracle.Term
	poison  string
}

func (e *u8Evaluator) Evaluate(_ context.Context, terms []oracle.Term, _ contract.Dependencies) ([]oracle.Outcome, error) {
	e.mu.Lock()
	e.batches = append(e.batches, terms)
	e.mu.Unlock()

	out := make([]oracle.Outcome, len(terms))
	for i, t := range terms {
		if e.poison != "" && strings.Contains(t.Source, e.poison) {
			return nil, errors.New("error[E0425]: cannot find value")
		}
		m := sumTerm.FindStringSubmatch(t.Source)
		if m == nil {
			return nil, fmt.Errorf("unexpected term %q", t.Source)
		}
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if a+b > 255 {
			out[i] = oracle.Outcome{Failure: "attempt to add with overflow"}
			continue
		}
		out[i] = oracle.Outcome{OK: true, Source: strconv.Itoa(a+b) + "u8"}
	}
	return out, nil
}

type recordingCoverage struct {
	calls map[string]int
}

func (c *recordingCoverage) LineCoverage(_ context.Context, fn string, cs []*contract.Contract) error {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[fn] += len(cs)
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

func id(name string) *ast.Ident { return ast.NewIdent(name) }

func u8Input(name string) contract.Input {
	return contract.Input{Name: name, Kind: contract.ValueKind{Type: ast.Named("u8")}}
}

func evalMarker(e ast.Expr) ast.Expr { return ast.CallName("eval", e) }

// addOrZero states add_or_zero(x, x) == eval(x + x) where x + x fits.
func addOrZero(tests int, pre ast.Expr) *contract.Contract {
	return &contract.Contract{
		Description:  "add_or_zero doubles small values",
		Inputs:       []contract.Input{u8Input("x")},
		Precondition: pre,
		Postcondition: &ast.Binary{Op: "==",
			X: ast.CallName("add_or_zero", id("x"), id("x")),
			Y: evalMarker(&ast.Binary{Op: "+", X: id("x"), Y: id("x")}),
		},
		UseStatements:  []string{"abstractions::add_or_zero"},
		Tests:          tests,
		FunctionTested: "abstractions::add_or_zero",
	}
}

// liftLower states lower(lift(x)) == x.
func liftLower(tests int) *contract.Contract {
	return &contract.Contract{
		Description:  "lower inverts lift",
		Inputs:       []contract.Input{u8Input("x")},
		Precondition: ast.Bool(true),
		Postcondition: &ast.Binary{Op: "==",
			X: ast.CallName("lower", ast.CallName("lift", id("x"))),
			Y: id("x"),
		},
		UseStatements:  []string{"abstractions::{lift, lower}"},
		Tests:          tests,
		FunctionTested: "abstractions::lower",
	}
}

func le127() ast.Expr {
	return &ast.Binary{Op: "<=", X: id("x"), Y: ast.Int("127", "u8")}
}

var assertion = regexp.MustCompile(`^assert!\(add_or_zero\((\d+)u8, (\d+)u8\) == (\d+)u8\)$`)

// =============================================================================
// TESTS
// =============================================================================

func TestNewPools_GroupsByCompatibility(t *testing.T) {
	v1 := contract.Dependencies{"abstractions": {Path: "/src/abstractions"}}
	v2 := contract.Dependencies{"abstractions": {Path: "/src/other"}}
	extra := contract.Dependencies{"num": {Version: "0.4"}}

	a := liftLower(1)
	a.Dependencies = v1
	b := liftLower(1)
	b.Dependencies = v2
	c := liftLower(1)
	c.Dependencies = extra

	pools := NewPools([]*contract.Contract{a, b, c}, nil)
	require.Len(t, pools, 2)
	assert.Equal(t, []*contract.Contract{a, c}, pools[0].Contracts())
	assert.Equal(t, []*contract.Contract{b}, pools[1].Contracts())

	deps, err := pools[0].Dependencies()
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestGenericPool_DependencyConflict(t *testing.T) {
	a := liftLower(1)
	a.Dependencies = contract.Dependencies{"x": {Version: "1"}}
	b := liftLower(1)
	b.Dependencies = contract.Dependencies{"x": {Version: "2"}}
	p := &GenericPool{contracts: []*contract.Contract{a, b}, cfg: NewConfig()}

	_, err := p.Dependencies()
	assert.ErrorIs(t, err, contract.ErrDependencyConflict)
}

func TestInstantiateTypes_PhaseChecks(t *testing.T) {
	noInputs := liftLower(1)
	noInputs.Inputs = nil
	typeInput := liftLower(1)
	typeInput.Inputs = append(typeInput.Inputs, contract.Input{Name: "T", Kind: contract.TypeKind{}})

	for name, c := range map[string]*contract.Contract{"no inputs": noInputs, "type input": typeInput} {
		t.Run(name, func(t *testing.T) {
			p := NewPools([]*contract.Contract{c}, nil)[0]
			b := &fakeBuilder{preds: []predicate{always}}
			_, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: b})

			var pe *PhaseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, PhaseParametric, pe.Phase)
			assert.ErrorIs(t, err, contract.ErrInvariant)
			assert.Nil(t, b.tester, "oracle must not start")
		})
	}
}

func TestInstantiateTypes_Consumes(t *testing.T) {
	p := NewPools([]*contract.Contract{liftLower(1)}, nil)[0]
	tc := Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{preds: []predicate{always}}}

	pp, err := p.InstantiateTypes(context.Background(), tc)
	require.NoError(t, err)
	require.NoError(t, pp.Close())

	_, err = p.InstantiateTypes(context.Background(), tc)
	assert.ErrorIs(t, err, ErrPoolConsumed)
	assert.ErrorIs(t, pp.Close(), ErrPoolConsumed)
}

func TestInstantiateTypes_RegroupsAndBuildsEntries(t *testing.T) {
	two := &contract.Contract{
		Description:   "pair",
		Inputs:        []contract.Input{u8Input("a"), {Name: "b", Kind: contract.ValueKind{Type: ast.Named("i64")}}},
		Precondition:  &ast.Binary{Op: "<", X: id("a"), Y: ast.Int("10", "u8")},
		Postcondition: ast.Bool(true),
		Tests:         1,
	}
	p := NewPools([]*contract.Contract{liftLower(1), two}, nil)[0]
	b := &fakeBuilder{preds: []predicate{always, always}}

	pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: b})
	require.NoError(t, err)
	defer pp.Close()

	types := pp.Types()
	require.Len(t, types, 2)
	assert.Equal(t, []resolve.Resolved{{Name: "u8", Kind: resolve.KindU8}}, types[0])
	assert.Equal(t, []resolve.Resolved{{Name: "u8", Kind: resolve.KindU8}, {Name: "i64", Kind: resolve.KindI64}}, types[1])

	require.Len(t, b.entries, 2)
	assert.Equal(t, []oracle.Param{{Name: "a", Type: "u8"}, {Name: "b", Type: "i64"}}, b.entries[1].Params)
	assert.Equal(t, "a < 10u8", b.entries[1].Predicate)
}

func TestInstantiateTypes_LocatesBadType(t *testing.T) {
	bad := liftLower(1)
	bad.Inputs = []contract.Input{{Name: "x", Kind: contract.ValueKind{Type: ast.Named("Missing")}}}
	contracts := []*contract.Contract{liftLower(1), liftLower(1), bad, liftLower(1)}
	p := NewPools(contracts, nil)[0]
	r := &fakeResolver{bad: "Missing"}
	b := &fakeBuilder{preds: []predicate{always, always, always, always}}

	_, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: r, Preconditions: b})

	var fe *batch.FaultError[resolve.Query]
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Items, 1)
	assert.Equal(t, "Missing", ast.Render(fe.Items[0].Type))
	var re *resolve.Error
	assert.ErrorAs(t, err, &re)
	require.NotNil(t, b.tester)
	assert.True(t, b.tester.closed, "oracle must be closed on failure")
}

func TestInstantiateTypes_OracleBuildFailure(t *testing.T) {
	p := NewPools([]*contract.Contract{liftLower(1)}, nil)[0]
	boom := errors.New("linker failed")
	_, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{err: boom}})
	assert.ErrorIs(t, err, boom)
}

func TestInstantiateValues_RespectsPrecondition(t *testing.T) {
	p := NewPools([]*contract.Contract{addOrZero(30, le127())}, nil)[0]
	b := &fakeBuilder{preds: []predicate{atMost127}}
	pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: b})
	require.NoError(t, err)

	ip, err := pp.InstantiateValues(context.Background(), generate.New(11))
	require.NoError(t, err)
	assert.True(t, b.tester.closed)

	require.NotEmpty(t, ip.Contracts())
	for _, c := range ip.Contracts() {
		assert.Empty(t, c.Inputs)
		pre := ast.Render(c.Precondition)
		n, err := strconv.Atoi(strings.TrimSuffix(strings.Fields(pre)[0], "u8"))
		require.NoError(t, err, pre)
		assert.LessOrEqual(t, n, 127)
	}
}

func TestInstantiateValues_PanickingPrecondition(t *testing.T) {
	p := NewPools([]*contract.Contract{liftLower(3)}, nil)[0]
	b := &fakeBuilder{preds: []predicate{func([]any) oracle.Verdict {
		return oracle.Verdict{Caught: true, Panic: "index out of bounds"}
	}}}
	pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: b})
	require.NoError(t, err)

	_, err = pp.InstantiateValues(context.Background(), generate.New(1))
	var pe *PreconditionPanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "index out of bounds", pe.Message)
	require.Len(t, pe.Values, 1)
	assert.True(t, strings.HasSuffix(pe.Values[0], "u8"))
	assert.True(t, b.tester.closed)
}

func TestInstantiateValues_Shortfall(t *testing.T) {
	never := func([]any) oracle.Verdict { return oracle.Verdict{} }

	t.Run("lenient", func(t *testing.T) {
		p := NewPools([]*contract.Contract{liftLower(2)}, NewConfig(WithTrialFactor(3)))[0]
		pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{preds: []predicate{never}}})
		require.NoError(t, err)
		ip, err := pp.InstantiateValues(context.Background(), generate.New(1))
		require.NoError(t, err)
		assert.Empty(t, ip.Contracts())
	})

	t.Run("strict", func(t *testing.T) {
		cfg := NewConfig(WithTrialFactor(3), WithStrictInstanceCount(true))
		p := NewPools([]*contract.Contract{liftLower(2)}, cfg)[0]
		pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{preds: []predicate{never}}})
		require.NoError(t, err)
		_, err = pp.InstantiateValues(context.Background(), generate.New(1))
		assert.ErrorIs(t, err, ErrInstanceShortfall)
	})
}

func TestInstantiateValues_SeededContractIsReproducible(t *testing.T) {
	run := func() []string {
		c := liftLower(5)
		seed := int64(99)
		c.Seed = &seed
		p := NewPools([]*contract.Contract{c}, nil)[0]
		pp, err := p.InstantiateTypes(context.Background(), Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{preds: []predicate{always}}})
		require.NoError(t, err)
		ip, err := pp.InstantiateValues(context.Background(), generate.NewRandom())
		require.NoError(t, err)
		var out []string
		for _, m := range ip.Assertions() {
			out = append(out, ast.Render(m))
		}
		return out
	}
	assert.Equal(t, run(), run())
}

// parsedContract builds a one-u8-input contract from source conditions.
func parsedContract(t *testing.T, description, pre, post string, uses []string, tests int, fn string) *contract.Contract {
	t.Helper()
	p := rustparse.NewParser()
	preExpr, err := p.Expr(context.Background(), pre)
	require.NoError(t, err)
	postExpr, err := p.Expr(context.Background(), post)
	require.NoError(t, err)
	return &contract.Contract{
		Description:    description,
		Inputs:         []contract.Input{u8Input("x")},
		Precondition:   preExpr,
		Postcondition:  postExpr,
		UseStatements:  uses,
		Tests:          tests,
		FunctionTested: fn,
	}
}

func TestEndToEnd_AddOrZero(t *testing.T) {
	ctx := context.Background()
	contracts := []*contract.Contract{
		parsedContract(t, "add_or_zero doubles values whose double fits",
			"lift(x)+lift(x) < 256",
			"add_or_zero(x,x) == eval(lower(lift(x)+lift(x)))",
			[]string{"abstractions::{add_or_zero, lift, lower}"}, 25, "abstractions::add_or_zero"),
		parsedContract(t, "lower inverts lift", "true", "lower(lift(x)) == x",
			[]string{"abstractions::{lift, lower}"}, 5, "abstractions::lower"),
	}
	p := NewPools(contracts, nil)[0]
	b := &interpBuilder{}

	pp, err := p.InstantiateTypes(ctx, Toolchain{Resolver: &fakeResolver{}, Preconditions: b})
	require.NoError(t, err)
	ip, err := pp.InstantiateValues(ctx, generate.New(2024))
	require.NoError(t, err)

	require.Len(t, b.accepted[0], 25)
	for _, v := range b.accepted[0] {
		assert.LessOrEqual(t, v, uint8(127))
	}
	require.NotEmpty(t, b.rejected[0], "no generated x exceeded 127")
	for _, v := range b.rejected[0] {
		assert.Greater(t, v, uint8(127))
	}

	ev := &interpEvaluator{}
	require.NoError(t, ip.ComputeEvalNodes(ctx, ev))
	assert.Equal(t, 1, ev.batches, "all terms go in one program")

	var sums, roundTrips int
	for _, m := range ip.Assertions() {
		src := ast.Render(m)
		if g := assertion.FindStringSubmatch(src); g != nil {
			a, _ := strconv.Atoi(g[1])
			assert.Equal(t, g[1], g[2])
			got, _ := strconv.Atoi(g[3])
			assert.Equal(t, a+a, got, src)
			assert.LessOrEqual(t, a, 127)
			sums++
			continue
		}
		assert.Regexp(t, `^assert!\(lower\(lift\(\d+u8\)\) == \d+u8\)$`, src)
		roundTrips++
	}
	assert.Equal(t, 25, sums)
	assert.Equal(t, 5, roundTrips)
	assert.Equal(t, []string{"abstractions::{add_or_zero, lift, lower}", "abstractions::{lift, lower}"}, ip.UseStatements())

	cov := &recordingCoverage{}
	require.NoError(t, ip.ComputeCoverage(ctx, cov))
	assert.Equal(t, map[string]int{"abstractions::add_or_zero": 25, "abstractions::lower": 5}, cov.calls)
}

func TestComputeEvalNodes_DropsOverflowingInstances(t *testing.T) {
	ctx := context.Background()
	p := NewPools([]*contract.Contract{addOrZero(40, ast.Bool(true))}, nil)[0]
	pp, err := p.InstantiateTypes(ctx, Toolchain{Resolver: &fakeResolver{}, Preconditions: &fakeBuilder{preds: []predicate{always}}})
	require.NoError(t, err)
	ip, err := pp.InstantiateValues(ctx, generate.New(5))
	require.NoError(t, err)
	require.Len(t, ip.Contracts(), 40)

	require.NoError(t, ip.ComputeEvalNodes(ctx, &u8Evaluator{}))
	assert.Less(t, len(ip.Contracts()), 40, "some doubled u8 values overflow")
	for _, m := range ip.Assertions() {
		g := assertion.FindStringSubmatch(ast.Render(m))
		require.NotNil(t, g)
		a, _ := strconv.Atoi(g[1])
		assert.LessOrEqual(t, a, 127)
	}
}

func TestComputeEvalNodes_NoTermsIsNoop(t *testing.T) {
	ip := &InstantiatedPool{contracts: []*contract.Contract{{Postcondition: ast.Bool(true)}}, cfg: NewConfig()}
	ev := &u8Evaluator{}
	require.NoError(t, ip.ComputeEvalNodes(context.Background(), ev))
	assert.Empty(t, ev.batches)
	assert.Len(t, ip.Contracts(), 1)
}

func TestComputeEvalNodes_LocatesBrokenTerm(t *testing.T) {
	mk := func(y ast.Expr) *contract.Contract {
		return &contract.Contract{
			Description:   "sum",
			Precondition:  ast.Bool(true),
			Postcondition: &ast.Binary{Op: "==", X: id("r"), Y: evalMarker(y)},
		}
	}
	sum := func(a, b string) ast.Expr {
		return &ast.Binary{Op: "+", X: ast.Int(a, "u8"), Y: ast.Int(b, "u8")}
	}
	ip := &InstantiatedPool{
		contracts: []*contract.Contract{mk(sum("1", "2")), mk(sum("3", "4")), mk(id("nope")), mk(sum("5", "6"))},
		cfg:       NewConfig(),
	}

	err := ip.ComputeEvalNodes(context.Background(), &u8Evaluator{poison: "nope"})
	var fe *batch.FaultError[oracle.Term]
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Items, 1)
	assert.Contains(t, fe.Items[0].Source, "nope")
	assert.Len(t, ip.Contracts(), 4, "pool unchanged on error")
	assert.Equal(t, "r == eval(1u8 + 2u8)", ast.Render(ip.Contracts()[0].Postcondition))
}

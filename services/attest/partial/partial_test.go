// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package partial

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/subst"
)

func id(name string) *ast.Ident { return ast.NewIdent(name) }

func add(x, y ast.Expr) *ast.Binary { return &ast.Binary{Op: "+", X: x, Y: y} }

func eval(e ast.Expr) *ast.Call { return ast.CallName(MarkerName, e) }

func let(name string, init ast.Expr) *ast.LetStmt {
	return &ast.LetStmt{Pat: ast.BindingPat(name, false), Init: init}
}

func TestExtract_ReplacesMarker(t *testing.T) {
	v := ast.Int("7", "u8")
	lifted := add(ast.CallName("lift", v), ast.CallName("lift", v))
	post := &ast.Binary{
		Op: "==",
		X:  ast.CallName("add_or_zero", v, v),
		Y:  eval(ast.CallName("lower", lifted)),
	}

	x := NewExtractor()
	got, err := x.Extract(post)
	require.NoError(t, err)

	assert.Equal(t, "add_or_zero(7u8, 7u8) == __attest_eval_0", ast.Render(got))
	require.Len(t, x.Nodes(), 1)
	assert.Equal(t, "__attest_eval_0", x.Nodes()[0].Placeholder)
	assert.Equal(t, "{ lower(lift(7u8) + lift(7u8)) }", ast.Render(x.Nodes()[0].Term))
}

func TestExtract_MinimalBindings(t *testing.T) {
	e := &ast.Block{
		Stmts: []ast.Stmt{
			let("a", ast.Int("1", "u8")),
			let("b", ast.Int("2", "u8")),
			let("c", add(id("a"), ast.Int("1", "u8"))),
			let("d", id("c")),
		},
		Tail: eval(add(id("d"), ast.Int("0", "u8"))),
	}

	x := NewExtractor()
	got, err := x.Extract(e)
	require.NoError(t, err)

	assert.Equal(t, "{ let a = 1u8; let b = 2u8; let c = a + 1u8; let d = c; __attest_eval_0 }", ast.Render(got))
	assert.Equal(t, "{ let a = 1u8; let c = a + 1u8; let d = c; d + 0u8 }", ast.Render(x.Nodes()[0].Term))
}

func TestExtract_KeepsLetTypeAnnotation(t *testing.T) {
	typed := let("y", ast.Int("200", ""))
	typed.Type = ast.Named("u8")
	e := &ast.Block{
		Stmts: []ast.Stmt{typed},
		Tail: &ast.Binary{
			Op: "==",
			X:  ast.CallName("f", id("y")),
			Y:  eval(add(id("y"), ast.Int("1", ""))),
		},
	}

	x := NewExtractor()
	got, err := x.Extract(e)
	require.NoError(t, err)

	assert.Equal(t, "{ let y: u8 = 200; f(y) == __attest_eval_0 }", ast.Render(got))
	require.Len(t, x.Nodes(), 1)
	assert.Equal(t, "{ let y: u8 = 200; y + 1 }", ast.Render(x.Nodes()[0].Term))
}

func TestExtract_BranchesDoNotLeak(t *testing.T) {
	e := &ast.If{
		Cond: id("p"),
		Then: &ast.Block{Stmts: []ast.Stmt{let("a", ast.Int("1", "u8"))}, Tail: eval(id("a"))},
		Else: &ast.Block{Tail: eval(id("a"))},
	}

	x := NewExtractor()
	_, err := x.Extract(e)
	require.NoError(t, err)

	require.Len(t, x.Nodes(), 2)
	assert.Equal(t, "{ let a = 1u8; a }", ast.Render(x.Nodes()[0].Term))
	assert.Equal(t, "{ a }", ast.Render(x.Nodes()[1].Term))
}

func TestExtract_MatchArmsAndIfLet(t *testing.T) {
	some := func(name string) ast.Pat {
		return &ast.TupleStructPat{Path: []string{"Some"}, Elems: []ast.Pat{ast.BindingPat(name, false)}}
	}
	e := &ast.Match{X: id("o"), Arms: []*ast.Arm{
		{Pat: some("v"), Body: eval(add(id("v"), ast.Int("1", "u8")))},
		{Pat: &ast.WildPat{}, Body: &ast.If{
			Cond: &ast.Let{Pat: some("w"), X: id("q")},
			Then: &ast.Block{Tail: eval(id("w"))},
			Else: &ast.Block{Tail: eval(id("v"))},
		}},
	}}

	x := NewExtractor("abstractions::*")
	got, err := x.Extract(e)
	require.NoError(t, err)

	assert.Equal(t, "match o { Some(v) => __attest_eval_0, _ => if let Some(w) = q { __attest_eval_1 } else { __attest_eval_2 } }", ast.Render(got))
	nodes := x.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "{ use abstractions::*; let Some(v) = o else { unreachable!() }; v + 1u8 }", ast.Render(nodes[0].Term))
	assert.Equal(t, "{ use abstractions::*; let Some(w) = q else { unreachable!() }; w }", ast.Render(nodes[1].Term))
	assert.Equal(t, "{ use abstractions::*; v }", ast.Render(nodes[2].Term))
}

func TestExtract_PlaceholdersUniqueAcrossCalls(t *testing.T) {
	x := NewExtractor()
	pre, err := x.Extract(eval(id("a")))
	require.NoError(t, err)
	post, err := x.Extract(eval(id("b")))
	require.NoError(t, err)

	assert.Equal(t, "__attest_eval_0", ast.Render(pre))
	assert.Equal(t, "__attest_eval_1", ast.Render(post))
}

func TestExtract_NestedItemFails(t *testing.T) {
	x := NewExtractor()
	_, err := x.Extract(&ast.Block{Stmts: []ast.Stmt{&ast.ItemStmt{Source: "struct S;"}}})
	assert.ErrorIs(t, err, subst.ErrNestedItem)
}

// TestExtract_MinimalityProperty checks, over random binding chains with
// unique names, that the hoisted bindings are exactly the transitive
// dependencies of the marked expression.
func TestExtract_MinimalityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hoisted bindings are the dependency closure", prop.ForAll(
		func(seed int64, size int) bool {
			r := rand.New(rand.NewSource(seed))
			deps := make([][]int, size)
			stmts := make([]ast.Stmt, size)
			for i := 0; i < size; i++ {
				var rhs ast.Expr = ast.Int(fmt.Sprint(i), "u8")
				for j := 0; j < i; j++ {
					if r.Intn(3) == 0 {
						deps[i] = append(deps[i], j)
						rhs = add(rhs, id(fmt.Sprintf("v%d", j)))
					}
				}
				stmts[i] = let(fmt.Sprintf("v%d", i), rhs)
			}
			var inner ast.Expr = ast.Int("0", "u8")
			want := map[string]bool{}
			var mark func(int)
			mark = func(i int) {
				name := fmt.Sprintf("v%d", i)
				if want[name] {
					return
				}
				want[name] = true
				for _, j := range deps[i] {
					mark(j)
				}
			}
			for i := 0; i < size; i++ {
				if r.Intn(4) == 0 {
					inner = add(inner, id(fmt.Sprintf("v%d", i)))
					mark(i)
				}
			}

			x := NewExtractor()
			if _, err := x.Extract(&ast.Block{Stmts: stmts, Tail: eval(inner)}); err != nil {
				return false
			}
			term := x.Nodes()[0].Term.(*ast.Block)
			if len(term.Stmts) != len(want) {
				return false
			}
			for _, s := range term.Stmts {
				name := s.(*ast.LetStmt).Pat.(*ast.IdentPat).Name
				if !want[name] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 12),
	))

	properties.TestingRun(t)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contract

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/partial"
)

func id(name string) *ast.Ident { return ast.NewIdent(name) }

func add(x, y ast.Expr) *ast.Binary { return &ast.Binary{Op: "+", X: x, Y: y} }

func lt(x, y ast.Expr) *ast.Binary { return &ast.Binary{Op: "<", X: x, Y: y} }

func eq(x, y ast.Expr) *ast.Binary { return &ast.Binary{Op: "==", X: x, Y: y} }

func u8Input(name string, aliases ...string) Input {
	return Input{Name: name, Kind: ValueKind{Type: ast.Named("u8"), Aliases: aliases}}
}

func TestInstantiateInput_DualName(t *testing.T) {
	c := &Contract{
		Inputs:        []Input{u8Input("x", "x_old"), u8Input("y")},
		Precondition:  lt(id("x"), id("x_old")),
		Postcondition: eq(add(id("x"), id("y")), add(id("x_old"), id("y"))),
	}

	require.NoError(t, c.InstantiateInput("x", SimpleValue{Expr: ast.Int("3", "u8")}))

	assert.Equal(t, "3u8 < 3u8", ast.Render(c.Precondition))
	assert.Equal(t, "3u8 + y == 3u8 + y", ast.Render(c.Postcondition))
	require.Len(t, c.Inputs, 1)
	assert.Equal(t, "y", c.Inputs[0].Name)
}

func TestInstantiateInput_RespectsShadowing(t *testing.T) {
	c := &Contract{
		Inputs:        []Input{u8Input("x")},
		Precondition:  ast.Bool(true),
		Postcondition: add(id("x"), &ast.Block{Stmts: []ast.Stmt{&ast.LetStmt{Pat: ast.BindingPat("x", false), Init: ast.Int("1", "u8")}}, Tail: id("x")}),
	}
	require.NoError(t, c.InstantiateInput("x", SimpleValue{Expr: ast.Int("9", "u8")}))
	assert.Equal(t, "9u8 + { let x = 1u8; x }", ast.Render(c.Postcondition))
}

func TestInstantiateInput_RewritesLaterInputs(t *testing.T) {
	c := &Contract{
		Inputs: []Input{
			{Name: "n", Kind: ValueKind{Type: ast.Named("usize")}},
			{Name: "a", Kind: ValueKind{Type: &ast.ArrayType{Elem: ast.Named("u8"), Len: id("n")}}},
		},
		Precondition:  ast.Bool(true),
		Postcondition: ast.Bool(true),
	}
	require.NoError(t, c.InstantiateInput("n", SimpleValue{Expr: ast.Int("4", "")}))
	require.Len(t, c.Inputs, 1)
	assert.Equal(t, "[u8; 4]", ast.Render(c.Inputs[0].Kind.(ValueKind).Type))
}

func TestInstantiateInput_Type(t *testing.T) {
	c := &Contract{
		Inputs: []Input{
			{Name: "T", Kind: TypeKind{Bounds: &ast.WhereClause{Predicates: []*ast.WherePredicate{{Bounded: ast.Named("T"), Bounds: []ast.Type{ast.Named("Ord")}}}}}},
			{Name: "v", Kind: ValueKind{Type: &ast.TypePath{Segments: []string{"Vec"}, Args: []ast.Type{ast.Named("T")}}}},
		},
		Precondition:  ast.Bool(true),
		Postcondition: &ast.Cast{X: id("v"), Type: ast.Named("T")},
	}
	require.NoError(t, c.InstantiateInput("T", SimpleType{Type: ast.Named("i32")}))

	assert.Equal(t, "v as i32", ast.Render(c.Postcondition))
	assert.Equal(t, "Vec<i32>", ast.Render(c.Inputs[0].Kind.(ValueKind).Type))
}

func TestInstantiateInput_ComplexValue(t *testing.T) {
	c := &Contract{
		Inputs:        []Input{u8Input("v", "w")},
		Precondition:  ast.Bool(true),
		Postcondition: eq(id("v"), id("w")),
	}
	value := ComplexValue{
		Bindings: []Binding{{Pat: ast.BindingPat("base", false), Init: ast.Int("2", "u8")}},
		Mutable:  true,
		RHS:      add(id("base"), ast.Int("1", "u8")),
	}
	require.NoError(t, c.InstantiateInput("v", value))

	assert.Equal(t,
		"{ let base = 2u8; let mut v = base + 1u8; let base = 2u8; let mut w = base + 1u8; v == w }",
		ast.Render(c.Postcondition))
	assert.Equal(t,
		"{ let base = 2u8; let mut v = base + 1u8; let base = 2u8; let mut w = base + 1u8; true }",
		ast.Render(c.Precondition))
	assert.Empty(t, c.Inputs)
}

func TestInstantiateInput_Errors(t *testing.T) {
	c := &Contract{
		Inputs:        []Input{u8Input("x"), {Name: "T", Kind: TypeKind{}}},
		Precondition:  ast.Bool(true),
		Postcondition: ast.Bool(true),
	}

	assert.ErrorIs(t, c.InstantiateInput("z", SimpleValue{Expr: ast.Int("1", "")}), ErrUnknownInput)
	assert.ErrorIs(t, c.InstantiateInput("x", SimpleType{Type: ast.Named("u8")}), ErrUnsupportedInputKind)
	assert.ErrorIs(t, c.InstantiateInput("T", SimpleValue{Expr: ast.Int("1", "")}), ErrUnsupportedInputKind)
	assert.ErrorIs(t, c.InstantiateInput("z", SimpleValue{}), ErrInvariant)
	assert.Len(t, c.Inputs, 2)
}

func TestClone_IsIndependent(t *testing.T) {
	seed := int64(7)
	c := &Contract{
		Inputs:        []Input{u8Input("x")},
		Precondition:  ast.Bool(true),
		Postcondition: id("x"),
		Dependencies:  Dependencies{"num": {Version: "1", Features: []string{"std"}}},
		Seed:          &seed,
	}
	d := c.Clone()
	require.NoError(t, d.InstantiateInput("x", SimpleValue{Expr: ast.Int("1", "u8")}))
	d.Dependencies["num"].Features[0] = "alloc"
	*d.Seed = 8

	assert.Len(t, c.Inputs, 1)
	assert.Equal(t, "x", ast.Render(c.Postcondition))
	assert.Equal(t, "std", c.Dependencies["num"].Features[0])
	assert.Equal(t, int64(7), *c.Seed)
}

func TestTypedPrecondition(t *testing.T) {
	c := &Contract{
		Inputs:       []Input{u8Input("x", "y")},
		Precondition: lt(id("y"), ast.Int("10", "u8")),
	}
	pre, err := c.TypedPrecondition()
	require.NoError(t, err)
	require.Len(t, pre.Params, 1)
	assert.Equal(t, "x", pre.Params[0].Name)
	assert.Equal(t, "x < 10u8", ast.Render(pre.Predicate))

	c.Inputs = append(c.Inputs, Input{Name: "T", Kind: TypeKind{}})
	_, err = c.TypedPrecondition()
	assert.ErrorIs(t, err, ErrUnsupportedInputKind)
}

func TestExtractEvalNodesAndSubstNames(t *testing.T) {
	c := &Contract{
		Precondition:  ast.Bool(true),
		Postcondition: eq(ast.CallName("f", ast.Int("2", "u8")), ast.CallName(partial.MarkerName, add(ast.Int("1", "u8"), ast.Int("1", "u8")))),
	}
	x := partial.NewExtractor()
	nodes, err := c.ExtractEvalNodes(x)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "f(2u8) == __attest_eval_0", ast.Render(c.Postcondition))

	require.NoError(t, c.SubstNames(map[string]ast.Expr{nodes[0].Placeholder: &ast.Verbatim{Text: "2u8"}}))
	assert.Equal(t, "assert!(f(2u8) == 2u8)", ast.Render(c.Assertion()))
}

func TestDependencies(t *testing.T) {
	yes := true
	a := Dependencies{"serde": {Version: "1", Features: []string{"derive", "std"}}}
	b := Dependencies{"serde": {Version: "1", Features: []string{"std", "derive"}}, "num": {Version: "0.4"}}
	c := Dependencies{"serde": {Version: "1", DefaultFeatures: &yes}}

	assert.True(t, a.Compatible(b))
	assert.False(t, a.Compatible(c))

	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.Len(t, merged, 2)
	assert.Len(t, a, 1)

	_, err = merged.Merge(c)
	assert.ErrorIs(t, err, ErrDependencyConflict)
}

func TestDependencies_Normalize(t *testing.T) {
	base := t.TempDir()
	d := Dependencies{
		"local": {Path: "../crate"},
		"abs":   {Path: "/opt/crate"},
		"reg":   {Version: "1"},
	}
	require.NoError(t, d.Normalize(base))
	assert.Equal(t, filepath.Join(filepath.Dir(base), "crate"), d["local"].Path)
	assert.Equal(t, "/opt/crate", d["abs"].Path)
	assert.Empty(t, d["reg"].Path)
}

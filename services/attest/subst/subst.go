// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subst implements scope-aware rewriting of expression trees.
//
// # Description
//
// A walk keeps two name sets: bound (names introduced by enclosing
// binders, restored on scope exit) and free (names referenced while not
// bound). At every expression and type node a Policy is consulted before
// descending; it either continues or replaces the node and stops.
//
// Binders and their scopes:
//
//   - `let P = init;` binds P for the rest of the block; init is outside.
//   - `if let P = x { then } else { .. }` binds P in then only.
//   - `|params| body` binds params in body only.
//   - `match x { P if guard => body }` binds P in guard and body, per arm.
//   - generic parameters are bound from their declaration onward, their
//     own bounds are outside.
//
// # Thread Safety
//
// All functions are safe for concurrent use; trees are never mutated.
package subst

import "github.com/AleutianAI/AleutianAttest/services/attest/ast"

// Expr rewrites e with p.
func Expr(e ast.Expr, p Policy) (ast.Expr, error) {
	w := newWalker(p)
	out := w.expr(e)
	if w.err != nil {
		return nil, w.err
	}
	return out, nil
}

// Type rewrites t with p.
func Type(t ast.Type, p Policy) (ast.Type, error) {
	w := newWalker(p)
	out := w.typ(t)
	if w.err != nil {
		return nil, w.err
	}
	return out, nil
}

// WhereClause rewrites every predicate of c with p.
func WhereClause(c *ast.WhereClause, p Policy) (*ast.WhereClause, error) {
	w := newWalker(p)
	out := w.where(c)
	if w.err != nil {
		return nil, w.err
	}
	return out, nil
}

// Generic rewrites a generic parameter list together with the where
// clause and type it scopes over. Names declared by g are bound inside
// where and t.
func Generic(g *ast.Generics, where *ast.WhereClause, t ast.Type, p Policy) (*ast.Generics, *ast.WhereClause, ast.Type, error) {
	w := newWalker(p)
	g2 := w.generics(g)
	where2 := w.where(where)
	t2 := w.typ(t)
	if w.err != nil {
		return nil, nil, nil, w.err
	}
	return g2, where2, t2, nil
}

// ExprName replaces the free occurrences of name in e with with.
func ExprName(e ast.Expr, name string, with ast.Expr) (ast.Expr, error) {
	return Expr(e, ReplaceName{Name: name, With: with})
}

// TypeName replaces the free occurrences of the type name in e with with.
func TypeName(e ast.Expr, name string, with ast.Type) (ast.Expr, error) {
	return Expr(e, ReplaceTypeName{Name: name, With: with})
}

// FreeVars returns the names e references without binding them.
func FreeVars(e ast.Expr) (Set, error) {
	w := newWalker(Noop{})
	w.expr(e)
	if w.err != nil {
		return nil, w.err
	}
	return w.free, nil
}

// TypeFreeVars returns the names t references, including names used in
// array length expressions.
func TypeFreeVars(t ast.Type) (Set, error) {
	w := newWalker(Noop{})
	w.typ(t)
	if w.err != nil {
		return nil, w.err
	}
	return w.free, nil
}

// PatBinders returns the names p binds.
func PatBinders(p ast.Pat) (Set, error) {
	w := newWalker(Noop{})
	w.bind(p)
	if w.err != nil {
		return nil, w.err
	}
	return w.bound, nil
}

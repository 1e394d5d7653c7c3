// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subst

import (
	"fmt"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
)

// =============================================================================
// POLICY
// =============================================================================

// Verdict tells the walker what to do after consulting a Policy.
type Verdict int

const (
	// Continue leaves the node in place and descends into it.
	Continue Verdict = iota

	// Stop replaces the node with the returned one and does not descend.
	// The replacement comes from outside the current scope, so it is not
	// walked for shadowing either.
	Stop
)

// Policy decides, node by node, whether a rewrite happens.
//
// bound holds the names introduced by enclosing binders at the visited
// node. Policies must not retain or modify it.
type Policy interface {
	Expr(bound Set, e ast.Expr) (ast.Expr, Verdict, error)
	Type(bound Set, t ast.Type) (ast.Type, Verdict, error)
}

// Noop never rewrites. Walking with it only collects names.
type Noop struct{}

// Expr implements Policy.
func (Noop) Expr(_ Set, e ast.Expr) (ast.Expr, Verdict, error) { return e, Continue, nil }

// Type implements Policy.
func (Noop) Type(_ Set, t ast.Type) (ast.Type, Verdict, error) { return t, Continue, nil }

// =============================================================================
// NAME REPLACEMENT
// =============================================================================

// ReplaceName replaces every free occurrence of the expression name Name.
//
// Positional references `Name(n)` and `Name()` select Instances[n]. When
// Instances is empty every positional reference resolves to With, which is
// how contract instantiation uses it: one value per input, whatever n.
type ReplaceName struct {
	Name      string
	With      ast.Expr
	Instances []ast.Expr
}

// Expr implements Policy.
func (r ReplaceName) Expr(bound Set, e ast.Expr) (ast.Expr, Verdict, error) {
	if bound.Has(r.Name) {
		return e, Continue, nil
	}
	switch n := e.(type) {
	case *ast.Ident:
		if n.Name == r.Name {
			return r.With, Stop, nil
		}
	case *ast.Call:
		nth, ok := positional(n, r.Name)
		if !ok {
			break
		}
		if len(r.Instances) == 0 {
			return r.With, Stop, nil
		}
		if nth >= uint64(len(r.Instances)) {
			return e, Stop, fmt.Errorf("%w: %s(%d) with %d instances", ErrPositionalOutOfRange, r.Name, nth, len(r.Instances))
		}
		return r.Instances[nth], Stop, nil
	}
	return e, Continue, nil
}

// Type implements Policy.
func (ReplaceName) Type(_ Set, t ast.Type) (ast.Type, Verdict, error) { return t, Continue, nil }

// ReplaceNames replaces free occurrences of several expression names at
// once. A positional reference `name(n)` resolves to the same value for
// every n.
type ReplaceNames map[string]ast.Expr

// Expr implements Policy.
func (r ReplaceNames) Expr(bound Set, e ast.Expr) (ast.Expr, Verdict, error) {
	switch n := e.(type) {
	case *ast.Ident:
		if with, ok := r[n.Name]; ok && !bound.Has(n.Name) {
			return with, Stop, nil
		}
	case *ast.Call:
		name, ok := ast.AsIdent(n.Func)
		if !ok || bound.Has(name) {
			break
		}
		if with, ok := r[name]; ok {
			if _, ok := positional(n, name); ok {
				return with, Stop, nil
			}
		}
	}
	return e, Continue, nil
}

// Type implements Policy.
func (ReplaceNames) Type(_ Set, t ast.Type) (ast.Type, Verdict, error) { return t, Continue, nil }

// ReplaceTypeName replaces every free occurrence of the type name Name.
type ReplaceTypeName struct {
	Name string
	With ast.Type
}

// Expr implements Policy.
func (ReplaceTypeName) Expr(_ Set, e ast.Expr) (ast.Expr, Verdict, error) { return e, Continue, nil }

// Type implements Policy.
func (r ReplaceTypeName) Type(bound Set, t ast.Type) (ast.Type, Verdict, error) {
	if name, ok := ast.TypeIdent(t); ok && name == r.Name && !bound.Has(name) {
		return r.With, Stop, nil
	}
	return t, Continue, nil
}

// positional recognizes `name()` and `name(<int literal>)`.
func positional(call *ast.Call, name string) (uint64, bool) {
	callee, ok := ast.AsIdent(call.Func)
	if !ok || callee != name {
		return 0, false
	}
	switch len(call.Args) {
	case 0:
		return 0, true
	case 1:
		lit, ok := call.Args[0].(*ast.Lit)
		if !ok {
			return 0, false
		}
		return ast.IntLitValue(lit)
	}
	return 0, false
}

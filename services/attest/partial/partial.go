// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package partial hoists `eval(...)` subexpressions out of contract
// conditions into closed terms that can be run for real.
//
// Each marked subexpression is replaced by a placeholder identifier. The
// term registered for it consists of the minimal prefix of enclosing
// bindings the subexpression depends on, followed by the subexpression.
package partial

import (
	"fmt"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/subst"
)

// MarkerName is the callee marking a subexpression for evaluation.
const MarkerName = "eval"

// PlaceholderPrefix starts every generated placeholder name.
const PlaceholderPrefix = "__attest_eval_"

// EvalNode is one hoisted term, valid until its placeholder is substituted
// back.
type EvalNode struct {
	Placeholder string
	Term        ast.Expr
}

// binding is one observed `pattern[: typ] = rhs` pair on the walk.
type binding struct {
	pat ast.Pat
	typ ast.Type
	rhs ast.Expr
}

// Extractor collects EvalNodes across every expression it is run on.
// Placeholders are unique per Extractor.
//
// Thread Safety: Not safe for concurrent use.
type Extractor struct {
	// Uses are prepended to every term, e.g. `abstractions::*`.
	Uses []string

	stack []binding
	nodes []EvalNode
	err   error
}

// NewExtractor returns an Extractor whose terms import uses.
func NewExtractor(uses ...string) *Extractor {
	return &Extractor{Uses: uses}
}

// Nodes returns the terms extracted so far, in discovery order.
func (x *Extractor) Nodes() []EvalNode {
	return x.nodes
}

// Extract rewrites e, replacing every eval marker with a fresh
// placeholder.
func (x *Extractor) Extract(e ast.Expr) (ast.Expr, error) {
	x.stack = x.stack[:0]
	out := x.expr(e)
	if x.err != nil {
		err := x.err
		x.err = nil
		return nil, err
	}
	return out, nil
}

func (x *Extractor) fail(err error) {
	if x.err == nil {
		x.err = err
	}
}

// snapshot runs f and restores the binding stack afterwards.
func (x *Extractor) snapshot(f func()) {
	saved := append([]binding(nil), x.stack...)
	f()
	x.stack = saved
}

func (x *Extractor) push(pat ast.Pat, typ ast.Type, rhs ast.Expr) {
	x.stack = append(x.stack, binding{pat: pat, typ: typ, rhs: rhs})
}

// =============================================================================
// HOISTING
// =============================================================================

// hoist registers inner as a closed term and returns its placeholder.
func (x *Extractor) hoist(inner ast.Expr) ast.Expr {
	needed, err := subst.FreeVars(inner)
	if err != nil {
		x.fail(err)
		return inner
	}

	var kept []binding
	for i := len(x.stack) - 1; i >= 0; i-- {
		b := x.stack[i]
		binders, err := subst.PatBinders(b.pat)
		if err != nil {
			x.fail(err)
			return inner
		}
		if !binders.Intersects(needed) {
			continue
		}
		rhsVars, err := subst.FreeVars(b.rhs)
		if err != nil {
			x.fail(err)
			return inner
		}
		needed.AddAll(rhsVars)
		kept = append(kept, b)
	}

	stmts := make([]ast.Stmt, 0, len(x.Uses)+len(kept))
	for _, use := range x.Uses {
		stmts = append(stmts, &ast.UseStmt{Path: use})
	}
	for i := len(kept) - 1; i >= 0; i-- {
		b := kept[i]
		let := &ast.LetStmt{Pat: b.pat, Type: b.typ, Init: b.rhs}
		if ast.IsRefutable(b.pat) {
			let.Else = &ast.Block{Tail: &ast.Macro{Name: "unreachable"}}
		}
		stmts = append(stmts, let)
	}

	name := fmt.Sprintf("%s%d", PlaceholderPrefix, len(x.nodes))
	x.nodes = append(x.nodes, EvalNode{
		Placeholder: name,
		Term:        &ast.Block{Stmts: stmts, Tail: inner},
	})
	return ast.NewIdent(name)
}

func marked(e ast.Expr) (ast.Expr, bool) {
	call, ok := e.(*ast.Call)
	if !ok || len(call.Args) != 1 {
		return nil, false
	}
	if name, ok := ast.AsIdent(call.Func); !ok || name != MarkerName {
		return nil, false
	}
	return call.Args[0], true
}

// =============================================================================
// WALK
// =============================================================================

func (x *Extractor) expr(e ast.Expr) ast.Expr {
	if e == nil || x.err != nil {
		return e
	}
	if inner, ok := marked(e); ok {
		return x.hoist(inner)
	}

	switch n := e.(type) {
	case *ast.Ident, *ast.Path, *ast.Lit, *ast.Verbatim:
		return e
	case *ast.Unary:
		return &ast.Unary{Op: n.Op, X: x.expr(n.X)}
	case *ast.Ref:
		return &ast.Ref{Mut: n.Mut, X: x.expr(n.X)}
	case *ast.Binary:
		l := x.expr(n.X)
		return &ast.Binary{Op: n.Op, X: l, Y: x.expr(n.Y)}
	case *ast.Cast:
		return &ast.Cast{X: x.expr(n.X), Type: n.Type}
	case *ast.Paren:
		return &ast.Paren{X: x.expr(n.X)}
	case *ast.Call:
		fn := x.expr(n.Func)
		return &ast.Call{Func: fn, Args: x.exprs(n.Args)}
	case *ast.MethodCall:
		recv := x.expr(n.Recv)
		return &ast.MethodCall{Recv: recv, Method: n.Method, Generics: n.Generics, Args: x.exprs(n.Args)}
	case *ast.Field:
		return &ast.Field{X: x.expr(n.X), Name: n.Name}
	case *ast.Index:
		v := x.expr(n.X)
		return &ast.Index{X: v, Index: x.expr(n.Index)}
	case *ast.Tuple:
		return &ast.Tuple{Elems: x.exprs(n.Elems)}
	case *ast.Array:
		return &ast.Array{Elems: x.exprs(n.Elems)}
	case *ast.Block:
		return x.block(n)
	case *ast.If:
		return x.ifExpr(n)
	case *ast.Let:
		return &ast.Let{Pat: n.Pat, X: x.expr(n.X)}
	case *ast.Match:
		scrutinee := x.expr(n.X)
		var arms []*ast.Arm
		if n.Arms != nil {
			arms = make([]*ast.Arm, len(n.Arms))
		}
		for i, arm := range n.Arms {
			x.snapshot(func() {
				x.push(arm.Pat, nil, n.X)
				guard := x.expr(arm.Guard)
				arms[i] = &ast.Arm{Pat: arm.Pat, Guard: guard, Body: x.expr(arm.Body)}
			})
		}
		return &ast.Match{X: scrutinee, Arms: arms}
	case *ast.Closure:
		var body ast.Expr
		x.snapshot(func() { body = x.expr(n.Body) })
		return &ast.Closure{Move: n.Move, Params: n.Params, Ret: n.Ret, Body: body}
	case *ast.Macro:
		return &ast.Macro{Name: n.Name, Brackets: n.Brackets, Args: x.exprs(n.Args)}
	case *ast.Range:
		lo := x.expr(n.Lo)
		return &ast.Range{Lo: lo, Hi: x.expr(n.Hi), Inclusive: n.Inclusive}
	default:
		x.fail(fmt.Errorf("%w: %T", subst.ErrUnsupportedNode, e))
		return e
	}
}

func (x *Extractor) exprs(es []ast.Expr) []ast.Expr {
	if es == nil {
		return nil
	}
	out := make([]ast.Expr, len(es))
	for i, e := range es {
		out[i] = x.expr(e)
	}
	return out
}

func (x *Extractor) block(b *ast.Block) *ast.Block {
	if b == nil {
		return nil
	}
	var out *ast.Block
	x.snapshot(func() {
		var stmts []ast.Stmt
		if b.Stmts != nil {
			stmts = make([]ast.Stmt, len(b.Stmts))
		}
		for i, s := range b.Stmts {
			stmts[i] = x.stmt(s)
		}
		out = &ast.Block{Stmts: stmts, Tail: x.expr(b.Tail)}
	})
	return out
}

func (x *Extractor) stmt(s ast.Stmt) ast.Stmt {
	switch n := s.(type) {
	case *ast.LetStmt:
		init := x.expr(n.Init)
		els := x.block(n.Else)
		if n.Init != nil {
			// Unrewritten: a term never refers to another term's
			// placeholder, and eval is the identity at run time.
			x.push(n.Pat, n.Type, n.Init)
		}
		return &ast.LetStmt{Pat: n.Pat, Type: n.Type, Init: init, Else: els}
	case *ast.ExprStmt:
		return &ast.ExprStmt{X: x.expr(n.X), Semi: n.Semi}
	case *ast.UseStmt:
		return n
	case *ast.ItemStmt:
		x.fail(subst.ErrNestedItem)
		return n
	default:
		x.fail(fmt.Errorf("%w: %T", subst.ErrUnsupportedNode, s))
		return s
	}
}

func (x *Extractor) ifExpr(n *ast.If) ast.Expr {
	cond := x.expr(n.Cond)
	var then *ast.Block
	x.snapshot(func() {
		if let, ok := n.Cond.(*ast.Let); ok {
			x.push(let.Pat, nil, let.X)
		}
		then = x.block(n.Then)
	})
	var els ast.Expr
	x.snapshot(func() { els = x.expr(n.Else) })
	return &ast.If{Cond: cond, Then: then, Else: els}
}

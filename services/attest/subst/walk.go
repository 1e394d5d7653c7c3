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

// walker rebuilds a tree while tracking which names are bound at each
// node. The first error stops all further rewriting.
type walker struct {
	policy Policy
	bound  Set
	free   Set
	err    error
}

func newWalker(p Policy) *walker {
	if p == nil {
		p = Noop{}
	}
	return &walker{policy: p, bound: NewSet(), free: NewSet()}
}

func (w *walker) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// scope runs f and then forgets every binder f introduced.
func (w *walker) scope(f func()) {
	saved := w.bound.Clone()
	f()
	w.bound = saved
}

func (w *walker) use(name string) {
	if !w.bound.Has(name) {
		w.free.Add(name)
	}
}

// =============================================================================
// EXPRESSIONS
// =============================================================================

func (w *walker) expr(e ast.Expr) ast.Expr {
	if e == nil || w.err != nil {
		return e
	}
	out, verdict, err := w.policy.Expr(w.bound, e)
	if err != nil {
		w.fail(err)
		return e
	}
	if verdict == Stop {
		return out
	}

	switch n := e.(type) {
	case *ast.Ident:
		w.use(n.Name)
		return n
	case *ast.Path:
		if len(n.Segments) == 1 {
			w.use(n.Segments[0])
		}
		return &ast.Path{Segments: n.Segments, Generics: w.types(n.Generics)}
	case *ast.Lit, *ast.Verbatim:
		return e
	case *ast.Unary:
		return &ast.Unary{Op: n.Op, X: w.expr(n.X)}
	case *ast.Ref:
		return &ast.Ref{Mut: n.Mut, X: w.expr(n.X)}
	case *ast.Binary:
		x := w.expr(n.X)
		return &ast.Binary{Op: n.Op, X: x, Y: w.expr(n.Y)}
	case *ast.Cast:
		x := w.expr(n.X)
		return &ast.Cast{X: x, Type: w.typ(n.Type)}
	case *ast.Paren:
		return &ast.Paren{X: w.expr(n.X)}
	case *ast.Call:
		fn := w.expr(n.Func)
		return &ast.Call{Func: fn, Args: w.exprs(n.Args)}
	case *ast.MethodCall:
		recv := w.expr(n.Recv)
		generics := w.types(n.Generics)
		return &ast.MethodCall{Recv: recv, Method: n.Method, Generics: generics, Args: w.exprs(n.Args)}
	case *ast.Field:
		return &ast.Field{X: w.expr(n.X), Name: n.Name}
	case *ast.Index:
		x := w.expr(n.X)
		return &ast.Index{X: x, Index: w.expr(n.Index)}
	case *ast.Tuple:
		return &ast.Tuple{Elems: w.exprs(n.Elems)}
	case *ast.Array:
		return &ast.Array{Elems: w.exprs(n.Elems)}
	case *ast.Block:
		return w.block(n)
	case *ast.If:
		return w.ifExpr(n)
	case *ast.Let:
		w.fail(fmt.Errorf("%w: %s", ErrUnsupportedLetGuard, ast.Render(n)))
		return e
	case *ast.Match:
		return w.match(n)
	case *ast.Closure:
		var out *ast.Closure
		w.scope(func() {
			params := w.binds(n.Params)
			ret := w.typ(n.Ret)
			out = &ast.Closure{Move: n.Move, Params: params, Ret: ret, Body: w.expr(n.Body)}
		})
		return out
	case *ast.Macro:
		return &ast.Macro{Name: n.Name, Brackets: n.Brackets, Args: w.exprs(n.Args)}
	case *ast.Range:
		lo := w.expr(n.Lo)
		return &ast.Range{Lo: lo, Hi: w.expr(n.Hi), Inclusive: n.Inclusive}
	default:
		w.fail(fmt.Errorf("%w: %T", ErrUnsupportedNode, e))
		return e
	}
}

func (w *walker) exprs(es []ast.Expr) []ast.Expr {
	if es == nil {
		return nil
	}
	out := make([]ast.Expr, len(es))
	for i, e := range es {
		out[i] = w.expr(e)
	}
	return out
}

func (w *walker) block(b *ast.Block) *ast.Block {
	if b == nil {
		return nil
	}
	var out *ast.Block
	w.scope(func() {
		var stmts []ast.Stmt
		if b.Stmts != nil {
			stmts = make([]ast.Stmt, len(b.Stmts))
			for i, s := range b.Stmts {
				stmts[i] = w.stmt(s)
			}
		}
		out = &ast.Block{Stmts: stmts, Tail: w.expr(b.Tail)}
	})
	return out
}

func (w *walker) stmt(s ast.Stmt) ast.Stmt {
	if w.err != nil {
		return s
	}
	switch n := s.(type) {
	case *ast.LetStmt:
		// The initializer and the else block can not see the new binders.
		init := w.expr(n.Init)
		els := w.block(n.Else)
		typ := w.typ(n.Type)
		return &ast.LetStmt{Pat: w.bind(n.Pat), Type: typ, Init: init, Else: els}
	case *ast.ExprStmt:
		return &ast.ExprStmt{X: w.expr(n.X), Semi: n.Semi}
	case *ast.UseStmt:
		return n
	case *ast.ItemStmt:
		w.fail(ErrNestedItem)
		return n
	default:
		w.fail(fmt.Errorf("%w: %T", ErrUnsupportedNode, s))
		return s
	}
}

func (w *walker) ifExpr(n *ast.If) ast.Expr {
	let, ok := n.Cond.(*ast.Let)
	if !ok {
		cond := w.expr(n.Cond)
		then := w.block(n.Then)
		return &ast.If{Cond: cond, Then: then, Else: w.expr(n.Else)}
	}
	if n.Else == nil {
		w.fail(fmt.Errorf("%w: if let %s", ErrIfLetWithoutElse, ast.Render(let.Pat)))
		return n
	}

	var cond ast.Expr
	var then *ast.Block
	w.scope(func() {
		x := w.expr(let.X)
		cond = &ast.Let{Pat: w.bind(let.Pat), X: x}
		then = w.block(n.Then)
	})
	return &ast.If{Cond: cond, Then: then, Else: w.expr(n.Else)}
}

func (w *walker) match(n *ast.Match) ast.Expr {
	x := w.expr(n.X)
	var arms []*ast.Arm
	if n.Arms != nil {
		arms = make([]*ast.Arm, len(n.Arms))
	}
	for i, arm := range n.Arms {
		w.scope(func() {
			pat := w.bind(arm.Pat)
			guard := w.expr(arm.Guard)
			arms[i] = &ast.Arm{Pat: pat, Guard: guard, Body: w.expr(arm.Body)}
		})
	}
	return &ast.Match{X: x, Arms: arms}
}

// =============================================================================
// PATTERNS
// =============================================================================

// bind walks a pattern in binding position: identifiers become bound,
// while literal and range bounds and type ascriptions are ordinary uses.
func (w *walker) bind(p ast.Pat) ast.Pat {
	if p == nil || w.err != nil {
		return p
	}
	switch n := p.(type) {
	case *ast.IdentPat:
		sub := w.bind(n.Sub)
		w.bound.Add(n.Name)
		return &ast.IdentPat{Name: n.Name, ByRef: n.ByRef, Mut: n.Mut, Sub: sub}
	case *ast.WildPat, *ast.RestPat, *ast.PathPat:
		return p
	case *ast.TuplePat:
		return &ast.TuplePat{Elems: w.binds(n.Elems)}
	case *ast.TupleStructPat:
		return &ast.TupleStructPat{Path: n.Path, Elems: w.binds(n.Elems)}
	case *ast.LitPat:
		return &ast.LitPat{Lit: w.expr(n.Lit)}
	case *ast.RangePat:
		lo := w.expr(n.Lo)
		return &ast.RangePat{Lo: lo, Hi: w.expr(n.Hi), Inclusive: n.Inclusive}
	case *ast.RefPat:
		return &ast.RefPat{Mut: n.Mut, Pat: w.bind(n.Pat)}
	case *ast.OrPat:
		return &ast.OrPat{Alts: w.binds(n.Alts)}
	case *ast.TypedPat:
		typ := w.typ(n.Type)
		return &ast.TypedPat{Pat: w.bind(n.Pat), Type: typ}
	default:
		w.fail(fmt.Errorf("%w: %T", ErrUnsupportedNode, p))
		return p
	}
}

func (w *walker) binds(ps []ast.Pat) []ast.Pat {
	if ps == nil {
		return nil
	}
	out := make([]ast.Pat, len(ps))
	for i, p := range ps {
		out[i] = w.bind(p)
	}
	return out
}

// =============================================================================
// TYPES
// =============================================================================

func (w *walker) typ(t ast.Type) ast.Type {
	if t == nil || w.err != nil {
		return t
	}
	out, verdict, err := w.policy.Type(w.bound, t)
	if err != nil {
		w.fail(err)
		return t
	}
	if verdict == Stop {
		return out
	}

	switch n := t.(type) {
	case *ast.TypePath:
		if name, ok := ast.TypeIdent(n); ok {
			w.use(name)
		}
		return &ast.TypePath{Segments: n.Segments, Args: w.types(n.Args)}
	case *ast.RefType:
		return &ast.RefType{Mut: n.Mut, Elem: w.typ(n.Elem)}
	case *ast.TupleType:
		return &ast.TupleType{Elems: w.types(n.Elems)}
	case *ast.SliceType:
		return &ast.SliceType{Elem: w.typ(n.Elem)}
	case *ast.ArrayType:
		elem := w.typ(n.Elem)
		return &ast.ArrayType{Elem: elem, Len: w.expr(n.Len)}
	case *ast.InferType:
		return n
	default:
		w.fail(fmt.Errorf("%w: %T", ErrUnsupportedNode, t))
		return t
	}
}

func (w *walker) types(ts []ast.Type) []ast.Type {
	if ts == nil {
		return nil
	}
	out := make([]ast.Type, len(ts))
	for i, t := range ts {
		out[i] = w.typ(t)
	}
	return out
}

// generics binds each parameter after walking its own bounds, so a bound
// sees the parameters declared before it but not the parameter itself.
func (w *walker) generics(g *ast.Generics) *ast.Generics {
	if g == nil {
		return nil
	}
	var params []*ast.GenericParam
	if g.Params != nil {
		params = make([]*ast.GenericParam, len(g.Params))
	}
	for i, p := range g.Params {
		bounds := w.types(p.Bounds)
		cnst := w.typ(p.Const)
		w.bound.Add(p.Name)
		params[i] = &ast.GenericParam{Name: p.Name, Bounds: bounds, Const: cnst}
	}
	return &ast.Generics{Params: params}
}

func (w *walker) where(c *ast.WhereClause) *ast.WhereClause {
	if c == nil {
		return nil
	}
	var preds []*ast.WherePredicate
	if c.Predicates != nil {
		preds = make([]*ast.WherePredicate, len(c.Predicates))
	}
	for i, p := range c.Predicates {
		bounded := w.typ(p.Bounded)
		preds[i] = &ast.WherePredicate{Bounded: bounded, Bounds: w.types(p.Bounds)}
	}
	return &ast.WhereClause{Predicates: preds}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rustparse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
)

// converter turns one parsed tree into ast nodes.
type converter struct {
	p       *Parser
	ctx     context.Context
	src     string
	content []byte
	offset  int
}

func (c *converter) text(n *sitter.Node) string {
	return n.Content(c.content)
}

// fail reports err at n, in offsets of the original fragment.
func (c *converter) fail(n *sitter.Node, err error) error {
	off := int(n.StartByte()) - c.offset
	if off < 0 {
		off = 0
	}
	if off > len(c.src) {
		off = len(c.src)
	}
	return &Error{Source: c.src, Offset: off, Node: n.Type(), Err: err}
}

func (c *converter) unsupported(n *sitter.Node) error {
	return c.fail(n, ErrUnsupported)
}

// isExtra reports comment nodes, which may appear anywhere.
func isExtra(n *sitter.Node) bool {
	switch n.Type() {
	case "line_comment", "block_comment":
		return true
	}
	return false
}

// named returns the named children of n without comments.
func named(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); !isExtra(child) {
			out = append(out, child)
		}
	}
	return out
}

// operands returns the children of n that are not punctuation, keeping
// anonymous `_` which the grammar uses for wildcards.
func operands(n *sitter.Node, punct ...string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if isExtra(child) {
			continue
		}
		if !child.IsNamed() && child.Type() != "_" {
			continue
		}
		skip := false
		for _, p := range punct {
			if child.Type() == p {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, child)
		}
	}
	return out
}

// hasToken reports whether n has a direct anonymous child of kind.
func hasToken(n *sitter.Node, kind string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); !child.IsNamed() && child.Type() == kind {
			return true
		}
	}
	return false
}

// hasNamed reports whether n has a direct named child of kind.
func hasNamed(n *sitter.Node, kind string) bool {
	return firstNamed(n, kind) != nil
}

func (c *converter) wrapperBody(root *sitter.Node) (*sitter.Node, error) {
	fn := firstNamed(root, "function_item")
	if fn == nil {
		return nil, c.fail(root, fmt.Errorf("%w: not an expression", ErrSyntax))
	}
	body := fn.ChildByFieldName("body")
	if body == nil {
		return nil, c.fail(fn, fmt.Errorf("%w: not an expression", ErrSyntax))
	}
	// Anything after the wrapper means the fragment closed it early.
	if root.NamedChildCount() != 1 {
		return nil, c.fail(root, fmt.Errorf("%w: unbalanced braces", ErrSyntax))
	}
	return body, nil
}

func splitPath(text string) []string {
	parts := strings.Split(text, "::")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// =============================================================================
// BLOCKS AND STATEMENTS
// =============================================================================

func (c *converter) block(n *sitter.Node) (*ast.Block, error) {
	if n.Type() != "block" {
		return nil, c.fail(n, fmt.Errorf("%w: expected a block", ErrSyntax))
	}
	b := &ast.Block{}
	children := named(n)
	for i, child := range children {
		if child.Type() == "label" {
			return nil, c.unsupported(child)
		}
		if child.Type() == "empty_statement" {
			continue
		}
		last := i == len(children)-1
		if last && !isStatement(child) {
			tail, err := c.expr(child)
			if err != nil {
				return nil, err
			}
			b.Tail = tail
			break
		}
		// A trailing block-like expression without semicolon is the value.
		if last && child.Type() == "expression_statement" && !hasToken(child, ";") {
			tail, err := c.expr(named(child)[0])
			if err != nil {
				return nil, err
			}
			b.Tail = tail
			break
		}
		s, err := c.stmt(child)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	return b, nil
}

func isStatement(n *sitter.Node) bool {
	switch n.Type() {
	case "expression_statement", "let_declaration", "use_declaration":
		return true
	}
	return strings.HasSuffix(n.Type(), "_item") || n.Type() == "macro_definition"
}

func (c *converter) stmt(n *sitter.Node) (ast.Stmt, error) {
	switch n.Type() {
	case "expression_statement":
		inner := named(n)
		if len(inner) != 1 {
			return nil, c.unsupported(n)
		}
		x, err := c.expr(inner[0])
		if err != nil {
			return nil, err
		}
		return &ast.ExprStmt{X: x, Semi: hasToken(n, ";")}, nil
	case "let_declaration":
		return c.let(n)
	case "use_declaration":
		arg := n.ChildByFieldName("argument")
		if arg == nil {
			return nil, c.unsupported(n)
		}
		return &ast.UseStmt{Path: c.text(arg)}, nil
	}
	if isStatement(n) {
		return &ast.ItemStmt{Source: c.text(n)}, nil
	}
	return nil, c.unsupported(n)
}

func (c *converter) let(n *sitter.Node) (*ast.LetStmt, error) {
	patNode := n.ChildByFieldName("pattern")
	if patNode == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	pat, err := c.pat(patNode)
	if err != nil {
		return nil, err
	}
	if hasNamed(n, "mutable_specifier") {
		ip, ok := pat.(*ast.IdentPat)
		if !ok {
			return nil, c.unsupported(n)
		}
		ip.Mut = true
	}
	s := &ast.LetStmt{Pat: pat}
	if t := n.ChildByFieldName("type"); t != nil {
		if s.Type, err = c.typ(t); err != nil {
			return nil, err
		}
	}
	if v := n.ChildByFieldName("value"); v != nil {
		if s.Init, err = c.expr(v); err != nil {
			return nil, err
		}
	}
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		if alt.Type() == "else_clause" {
			alt = firstNamed(alt, "block")
		}
		if alt == nil {
			return nil, c.unsupported(n)
		}
		if s.Else, err = c.block(alt); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// =============================================================================
// EXPRESSIONS
// =============================================================================

func (c *converter) exprs(ns []*sitter.Node) ([]ast.Expr, error) {
	out := make([]ast.Expr, 0, len(ns))
	for _, n := range ns {
		e, err := c.expr(n)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *converter) field(n *sitter.Node, name string) (ast.Expr, error) {
	child := n.ChildByFieldName(name)
	if child == nil {
		return nil, c.fail(n, fmt.Errorf("%w: missing %s", ErrSyntax, name))
	}
	return c.expr(child)
}

func (c *converter) expr(n *sitter.Node) (ast.Expr, error) {
	switch n.Type() {
	case "identifier", "self":
		return ast.NewIdent(c.text(n)), nil
	case "scoped_identifier":
		if strings.Contains(c.text(n), "<") {
			return nil, c.unsupported(n)
		}
		return &ast.Path{Segments: splitPath(c.text(n))}, nil
	case "generic_function":
		return c.genericFunction(n)
	case "integer_literal":
		return &ast.Lit{Kind: ast.LitInt, Value: c.text(n)}, nil
	case "float_literal":
		return &ast.Lit{Kind: ast.LitFloat, Value: c.text(n)}, nil
	case "boolean_literal":
		return &ast.Lit{Kind: ast.LitBool, Value: c.text(n)}, nil
	case "string_literal", "raw_string_literal":
		return &ast.Lit{Kind: ast.LitStr, Value: c.text(n)}, nil
	case "char_literal":
		return &ast.Lit{Kind: ast.LitChar, Value: c.text(n)}, nil
	case "unary_expression":
		x := named(n)
		if len(x) != 1 || n.ChildCount() < 2 {
			return nil, c.unsupported(n)
		}
		inner, err := c.expr(x[0])
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: n.Child(0).Type(), X: inner}, nil
	case "reference_expression":
		x, err := c.field(n, "value")
		if err != nil {
			return nil, err
		}
		return &ast.Ref{Mut: hasNamed(n, "mutable_specifier"), X: x}, nil
	case "binary_expression", "compound_assignment_expr":
		return c.binary(n, "")
	case "assignment_expression":
		return c.binary(n, "=")
	case "type_cast_expression":
		x, err := c.field(n, "value")
		if err != nil {
			return nil, err
		}
		t, err := c.typ(n.ChildByFieldName("type"))
		if err != nil {
			return nil, err
		}
		return &ast.Cast{X: x, Type: t}, nil
	case "parenthesized_expression":
		x := named(n)
		if len(x) != 1 {
			return nil, c.unsupported(n)
		}
		inner, err := c.expr(x[0])
		if err != nil {
			return nil, err
		}
		return &ast.Paren{X: inner}, nil
	case "call_expression":
		return c.call(n)
	case "field_expression":
		x, err := c.field(n, "value")
		if err != nil {
			return nil, err
		}
		f := n.ChildByFieldName("field")
		if f == nil {
			return nil, c.fail(n, ErrSyntax)
		}
		return &ast.Field{X: x, Name: c.text(f)}, nil
	case "index_expression":
		parts := named(n)
		if len(parts) != 2 {
			return nil, c.unsupported(n)
		}
		x, err := c.exprs(parts)
		if err != nil {
			return nil, err
		}
		return &ast.Index{X: x[0], Index: x[1]}, nil
	case "unit_expression":
		return &ast.Tuple{}, nil
	case "tuple_expression":
		elems, err := c.exprs(named(n))
		if err != nil {
			return nil, err
		}
		return &ast.Tuple{Elems: elems}, nil
	case "array_expression":
		if n.ChildByFieldName("length") != nil {
			return nil, c.unsupported(n)
		}
		elems, err := c.exprs(named(n))
		if err != nil {
			return nil, err
		}
		return &ast.Array{Elems: elems}, nil
	case "block":
		return c.block(n)
	case "if_expression":
		return c.ifExpr(n)
	case "if_let_expression":
		return c.ifLet(n)
	case "let_condition":
		return c.letCond(n)
	case "let_chain":
		return c.letChain(n)
	case "match_expression":
		return c.match(n)
	case "closure_expression":
		return c.closure(n)
	case "macro_invocation":
		return c.macro(n)
	case "range_expression":
		return c.rangeExpr(n)
	}
	return nil, c.unsupported(n)
}

func (c *converter) binary(n *sitter.Node, op string) (ast.Expr, error) {
	x, err := c.field(n, "left")
	if err != nil {
		return nil, err
	}
	y, err := c.field(n, "right")
	if err != nil {
		return nil, err
	}
	if op == "" {
		o := n.ChildByFieldName("operator")
		if o == nil {
			return nil, c.fail(n, ErrSyntax)
		}
		op = o.Type()
	}
	return &ast.Binary{Op: op, X: x, Y: y}, nil
}

func (c *converter) typeArgs(n *sitter.Node) ([]ast.Type, error) {
	var out []ast.Type
	for _, child := range named(n) {
		if child.Type() == "lifetime" {
			continue
		}
		t, err := c.typ(child)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *converter) genericFunction(n *sitter.Node) (ast.Expr, error) {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("type_arguments")
	if fn == nil || args == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	generics, err := c.typeArgs(args)
	if err != nil {
		return nil, err
	}
	switch fn.Type() {
	case "identifier":
		return &ast.Path{Segments: []string{c.text(fn)}, Generics: generics}, nil
	case "scoped_identifier":
		return &ast.Path{Segments: splitPath(c.text(fn)), Generics: generics}, nil
	}
	return nil, c.unsupported(n)
}

func (c *converter) call(n *sitter.Node) (ast.Expr, error) {
	fn := n.ChildByFieldName("function")
	argsNode := n.ChildByFieldName("arguments")
	if fn == nil || argsNode == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	args, err := c.exprs(named(argsNode))
	if err != nil {
		return nil, err
	}

	var generics []ast.Type
	callee := fn
	if fn.Type() == "generic_function" {
		if inner := fn.ChildByFieldName("function"); inner != nil && inner.Type() == "field_expression" {
			if generics, err = c.typeArgs(fn.ChildByFieldName("type_arguments")); err != nil {
				return nil, err
			}
			callee = inner
		}
	}
	if callee.Type() == "field_expression" {
		recv, err := c.field(callee, "value")
		if err != nil {
			return nil, err
		}
		method := callee.ChildByFieldName("field")
		if method == nil {
			return nil, c.fail(callee, ErrSyntax)
		}
		return &ast.MethodCall{Recv: recv, Method: c.text(method), Generics: generics, Args: args}, nil
	}

	f, err := c.expr(fn)
	if err != nil {
		return nil, err
	}
	return &ast.Call{Func: f, Args: args}, nil
}

func (c *converter) ifExpr(n *sitter.Node) (ast.Expr, error) {
	cond, err := c.field(n, "condition")
	if err != nil {
		return nil, err
	}
	return c.ifRest(n, cond)
}

// ifLet handles grammars that model `if let` as its own node.
func (c *converter) ifLet(n *sitter.Node) (ast.Expr, error) {
	pat, err := c.pat(n.ChildByFieldName("pattern"))
	if err != nil {
		return nil, err
	}
	x, err := c.field(n, "value")
	if err != nil {
		return nil, err
	}
	return c.ifRest(n, &ast.Let{Pat: pat, X: x})
}

func (c *converter) ifRest(n *sitter.Node, cond ast.Expr) (ast.Expr, error) {
	conseq := n.ChildByFieldName("consequence")
	if conseq == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	then, err := c.block(conseq)
	if err != nil {
		return nil, err
	}
	out := &ast.If{Cond: cond, Then: then}
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		if alt.Type() == "else_clause" {
			parts := named(alt)
			if len(parts) != 1 {
				return nil, c.unsupported(alt)
			}
			alt = parts[0]
		}
		if out.Else, err = c.expr(alt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *converter) letCond(n *sitter.Node) (ast.Expr, error) {
	patNode := n.ChildByFieldName("pattern")
	if patNode == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	pat, err := c.pat(patNode)
	if err != nil {
		return nil, err
	}
	x, err := c.field(n, "value")
	if err != nil {
		return nil, err
	}
	return &ast.Let{Pat: pat, X: x}, nil
}

// letChain folds `let P = x && y && let Q = z` left to right over &&.
// Rewriting passes reject the nested lets.
func (c *converter) letChain(n *sitter.Node) (ast.Expr, error) {
	parts, err := c.exprs(named(n))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, c.fail(n, ErrSyntax)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out = &ast.Binary{Op: "&&", X: out, Y: p}
	}
	return out, nil
}

func (c *converter) match(n *sitter.Node) (ast.Expr, error) {
	x, err := c.field(n, "value")
	if err != nil {
		return nil, err
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	m := &ast.Match{X: x}
	for _, armNode := range named(body) {
		if armNode.Type() != "match_arm" {
			return nil, c.unsupported(armNode)
		}
		mp := armNode.ChildByFieldName("pattern")
		if mp == nil {
			return nil, c.fail(armNode, ErrSyntax)
		}
		arm := &ast.Arm{}
		patNode := mp
		if mp.Type() == "match_pattern" {
			ops := operands(mp)
			if len(ops) == 0 {
				return nil, c.fail(mp, ErrSyntax)
			}
			patNode = ops[0]
			if g := mp.ChildByFieldName("condition"); g != nil {
				if arm.Guard, err = c.expr(g); err != nil {
					return nil, err
				}
			}
		}
		if arm.Pat, err = c.pat(patNode); err != nil {
			return nil, err
		}
		if arm.Body, err = c.field(armNode, "value"); err != nil {
			return nil, err
		}
		m.Arms = append(m.Arms, arm)
	}
	return m, nil
}

func (c *converter) closure(n *sitter.Node) (ast.Expr, error) {
	cl := &ast.Closure{Move: hasToken(n, "move")}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for _, p := range operands(params) {
			var pat ast.Pat
			var err error
			if p.Type() == "parameter" {
				pat, err = c.param(p)
			} else {
				pat, err = c.pat(p)
			}
			if err != nil {
				return nil, err
			}
			cl.Params = append(cl.Params, pat)
		}
	}
	var err error
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		if cl.Ret, err = c.typ(ret); err != nil {
			return nil, err
		}
	}
	if cl.Body, err = c.field(n, "body"); err != nil {
		return nil, err
	}
	return cl, nil
}

func (c *converter) param(n *sitter.Node) (ast.Pat, error) {
	pat, err := c.pat(n.ChildByFieldName("pattern"))
	if err != nil {
		return nil, err
	}
	t := n.ChildByFieldName("type")
	if t == nil {
		return pat, nil
	}
	typ, err := c.typ(t)
	if err != nil {
		return nil, err
	}
	return &ast.TypedPat{Pat: pat, Type: typ}, nil
}

func (c *converter) macro(n *sitter.Node) (ast.Expr, error) {
	name := n.ChildByFieldName("macro")
	tree := firstNamed(n, "token_tree")
	if name == nil || tree == nil {
		return nil, c.fail(n, ErrSyntax)
	}
	text := c.text(tree)
	if len(text) < 2 {
		return nil, c.fail(tree, ErrSyntax)
	}
	m := &ast.Macro{Name: c.text(name), Brackets: text[0] == '['}
	if text[0] == '{' {
		return nil, c.unsupported(tree)
	}
	inner := strings.TrimSpace(text[1 : len(text)-1])
	if inner == "" {
		return m, nil
	}
	args, err := c.p.parseArgs(c.ctx, inner)
	if err != nil {
		return nil, c.fail(tree, fmt.Errorf("%w: arguments of %s!: %v", ErrUnsupported, m.Name, err))
	}
	m.Args = args
	return m, nil
}

func (c *converter) rangeExpr(n *sitter.Node) (ast.Expr, error) {
	r := &ast.Range{}
	seenOp := false
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if isExtra(child) {
			continue
		}
		if !child.IsNamed() {
			switch child.Type() {
			case "..=", "...":
				r.Inclusive = true
			}
			seenOp = true
			continue
		}
		e, err := c.expr(child)
		if err != nil {
			return nil, err
		}
		if seenOp {
			r.Hi = e
		} else {
			r.Lo = e
		}
	}
	return r, nil
}

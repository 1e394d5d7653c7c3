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
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
)

// =============================================================================
// PATTERNS
// =============================================================================

func (c *converter) pats(ns []*sitter.Node) ([]ast.Pat, error) {
	out := make([]ast.Pat, 0, len(ns))
	for _, n := range ns {
		p, err := c.pat(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *converter) pat(n *sitter.Node) (ast.Pat, error) {
	if n == nil {
		return nil, &Error{Source: c.src, Err: fmt.Errorf("%w: missing pattern", ErrSyntax)}
	}
	switch n.Type() {
	case "_":
		return &ast.WildPat{}, nil
	case "remaining_field_pattern":
		return &ast.RestPat{}, nil
	case "identifier", "self":
		return &ast.IdentPat{Name: c.text(n)}, nil
	case "scoped_identifier":
		return &ast.PathPat{Segments: splitPath(c.text(n))}, nil
	case "mut_pattern":
		return c.bindingMode(n, false)
	case "ref_pattern":
		return c.bindingMode(n, true)
	case "captured_pattern":
		ops := operands(n, "@")
		if len(ops) != 2 || ops[0].Type() != "identifier" {
			return nil, c.unsupported(n)
		}
		sub, err := c.pat(ops[1])
		if err != nil {
			return nil, err
		}
		return &ast.IdentPat{Name: c.text(ops[0]), Sub: sub}, nil
	case "tuple_pattern":
		elems, err := c.pats(operands(n))
		if err != nil {
			return nil, err
		}
		return &ast.TuplePat{Elems: elems}, nil
	case "tuple_struct_pattern":
		t := n.ChildByFieldName("type")
		if t == nil {
			return nil, c.fail(n, ErrSyntax)
		}
		var rest []*sitter.Node
		for _, op := range operands(n) {
			if op.StartByte() == t.StartByte() && op.EndByte() == t.EndByte() {
				continue
			}
			rest = append(rest, op)
		}
		elems, err := c.pats(rest)
		if err != nil {
			return nil, err
		}
		return &ast.TupleStructPat{Path: splitPath(c.text(t)), Elems: elems}, nil
	case "integer_literal", "float_literal", "boolean_literal", "string_literal", "raw_string_literal", "char_literal":
		lit, err := c.expr(n)
		if err != nil {
			return nil, err
		}
		return &ast.LitPat{Lit: lit}, nil
	case "negative_literal":
		ops := named(n)
		if len(ops) != 1 {
			return nil, c.unsupported(n)
		}
		lit, err := c.expr(ops[0])
		if err != nil {
			return nil, err
		}
		return &ast.LitPat{Lit: &ast.Unary{Op: "-", X: lit}}, nil
	case "range_pattern":
		return c.rangePat(n)
	case "reference_pattern":
		ops := operands(n, "mutable_specifier")
		if len(ops) != 1 {
			return nil, c.unsupported(n)
		}
		inner, err := c.pat(ops[0])
		if err != nil {
			return nil, err
		}
		return &ast.RefPat{Mut: hasNamed(n, "mutable_specifier"), Pat: inner}, nil
	case "or_pattern":
		alts, err := c.pats(operands(n))
		if err != nil {
			return nil, err
		}
		// Nested or-patterns flatten into one list.
		var flat []ast.Pat
		for _, a := range alts {
			if or, ok := a.(*ast.OrPat); ok {
				flat = append(flat, or.Alts...)
				continue
			}
			flat = append(flat, a)
		}
		return &ast.OrPat{Alts: flat}, nil
	}
	return nil, c.unsupported(n)
}

// bindingMode handles `mut p` and `ref p`, which only apply to bindings.
func (c *converter) bindingMode(n *sitter.Node, ref bool) (ast.Pat, error) {
	ops := operands(n, "mutable_specifier")
	if len(ops) != 1 {
		return nil, c.unsupported(n)
	}
	inner, err := c.pat(ops[0])
	if err != nil {
		return nil, err
	}
	ip, ok := inner.(*ast.IdentPat)
	if !ok {
		return nil, c.unsupported(n)
	}
	if ref {
		ip.ByRef = true
		ip.Mut = ip.Mut || hasNamed(n, "mutable_specifier")
	} else {
		ip.Mut = true
	}
	return ip, nil
}

func (c *converter) rangePat(n *sitter.Node) (ast.Pat, error) {
	r := &ast.RangePat{}
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
		var e ast.Expr
		var err error
		if child.Type() == "negative_literal" {
			var lp ast.Pat
			if lp, err = c.pat(child); err == nil {
				e = lp.(*ast.LitPat).Lit
			}
		} else {
			e, err = c.expr(child)
		}
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

// =============================================================================
// TYPES
// =============================================================================

func (c *converter) typ(n *sitter.Node) (ast.Type, error) {
	if n == nil {
		return nil, &Error{Source: c.src, Err: fmt.Errorf("%w: missing type", ErrSyntax)}
	}
	switch n.Type() {
	case "_":
		return &ast.InferType{}, nil
	case "primitive_type", "type_identifier":
		return &ast.TypePath{Segments: []string{c.text(n)}}, nil
	case "scoped_type_identifier":
		if strings.Contains(c.text(n), "<") {
			return nil, c.unsupported(n)
		}
		return &ast.TypePath{Segments: splitPath(c.text(n))}, nil
	case "generic_type":
		base, err := c.typ(n.ChildByFieldName("type"))
		if err != nil {
			return nil, err
		}
		tp, ok := base.(*ast.TypePath)
		if !ok {
			return nil, c.unsupported(n)
		}
		if tp.Args, err = c.typeArgs(n.ChildByFieldName("type_arguments")); err != nil {
			return nil, err
		}
		return tp, nil
	case "reference_type":
		elem, err := c.typ(n.ChildByFieldName("type"))
		if err != nil {
			return nil, err
		}
		return &ast.RefType{Mut: hasNamed(n, "mutable_specifier"), Elem: elem}, nil
	case "unit_type":
		return &ast.TupleType{}, nil
	case "tuple_type":
		var elems []ast.Type
		for _, child := range named(n) {
			t, err := c.typ(child)
			if err != nil {
				return nil, err
			}
			elems = append(elems, t)
		}
		return &ast.TupleType{Elems: elems}, nil
	case "array_type":
		elem, err := c.typ(n.ChildByFieldName("element"))
		if err != nil {
			return nil, err
		}
		length := n.ChildByFieldName("length")
		if length == nil {
			return &ast.SliceType{Elem: elem}, nil
		}
		l, err := c.expr(length)
		if err != nil {
			return nil, err
		}
		return &ast.ArrayType{Elem: elem, Len: l}, nil
	case "removed_trait_bound":
		// `?Sized` only appears as a bound; kept as its spelling.
		return &ast.TypePath{Segments: []string{c.text(n)}}, nil
	}
	return nil, c.unsupported(n)
}

// =============================================================================
// GENERICS
// =============================================================================

func (c *converter) bounds(n *sitter.Node) ([]ast.Type, error) {
	if n == nil {
		return nil, nil
	}
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

func (c *converter) generics(n *sitter.Node) (*ast.Generics, error) {
	g := &ast.Generics{}
	for _, child := range named(n) {
		var param *ast.GenericParam
		switch child.Type() {
		case "lifetime", "lifetime_parameter":
			continue
		case "type_identifier":
			param = &ast.GenericParam{Name: c.text(child)}
		case "constrained_type_parameter":
			left := child.ChildByFieldName("left")
			if left == nil {
				return nil, c.fail(child, ErrSyntax)
			}
			b, err := c.bounds(child.ChildByFieldName("bounds"))
			if err != nil {
				return nil, err
			}
			param = &ast.GenericParam{Name: c.text(left), Bounds: b}
		case "type_parameter":
			name := child.ChildByFieldName("name")
			if name == nil {
				return nil, c.fail(child, ErrSyntax)
			}
			b, err := c.bounds(child.ChildByFieldName("bounds"))
			if err != nil {
				return nil, err
			}
			param = &ast.GenericParam{Name: c.text(name), Bounds: b}
		case "const_parameter":
			name := child.ChildByFieldName("name")
			if name == nil {
				return nil, c.fail(child, ErrSyntax)
			}
			t, err := c.typ(child.ChildByFieldName("type"))
			if err != nil {
				return nil, err
			}
			param = &ast.GenericParam{Name: c.text(name), Const: t}
		default:
			return nil, c.unsupported(child)
		}
		g.Params = append(g.Params, param)
	}
	return g, nil
}

func (c *converter) where(n *sitter.Node) (*ast.WhereClause, error) {
	w := &ast.WhereClause{}
	for _, child := range named(n) {
		if child.Type() != "where_predicate" {
			return nil, c.unsupported(child)
		}
		left := child.ChildByFieldName("left")
		if left == nil || left.Type() == "lifetime" || left.Type() == "higher_ranked_trait_bound" {
			return nil, c.unsupported(child)
		}
		bounded, err := c.typ(left)
		if err != nil {
			return nil, err
		}
		b, err := c.bounds(child.ChildByFieldName("bounds"))
		if err != nil {
			return nil, err
		}
		w.Predicates = append(w.Predicates, &ast.WherePredicate{Bounded: bounded, Bounds: b})
	}
	return w, nil
}

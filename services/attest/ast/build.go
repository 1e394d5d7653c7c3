// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strconv"
	"strings"
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewIdent returns a reference to name.
func NewIdent(name string) *Ident {
	return &Ident{Name: name}
}

// Int returns an integer literal with an optional type suffix.
func Int(digits, suffix string) *Lit {
	return &Lit{Kind: LitInt, Value: digits + suffix}
}

// Bool returns `true` or `false`.
func Bool(b bool) *Lit {
	return &Lit{Kind: LitBool, Value: strconv.FormatBool(b)}
}

// CallName returns `name(args...)`.
func CallName(name string, args ...Expr) *Call {
	return &Call{Func: NewIdent(name), Args: args}
}

// Named returns the single-segment type `name`.
func Named(name string) *TypePath {
	return &TypePath{Segments: []string{name}}
}

// BindingPat returns the irrefutable pattern `name` or `mut name`.
func BindingPat(name string, mut bool) *IdentPat {
	return &IdentPat{Name: name, Mut: mut}
}

// Assert returns `assert!(cond)`.
func Assert(cond Expr) *Macro {
	return &Macro{Name: "assert", Args: []Expr{cond}}
}

// WithPrefix returns a block evaluating stmts before e. When e is already
// a block the statements are prepended to it.
func WithPrefix(e Expr, stmts ...Stmt) Expr {
	if len(stmts) == 0 {
		return e
	}
	if b, ok := e.(*Block); ok {
		out := make([]Stmt, 0, len(stmts)+len(b.Stmts))
		out = append(out, stmts...)
		out = append(out, b.Stmts...)
		return &Block{Stmts: out, Tail: b.Tail}
	}
	return &Block{Stmts: append([]Stmt(nil), stmts...), Tail: e}
}

// =============================================================================
// QUERIES
// =============================================================================

// AsIdent reports the name of e when e is a plain identifier reference.
func AsIdent(e Expr) (string, bool) {
	if id, ok := e.(*Ident); ok {
		return id.Name, true
	}
	return "", false
}

// TypeIdent reports the name of t when t is a single-segment type with no
// generic arguments, i.e. something a type parameter could stand for.
func TypeIdent(t Type) (string, bool) {
	p, ok := t.(*TypePath)
	if !ok || len(p.Segments) != 1 || len(p.Args) != 0 {
		return "", false
	}
	return p.Segments[0], true
}

// IntLitValue parses the digits of an integer literal, ignoring its
// suffix and `_` separators.
func IntLitValue(l *Lit) (uint64, bool) {
	if l == nil || l.Kind != LitInt {
		return 0, false
	}
	s := strings.ReplaceAll(l.Value, "_", "")
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0o"):
		base, s = 8, s[2:]
	case strings.HasPrefix(s, "0b"):
		base, s = 2, s[2:]
	}
	end := len(s)
	for i, r := range s {
		if !isDigit(r, base) {
			end = i
			break
		}
	}
	v, err := strconv.ParseUint(s[:end], base, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isDigit(r rune, base int) bool {
	switch {
	case r >= '0' && r <= '9':
		return int(r-'0') < base
	case base == 16 && r >= 'a' && r <= 'f', base == 16 && r >= 'A' && r <= 'F':
		return true
	}
	return false
}

// IsRefutable reports whether p can fail to match. Refutable patterns can
// not be used in a plain `let`.
func IsRefutable(p Pat) bool {
	switch n := p.(type) {
	case *IdentPat:
		return n.Sub != nil && IsRefutable(n.Sub)
	case *WildPat, *RestPat:
		return false
	case *TuplePat:
		for _, e := range n.Elems {
			if IsRefutable(e) {
				return true
			}
		}
		return false
	case *RefPat:
		return IsRefutable(n.Pat)
	case *TypedPat:
		return IsRefutable(n.Pat)
	default:
		return true
	}
}

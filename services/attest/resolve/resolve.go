// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve asks the compiler what declared input types really are.
//
// A declared type may be an alias, a re-export or a path that only exists
// in a dependency. Resolution compiles one stub per query in a single
// program, so a malformed type fails the whole batch; callers isolate the
// culprit with batch.RunOrLocateError.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind classifies a resolved type for value generation.
type Kind int

const (
	// KindOther is any type without a generator.
	KindOther Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindIsize
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindUsize
)

var kindNames = [...]string{
	KindOther: "other",
	KindI8:    "i8",
	KindI16:   "i16",
	KindI32:   "i32",
	KindI64:   "i64",
	KindI128:  "i128",
	KindIsize: "isize",
	KindU8:    "u8",
	KindU16:   "u16",
	KindU32:   "u32",
	KindU64:   "u64",
	KindU128:  "u128",
	KindUsize: "usize",
}

// String returns the primitive's name, or "other".
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsInteger reports whether k is a primitive integer.
func (k Kind) IsInteger() bool {
	return k >= KindI8 && k <= KindUsize
}

// KindOf maps a compiler-reported type name to its Kind.
func KindOf(name string) Kind {
	name = strings.TrimSpace(name)
	for k, n := range kindNames {
		if Kind(k) != KindOther && n == name {
			return Kind(k)
		}
	}
	return KindOther
}

// =============================================================================
// QUERIES
// =============================================================================

// Query is one declared type in its generic and import context.
type Query struct {
	Type     ast.Type
	Generics *ast.Generics
	Where    *ast.WhereClause
	Imports  []string
}

// String renders the query for diagnostics.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(ast.Render(q.Type))
	if g := ast.Render(q.Generics); g != "" {
		b.WriteString(" with ")
		b.WriteString(g)
	}
	if w := ast.Render(q.Where); w != "" {
		b.WriteString(" ")
		b.WriteString(w)
	}
	return b.String()
}

// generic reports whether the query has type parameters.
func (q Query) generic() bool {
	return q.Generics != nil && len(q.Generics.Params) > 0
}

// Resolved is the compiler's view of a queried type.
type Resolved struct {
	// Name is the canonical type name, e.g. "u8" for `type Byte = u8`.
	Name string `json:"name"`

	Kind Kind `json:"kind"`
}

// Resolver resolves queries in one batch.
//
// Outputs of Resolve are one Resolved per query, in order. Failures are
// *Error naming the queries of the failed batch.
type Resolver interface {
	Resolve(ctx context.Context, queries []Query, deps contract.Dependencies) ([]Resolved, error)
}

// Error is a failed resolution batch.
type Error struct {
	Failed     []Query
	Diagnostic string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	names := make([]string, len(e.Failed))
	for i, q := range e.Failed {
		names[i] = q.String()
	}
	msg := fmt.Sprintf("resolve %d types [%s]: %v", len(e.Failed), strings.Join(names, "; "), e.Err)
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

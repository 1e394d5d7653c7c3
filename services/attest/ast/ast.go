// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast models the expression language contracts are written in.
//
// The language is the expression subset of the crate under test: paths,
// literals, operators, calls, blocks, conditionals, pattern matching and
// closures. Nodes are immutable once built. Rewrites (see package subst)
// always build new nodes and never mutate the input tree, so sharing a
// subtree between several contracts is safe.
//
// Every syntactic category is a closed sum type: an interface with an
// unexported marker method, implemented only by the node types in this
// package.
package ast

// =============================================================================
// CATEGORIES
// =============================================================================

// Node is implemented by every syntax node.
type Node interface {
	node()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Type is a type node.
type Type interface {
	Node
	typeNode()
}

// Pat is a pattern node.
type Pat interface {
	Node
	patNode()
}

// Stmt is a statement inside a Block.
type Stmt interface {
	Node
	stmtNode()
}

// =============================================================================
// EXPRESSIONS
// =============================================================================

// Ident is a reference to a single-segment name, e.g. `x`.
type Ident struct {
	Name string
}

// Path is a qualified path such as `u8::MAX` or `std::mem::swap::<T>`.
//
// Generics holds the turbofish arguments of the last segment.
type Path struct {
	Segments []string
	Generics []Type
}

// LitKind classifies a literal.
type LitKind int

const (
	LitInt LitKind = iota
	LitFloat
	LitBool
	LitStr
	LitChar
)

// Lit is a literal. Value is the exact source text, suffix included
// (`7u8`, `"hi"`, `'a'`, `true`).
type Lit struct {
	Kind  LitKind
	Value string
}

// Verbatim is closed source text spliced in as an expression, typically a
// generated value or the rendering of an evaluated result. It has no free
// names and is never descended into.
type Verbatim struct {
	Text string
}

// Unary is a prefix operator application: `!x`, `-x`, `*x`.
type Unary struct {
	Op string
	X  Expr
}

// Ref is a borrow, `&x` or `&mut x`.
type Ref struct {
	Mut bool
	X   Expr
}

// Binary is an infix operator application, assignments included.
type Binary struct {
	Op string
	X  Expr
	Y  Expr
}

// Cast is `x as T`.
type Cast struct {
	X    Expr
	Type Type
}

// Paren is an explicitly parenthesized expression.
type Paren struct {
	X Expr
}

// Call is a function call.
type Call struct {
	Func Expr
	Args []Expr
}

// MethodCall is `recv.method::<G>(args)`.
type MethodCall struct {
	Recv     Expr
	Method   string
	Generics []Type
	Args     []Expr
}

// Field is a named or positional field access, `x.f` or `x.0`.
type Field struct {
	X    Expr
	Name string
}

// Index is `x[i]`.
type Index struct {
	X     Expr
	Index Expr
}

// Tuple is a tuple expression. A one element tuple renders with a
// trailing comma.
type Tuple struct {
	Elems []Expr
}

// Array is `[a, b, c]`.
type Array struct {
	Elems []Expr
}

// Block is `{ stmts; tail }`. Tail is nil when the block ends with a
// statement.
type Block struct {
	Stmts []Stmt
	Tail  Expr
}

// If is a conditional. Cond is a *Let for `if let`. Else is nil, a *Block
// or an *If.
type If struct {
	Cond Expr
	Then *Block
	Else Expr
}

// Let is the `let P = x` condition of an `if let`. It is not a valid
// expression anywhere else.
type Let struct {
	Pat Pat
	X   Expr
}

// Match is a match expression.
type Match struct {
	X    Expr
	Arms []*Arm
}

// Arm is one arm of a Match. Guard may be nil.
type Arm struct {
	Pat   Pat
	Guard Expr
	Body  Expr
}

// Closure is `move |params| -> Ret body`. Ret may be nil.
type Closure struct {
	Move   bool
	Params []Pat
	Ret    Type
	Body   Expr
}

// Macro is a function-like macro invocation whose arguments are
// expressions, such as `assert!(x)` or `vec![1, 2]`.
type Macro struct {
	Name     string
	Brackets bool
	Args     []Expr
}

// Range is `lo..hi` or `lo..=hi`; either bound may be nil.
type Range struct {
	Lo        Expr
	Hi        Expr
	Inclusive bool
}

// =============================================================================
// STATEMENTS
// =============================================================================

// LetStmt is `let P: T = init else { ... };`. Type, Init and Else are
// optional.
type LetStmt struct {
	Pat  Pat
	Type Type
	Init Expr
	Else *Block
}

// ExprStmt is an expression in statement position.
type ExprStmt struct {
	X    Expr
	Semi bool
}

// UseStmt is an import, rendered as `use <Path>;`.
type UseStmt struct {
	Path string
}

// ItemStmt is a nested item declaration (fn, struct, impl...). It is kept
// as opaque source. Rewriting passes reject it.
type ItemStmt struct {
	Source string
}

// =============================================================================
// PATTERNS
// =============================================================================

// IdentPat binds a name: `ref mut x @ sub`.
type IdentPat struct {
	Name  string
	ByRef bool
	Mut   bool
	Sub   Pat
}

// WildPat is `_`.
type WildPat struct{}

// RestPat is `..` inside a tuple pattern.
type RestPat struct{}

// TuplePat is `(a, b)`.
type TuplePat struct {
	Elems []Pat
}

// TupleStructPat is `Some(x)` or `Wrapper(a, b)`.
type TupleStructPat struct {
	Path  []string
	Elems []Pat
}

// PathPat is a qualified constant or unit variant, `Ordering::Less`.
type PathPat struct {
	Segments []string
}

// LitPat matches a literal; Lit is a *Lit or a negated *Lit.
type LitPat struct {
	Lit Expr
}

// RangePat is `lo..=hi`.
type RangePat struct {
	Lo        Expr
	Hi        Expr
	Inclusive bool
}

// RefPat is `&p` or `&mut p`.
type RefPat struct {
	Mut bool
	Pat Pat
}

// OrPat is `a | b`.
type OrPat struct {
	Alts []Pat
}

// TypedPat is `p: T`, used by closure parameters.
type TypedPat struct {
	Pat  Pat
	Type Type
}

// =============================================================================
// TYPES
// =============================================================================

// TypePath is a named type with optional generic arguments, `Vec<u8>`.
type TypePath struct {
	Segments []string
	Args     []Type
}

// RefType is `&T` or `&mut T`.
type RefType struct {
	Mut  bool
	Elem Type
}

// TupleType is `(A, B)`; the empty tuple is the unit type.
type TupleType struct {
	Elems []Type
}

// SliceType is `[T]`.
type SliceType struct {
	Elem Type
}

// ArrayType is `[T; N]`.
type ArrayType struct {
	Elem Type
	Len  Expr
}

// InferType is `_`.
type InferType struct{}

// =============================================================================
// GENERICS
// =============================================================================

// GenericParam is a type parameter `T: Bound + Other`, or a const
// parameter `const N: usize` when Const is set.
type GenericParam struct {
	Name   string
	Bounds []Type
	Const  Type
}

// Generics is a generic parameter list.
type Generics struct {
	Params []*GenericParam
}

// WherePredicate is `Bounded: A + B`.
type WherePredicate struct {
	Bounded Type
	Bounds  []Type
}

// WhereClause is a list of predicates; an empty clause renders as nothing.
type WhereClause struct {
	Predicates []*WherePredicate
}

// =============================================================================
// MARKERS
// =============================================================================

func (*Ident) node()      {}
func (*Path) node()       {}
func (*Lit) node()        {}
func (*Verbatim) node()   {}
func (*Unary) node()      {}
func (*Ref) node()        {}
func (*Binary) node()     {}
func (*Cast) node()       {}
func (*Paren) node()      {}
func (*Call) node()       {}
func (*MethodCall) node() {}
func (*Field) node()      {}
func (*Index) node()      {}
func (*Tuple) node()      {}
func (*Array) node()      {}
func (*Block) node()      {}
func (*If) node()         {}
func (*Let) node()        {}
func (*Match) node()      {}
func (*Closure) node()    {}
func (*Macro) node()      {}
func (*Range) node()      {}

func (*Ident) exprNode()      {}
func (*Path) exprNode()       {}
func (*Lit) exprNode()        {}
func (*Verbatim) exprNode()   {}
func (*Unary) exprNode()      {}
func (*Ref) exprNode()        {}
func (*Binary) exprNode()     {}
func (*Cast) exprNode()       {}
func (*Paren) exprNode()      {}
func (*Call) exprNode()       {}
func (*MethodCall) exprNode() {}
func (*Field) exprNode()      {}
func (*Index) exprNode()      {}
func (*Tuple) exprNode()      {}
func (*Array) exprNode()      {}
func (*Block) exprNode()      {}
func (*If) exprNode()         {}
func (*Let) exprNode()        {}
func (*Match) exprNode()      {}
func (*Closure) exprNode()    {}
func (*Macro) exprNode()      {}
func (*Range) exprNode()      {}

func (*LetStmt) node()  {}
func (*ExprStmt) node() {}
func (*UseStmt) node()  {}
func (*ItemStmt) node() {}

func (*LetStmt) stmtNode()  {}
func (*ExprStmt) stmtNode() {}
func (*UseStmt) stmtNode()  {}
func (*ItemStmt) stmtNode() {}

func (*IdentPat) node()       {}
func (*WildPat) node()        {}
func (*RestPat) node()        {}
func (*TuplePat) node()       {}
func (*TupleStructPat) node() {}
func (*PathPat) node()        {}
func (*LitPat) node()         {}
func (*RangePat) node()       {}
func (*RefPat) node()         {}
func (*OrPat) node()          {}
func (*TypedPat) node()       {}

func (*IdentPat) patNode()       {}
func (*WildPat) patNode()        {}
func (*RestPat) patNode()        {}
func (*TuplePat) patNode()       {}
func (*TupleStructPat) patNode() {}
func (*PathPat) patNode()        {}
func (*LitPat) patNode()         {}
func (*RangePat) patNode()       {}
func (*RefPat) patNode()         {}
func (*OrPat) patNode()          {}
func (*TypedPat) patNode()       {}

func (*TypePath) node()  {}
func (*RefType) node()   {}
func (*TupleType) node() {}
func (*SliceType) node() {}
func (*ArrayType) node() {}
func (*InferType) node() {}

func (*TypePath) typeNode()  {}
func (*RefType) typeNode()   {}
func (*TupleType) typeNode() {}
func (*SliceType) typeNode() {}
func (*ArrayType) typeNode() {}
func (*InferType) typeNode() {}

func (*Arm) node()            {}
func (*Generics) node()       {}
func (*GenericParam) node()   {}
func (*WhereClause) node()    {}
func (*WherePredicate) node() {}

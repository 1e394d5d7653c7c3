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
	"fmt"
	"strings"
)

// Operator precedence, higher binds tighter.
const (
	precLowest  = 0
	precClosure = 1
	precAssign  = 2
	precRange   = 3
	precOr      = 4
	precAnd     = 5
	precCompare = 6
	precBitOr   = 7
	precBitXor  = 8
	precBitAnd  = 9
	precShift   = 10
	precAdd     = 11
	precMul     = 12
	precCast    = 13
	precPrefix  = 14
	precPostfix = 15
	precAtom    = 16
)

var binaryPrec = map[string]int{
	"=": precAssign, "+=": precAssign, "-=": precAssign, "*=": precAssign,
	"/=": precAssign, "%=": precAssign, "&=": precAssign, "|=": precAssign,
	"^=": precAssign, "<<=": precAssign, ">>=": precAssign,
	"||": precOr,
	"&&": precAnd,
	"==": precCompare, "!=": precCompare, "<": precCompare, "<=": precCompare,
	">": precCompare, ">=": precCompare,
	"|":  precBitOr,
	"^":  precBitXor,
	"&":  precBitAnd,
	"<<": precShift, ">>": precShift,
	"+": precAdd, "-": precAdd,
	"*": precMul, "/": precMul, "%": precMul,
}

// Render returns the source text of n. Parentheses are inserted wherever
// the tree shape differs from what operator precedence would parse.
//
// A nil node renders as the empty string.
func Render(n Node) string {
	var p printer
	p.node(n)
	return p.sb.String()
}

type printer struct {
	sb strings.Builder
}

func (p *printer) write(parts ...string) {
	for _, s := range parts {
		p.sb.WriteString(s)
	}
}

func (p *printer) node(n Node) {
	switch n := n.(type) {
	case nil:
	case Expr:
		p.expr(n, precLowest)
	case Type:
		p.typ(n)
	case Pat:
		p.pat(n)
	case Stmt:
		p.stmt(n)
	case *Arm:
		p.arm(n)
	case *Generics:
		p.generics(n)
	case *GenericParam:
		p.genericParam(n)
	case *WhereClause:
		p.where(n)
	case *WherePredicate:
		p.predicate(n)
	default:
		panic(fmt.Sprintf("ast: cannot render %T", n))
	}
}

func exprPrec(e Expr) int {
	switch n := e.(type) {
	case *Binary:
		if prec, ok := binaryPrec[n.Op]; ok {
			return prec
		}
		return precLowest
	case *Cast:
		return precCast
	case *Unary, *Ref:
		return precPrefix
	case *Lit:
		if strings.HasPrefix(n.Value, "-") {
			return precPrefix
		}
		return precAtom
	case *Verbatim:
		if strings.HasPrefix(n.Text, "-") {
			return precPrefix
		}
		return precAtom
	case *Call, *MethodCall, *Field, *Index:
		return precPostfix
	case *Range:
		return precRange
	case *Closure:
		return precClosure
	case *Let:
		return precCompare
	default:
		return precAtom
	}
}

func (p *printer) expr(e Expr, min int) {
	if e == nil {
		return
	}
	if exprPrec(e) < min {
		p.write("(")
		defer p.write(")")
	}
	switch n := e.(type) {
	case *Ident:
		p.write(n.Name)
	case *Path:
		p.write(strings.Join(n.Segments, "::"))
		if len(n.Generics) > 0 {
			p.write("::<")
			p.types(n.Generics)
			p.write(">")
		}
	case *Lit:
		p.write(n.Value)
	case *Verbatim:
		p.write(n.Text)
	case *Unary:
		p.write(n.Op)
		p.expr(n.X, precPrefix)
	case *Ref:
		p.write("&")
		if n.Mut {
			p.write("mut ")
		}
		p.expr(n.X, precPrefix)
	case *Binary:
		prec := exprPrec(n)
		left, right := prec, prec+1
		switch prec {
		case precAssign:
			left, right = prec+1, prec
		case precCompare:
			left = prec + 1
		}
		p.expr(n.X, left)
		p.write(" ", n.Op, " ")
		p.expr(n.Y, right)
	case *Cast:
		p.expr(n.X, precCast)
		p.write(" as ")
		p.typ(n.Type)
	case *Paren:
		p.write("(")
		p.expr(n.X, precLowest)
		p.write(")")
	case *Call:
		p.expr(n.Func, precPostfix)
		p.write("(")
		p.exprs(n.Args)
		p.write(")")
	case *MethodCall:
		p.expr(n.Recv, precPostfix)
		p.write(".", n.Method)
		if len(n.Generics) > 0 {
			p.write("::<")
			p.types(n.Generics)
			p.write(">")
		}
		p.write("(")
		p.exprs(n.Args)
		p.write(")")
	case *Field:
		p.expr(n.X, precPostfix)
		p.write(".", n.Name)
	case *Index:
		p.expr(n.X, precPostfix)
		p.write("[")
		p.expr(n.Index, precLowest)
		p.write("]")
	case *Tuple:
		p.write("(")
		p.exprs(n.Elems)
		if len(n.Elems) == 1 {
			p.write(",")
		}
		p.write(")")
	case *Array:
		p.write("[")
		p.exprs(n.Elems)
		p.write("]")
	case *Block:
		p.block(n)
	case *If:
		p.write("if ")
		p.expr(n.Cond, precLowest)
		p.write(" ")
		p.block(n.Then)
		if n.Else != nil {
			p.write(" else ")
			p.expr(n.Else, precLowest)
		}
	case *Let:
		p.write("let ")
		p.pat(n.Pat)
		p.write(" = ")
		p.expr(n.X, precCompare+1)
	case *Match:
		p.write("match ")
		p.expr(n.X, precLowest)
		p.write(" {")
		for i, arm := range n.Arms {
			if i > 0 {
				p.write(",")
			}
			p.write(" ")
			p.arm(arm)
		}
		p.write(" }")
	case *Closure:
		if n.Move {
			p.write("move ")
		}
		p.write("|")
		for i, param := range n.Params {
			if i > 0 {
				p.write(", ")
			}
			p.pat(param)
		}
		p.write("| ")
		if n.Ret != nil {
			p.write("-> ")
			p.typ(n.Ret)
			p.write(" ")
			if _, ok := n.Body.(*Block); !ok {
				p.write("{ ")
				p.expr(n.Body, precLowest)
				p.write(" }")
				return
			}
		}
		p.expr(n.Body, precClosure)
	case *Macro:
		p.write(n.Name, "!")
		open, closing := "(", ")"
		if n.Brackets {
			open, closing = "[", "]"
		}
		p.write(open)
		p.exprs(n.Args)
		p.write(closing)
	case *Range:
		if n.Lo != nil {
			p.expr(n.Lo, precRange+1)
		}
		if n.Inclusive {
			p.write("..=")
		} else {
			p.write("..")
		}
		if n.Hi != nil {
			p.expr(n.Hi, precRange+1)
		}
	default:
		panic(fmt.Sprintf("ast: cannot render expression %T", n))
	}
}

func (p *printer) exprs(es []Expr) {
	for i, e := range es {
		if i > 0 {
			p.write(", ")
		}
		p.expr(e, precLowest)
	}
}

func (p *printer) block(b *Block) {
	if b == nil || (len(b.Stmts) == 0 && b.Tail == nil) {
		p.write("{}")
		return
	}
	p.write("{")
	for _, s := range b.Stmts {
		p.write(" ")
		p.stmt(s)
	}
	if b.Tail != nil {
		p.write(" ")
		p.expr(b.Tail, precLowest)
	}
	p.write(" }")
}

func (p *printer) stmt(s Stmt) {
	switch n := s.(type) {
	case *LetStmt:
		p.write("let ")
		p.pat(n.Pat)
		if n.Type != nil {
			p.write(": ")
			p.typ(n.Type)
		}
		if n.Init != nil {
			p.write(" = ")
			p.expr(n.Init, precLowest)
		}
		if n.Else != nil {
			p.write(" else ")
			p.block(n.Else)
		}
		p.write(";")
	case *ExprStmt:
		p.expr(n.X, precLowest)
		if n.Semi {
			p.write(";")
		}
	case *UseStmt:
		p.write("use ", n.Path, ";")
	case *ItemStmt:
		p.write(n.Source)
	default:
		panic(fmt.Sprintf("ast: cannot render statement %T", n))
	}
}

func (p *printer) arm(a *Arm) {
	p.pat(a.Pat)
	if a.Guard != nil {
		p.write(" if ")
		p.expr(a.Guard, precLowest)
	}
	p.write(" => ")
	p.expr(a.Body, precLowest)
}

func (p *printer) pat(pt Pat) {
	switch n := pt.(type) {
	case nil:
	case *IdentPat:
		if n.ByRef {
			p.write("ref ")
		}
		if n.Mut {
			p.write("mut ")
		}
		p.write(n.Name)
		if n.Sub != nil {
			p.write(" @ ")
			p.pat(n.Sub)
		}
	case *WildPat:
		p.write("_")
	case *RestPat:
		p.write("..")
	case *TuplePat:
		p.write("(")
		p.pats(n.Elems, ", ")
		if len(n.Elems) == 1 {
			p.write(",")
		}
		p.write(")")
	case *TupleStructPat:
		p.write(strings.Join(n.Path, "::"), "(")
		p.pats(n.Elems, ", ")
		p.write(")")
	case *PathPat:
		p.write(strings.Join(n.Segments, "::"))
	case *LitPat:
		p.expr(n.Lit, precPrefix)
	case *RangePat:
		if n.Lo != nil {
			p.expr(n.Lo, precPrefix)
		}
		if n.Inclusive {
			p.write("..=")
		} else {
			p.write("..")
		}
		if n.Hi != nil {
			p.expr(n.Hi, precPrefix)
		}
	case *RefPat:
		p.write("&")
		if n.Mut {
			p.write("mut ")
		}
		p.pat(n.Pat)
	case *OrPat:
		p.pats(n.Alts, " | ")
	case *TypedPat:
		p.pat(n.Pat)
		p.write(": ")
		p.typ(n.Type)
	default:
		panic(fmt.Sprintf("ast: cannot render pattern %T", n))
	}
}

func (p *printer) pats(ps []Pat, sep string) {
	for i, pt := range ps {
		if i > 0 {
			p.write(sep)
		}
		p.pat(pt)
	}
}

func (p *printer) typ(t Type) {
	switch n := t.(type) {
	case nil:
	case *TypePath:
		p.write(strings.Join(n.Segments, "::"))
		if len(n.Args) > 0 {
			p.write("<")
			p.types(n.Args)
			p.write(">")
		}
	case *RefType:
		p.write("&")
		if n.Mut {
			p.write("mut ")
		}
		p.typ(n.Elem)
	case *TupleType:
		p.write("(")
		p.types(n.Elems)
		if len(n.Elems) == 1 {
			p.write(",")
		}
		p.write(")")
	case *SliceType:
		p.write("[")
		p.typ(n.Elem)
		p.write("]")
	case *ArrayType:
		p.write("[")
		p.typ(n.Elem)
		p.write("; ")
		p.expr(n.Len, precLowest)
		p.write("]")
	case *InferType:
		p.write("_")
	default:
		panic(fmt.Sprintf("ast: cannot render type %T", n))
	}
}

func (p *printer) types(ts []Type) {
	for i, t := range ts {
		if i > 0 {
			p.write(", ")
		}
		p.typ(t)
	}
}

func (p *printer) bounds(ts []Type) {
	for i, t := range ts {
		if i > 0 {
			p.write(" + ")
		}
		p.typ(t)
	}
}

func (p *printer) generics(g *Generics) {
	if g == nil || len(g.Params) == 0 {
		return
	}
	p.write("<")
	for i, param := range g.Params {
		if i > 0 {
			p.write(", ")
		}
		p.genericParam(param)
	}
	p.write(">")
}

func (p *printer) genericParam(g *GenericParam) {
	if g.Const != nil {
		p.write("const ", g.Name, ": ")
		p.typ(g.Const)
		return
	}
	p.write(g.Name)
	if len(g.Bounds) > 0 {
		p.write(": ")
		p.bounds(g.Bounds)
	}
}

func (p *printer) where(w *WhereClause) {
	if w == nil || len(w.Predicates) == 0 {
		return
	}
	p.write("where ")
	for i, pred := range w.Predicates {
		if i > 0 {
			p.write(", ")
		}
		p.predicate(pred)
	}
}

func (p *printer) predicate(w *WherePredicate) {
	p.typ(w.Bounded)
	p.write(": ")
	p.bounds(w.Bounds)
}

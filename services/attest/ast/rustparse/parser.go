// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rustparse parses contract source text (expressions, types,
// generic parameter lists and where clauses) into the ast package.
//
// # Description
//
// Text is wrapped in a minimal item, parsed with tree-sitter's Rust
// grammar, and the relevant subtree converted. Constructs the ast
// package cannot represent (loops, struct literals, `?`, labels) are
// rejected with ErrUnsupported rather than approximated.
//
// # Thread Safety
//
// Parser is safe for concurrent use; each call owns its tree-sitter
// parser.
package rustparse

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
)

// DefaultMaxSourceSize bounds a single parsed fragment (64KB).
const DefaultMaxSourceSize = 64 * 1024

var (
	// ErrSyntax indicates text that is not valid in the target grammar.
	ErrSyntax = errors.New("syntax error")

	// ErrUnsupported indicates valid syntax the ast package does not model.
	ErrUnsupported = errors.New("unsupported syntax")

	// ErrTooLarge indicates a fragment above the size limit.
	ErrTooLarge = errors.New("source too large")

	// ErrInvalidContent indicates text that is not valid UTF-8.
	ErrInvalidContent = errors.New("source is not valid UTF-8")
)

// Error locates a parse failure in the original fragment.
type Error struct {
	// Source is the fragment as given.
	Source string

	// Offset is the byte offset of the failure in Source.
	Offset int

	// Node is the grammar node kind at fault, when known.
	Node string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%v at offset %d (%s) in %q", e.Err, e.Offset, e.Node, e.Source)
	}
	return fmt.Sprintf("%v at offset %d in %q", e.Err, e.Offset, e.Source)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxSourceSize sets the largest fragment the parser accepts.
func WithMaxSourceSize(bytes int) Option {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxSize = bytes
		}
	}
}

// Parser converts source fragments to ast nodes.
type Parser struct {
	maxSize int
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...Option) *Parser {
	p := &Parser{maxSize: DefaultMaxSourceSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wrappers placing a fragment where the grammar expects it.
const (
	exprPrefix     = "fn __attest_wrapper() {\n"
	exprSuffix     = "\n}"
	typePrefix     = "type __AttestWrapper = "
	typeSuffix     = ";"
	genericsPrefix = "fn __attest_wrapper"
	genericsSuffix = "() {}"
	wherePrefix    = "fn __attest_wrapper() where "
	whereSuffix    = " {}"
	argsPrefix     = "fn __attest_wrapper() {\n__attest_args("
	argsSuffix     = ")\n}"
)

// Expr parses an expression. Text with statements, e.g. `let y = x; y`,
// becomes a block.
func (p *Parser) Expr(ctx context.Context, src string) (ast.Expr, error) {
	var out ast.Expr
	err := p.parse(ctx, src, exprPrefix, exprSuffix, func(c *converter, root *sitter.Node) error {
		body, err := c.wrapperBody(root)
		if err != nil {
			return err
		}
		b, err := c.block(body)
		if err != nil {
			return err
		}
		if len(b.Stmts) == 0 && b.Tail != nil {
			out = b.Tail
			return nil
		}
		if b.Tail == nil && len(b.Stmts) == 0 {
			return c.fail(body, fmt.Errorf("%w: empty expression", ErrSyntax))
		}
		out = b
		return nil
	})
	return out, err
}

// Type parses a type, e.g. `Vec<(u8, &str)>`.
func (p *Parser) Type(ctx context.Context, src string) (ast.Type, error) {
	var out ast.Type
	err := p.parse(ctx, src, typePrefix, typeSuffix, func(c *converter, root *sitter.Node) error {
		item := firstNamed(root, "type_item")
		if item == nil {
			return c.fail(root, fmt.Errorf("%w: not a type", ErrSyntax))
		}
		t := item.ChildByFieldName("type")
		if t == nil {
			return c.fail(item, fmt.Errorf("%w: not a type", ErrSyntax))
		}
		var err error
		out, err = c.typ(t)
		return err
	})
	return out, err
}

// Generics parses a generic parameter list including its angle brackets,
// e.g. `<T: Ord, const N: usize>`.
func (p *Parser) Generics(ctx context.Context, src string) (*ast.Generics, error) {
	var out *ast.Generics
	err := p.parse(ctx, src, genericsPrefix, genericsSuffix, func(c *converter, root *sitter.Node) error {
		fn := firstNamed(root, "function_item")
		if fn == nil {
			return c.fail(root, fmt.Errorf("%w: not a generic parameter list", ErrSyntax))
		}
		params := fn.ChildByFieldName("type_parameters")
		if params == nil {
			return c.fail(fn, fmt.Errorf("%w: not a generic parameter list", ErrSyntax))
		}
		var err error
		out, err = c.generics(params)
		return err
	})
	return out, err
}

// WhereClause parses the predicates of a where clause, without the
// `where` keyword, e.g. `T: Ord + Copy, U: Default`.
func (p *Parser) WhereClause(ctx context.Context, src string) (*ast.WhereClause, error) {
	var out *ast.WhereClause
	err := p.parse(ctx, src, wherePrefix, whereSuffix, func(c *converter, root *sitter.Node) error {
		fn := firstNamed(root, "function_item")
		if fn == nil {
			return c.fail(root, fmt.Errorf("%w: not a where clause", ErrSyntax))
		}
		w := firstNamed(fn, "where_clause")
		if w == nil {
			return c.fail(fn, fmt.Errorf("%w: not a where clause", ErrSyntax))
		}
		var err error
		out, err = c.where(w)
		return err
	})
	return out, err
}

// parse wraps src, parses it and hands the root to convert.
func (p *Parser) parse(ctx context.Context, src, prefix, suffix string, convert func(*converter, *sitter.Node) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(src) > p.maxSize {
		return &Error{Source: src, Err: fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(src), p.maxSize)}
	}
	if !utf8.ValidString(src) {
		return &Error{Source: src, Err: ErrInvalidContent}
	}

	content := []byte(prefix + src + suffix)
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	c := &converter{p: p, ctx: ctx, src: src, content: content, offset: len(prefix)}
	root := tree.RootNode()
	if root == nil {
		return &Error{Source: src, Err: ErrSyntax}
	}
	if root.HasError() {
		bad := firstError(root)
		if bad == nil {
			bad = root
		}
		return c.fail(bad, ErrSyntax)
	}
	return convert(c, root)
}

// parseArgs parses the inside of a macro's delimiters as a
// comma-separated expression list.
func (p *Parser) parseArgs(ctx context.Context, src string) ([]ast.Expr, error) {
	var out []ast.Expr
	err := p.parse(ctx, src, argsPrefix, argsSuffix, func(c *converter, root *sitter.Node) error {
		body, err := c.wrapperBody(root)
		if err != nil {
			return err
		}
		b, err := c.block(body)
		if err != nil {
			return err
		}
		call, ok := b.Tail.(*ast.Call)
		if !ok || len(b.Stmts) != 0 {
			return c.fail(body, fmt.Errorf("%w: macro arguments are not an expression list", ErrUnsupported))
		}
		out = call.Args
		return nil
	})
	return out, err
}

// firstError returns the first error or missing node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if bad := firstError(child); bad != nil {
			return bad
		}
	}
	return nil
}

// firstNamed returns the first named child of n of the given kind.
func firstNamed(n *sitter.Node, kind string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == kind {
			return child
		}
	}
	return nil
}

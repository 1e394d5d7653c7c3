// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contract defines contracts and the operations that consume
// their inputs one by one until only a closed assertion remains.
//
// # Description
//
// A Contract states a precondition and a postcondition over named inputs.
// Inputs are either values of a declared type or types constrained by a
// where clause. InstantiateInput removes one input and substitutes an
// instance for every name it goes by. A contract with no inputs left is
// fully concrete and can be turned into an assertion.
//
// # Thread Safety
//
// Contracts are plain values mutated by their methods; callers own them.
// The expression trees they hold are immutable and may be shared.
package contract

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/partial"
	"github.com/AleutianAI/AleutianAttest/services/attest/subst"
)

// =============================================================================
// INPUTS
// =============================================================================

// InputKind is ValueKind or TypeKind.
type InputKind interface {
	inputKind()
}

// ValueKind is an input standing for a value of Type. Aliases are other
// names the conditions may use for the same value.
type ValueKind struct {
	Type    ast.Type
	Aliases []string
}

// TypeKind is an input standing for a type satisfying Bounds.
type TypeKind struct {
	Bounds *ast.WhereClause
}

func (ValueKind) inputKind() {}
func (TypeKind) inputKind()  {}

// Input is one named, still symbolic input.
type Input struct {
	Name string
	Kind InputKind
}

// Names returns the input name followed by its aliases.
func (in Input) Names() []string {
	names := []string{in.Name}
	if v, ok := in.Kind.(ValueKind); ok {
		names = append(names, v.Aliases...)
	}
	return names
}

// =============================================================================
// INSTANCES
// =============================================================================

// InputInstance is what an input is instantiated with.
type InputInstance interface {
	inputInstance()
}

// Binding is one `let pattern = init;` setup statement.
type Binding struct {
	Pat  ast.Pat
	Init ast.Expr
}

// ComplexValue is a value that needs setup statements before use. The
// input is bound by name to RHS after Bindings run.
type ComplexValue struct {
	Bindings []Binding
	Mutable  bool
	RHS      ast.Expr
}

// SimpleValue is a closed expression, typically a literal.
type SimpleValue struct {
	Expr ast.Expr
}

// SimpleType is a concrete type.
type SimpleType struct {
	Type ast.Type
}

func (ComplexValue) inputInstance() {}
func (SimpleValue) inputInstance()  {}
func (SimpleType) inputInstance()   {}

// =============================================================================
// CONTRACT
// =============================================================================

// Contract is an expected behavior of a function, stated over symbolic
// inputs.
type Contract struct {
	Inputs        []Input
	Description   string
	Precondition  ast.Expr
	Postcondition ast.Expr

	// Dependencies are the crates the conditions need.
	Dependencies Dependencies

	// UseStatements are paths imported wherever the conditions run, e.g.
	// `abstractions::*`.
	UseStatements []string

	// Tests is the number of instances to generate.
	Tests int

	// FunctionTested optionally names the function under test.
	FunctionTested string

	// Seed optionally fixes value generation.
	Seed *int64
}

// Clone returns a copy that can be instantiated independently of c.
func (c *Contract) Clone() *Contract {
	out := *c
	out.Inputs = slices.Clone(c.Inputs)
	out.Dependencies = c.Dependencies.Clone()
	out.UseStatements = slices.Clone(c.UseStatements)
	if c.Seed != nil {
		seed := *c.Seed
		out.Seed = &seed
	}
	return &out
}

// Param is one typed parameter of a precondition.
type Param struct {
	Name string
	Type ast.Type
}

// Precondition is the precondition seen as a predicate over typed
// parameters, one per input.
type Precondition struct {
	Params    []Param
	Predicate ast.Expr
}

// TypedPrecondition returns the precondition as a predicate over the
// inputs. Aliases are bound to their input's parameter in the predicate.
//
// Outputs:
//
//	*Precondition - One Param per input, in declaration order.
//	error - ErrUnsupportedInputKind if an input is type-kind.
func (c *Contract) TypedPrecondition() (*Precondition, error) {
	pre := &Precondition{Params: make([]Param, 0, len(c.Inputs))}
	aliases := make(subst.ReplaceNames)
	for _, in := range c.Inputs {
		v, ok := in.Kind.(ValueKind)
		if !ok {
			return nil, fmt.Errorf("%w: %q is a type input", ErrUnsupportedInputKind, in.Name)
		}
		pre.Params = append(pre.Params, Param{Name: in.Name, Type: v.Type})
		for _, alias := range v.Aliases {
			aliases[alias] = ast.NewIdent(in.Name)
		}
	}
	predicate, err := subst.Expr(c.Precondition, aliases)
	if err != nil {
		return nil, fmt.Errorf("precondition: %w", err)
	}
	pre.Predicate = predicate
	return pre, nil
}

// Assertion returns `assert!(postcondition)`.
func (c *Contract) Assertion() *ast.Macro {
	return ast.Assert(c.Postcondition)
}

// ExtractEvalNodes replaces the eval markers of both conditions with
// placeholders and returns the terms to evaluate for them. x supplies
// placeholder names.
func (c *Contract) ExtractEvalNodes(x *partial.Extractor) ([]partial.EvalNode, error) {
	before := len(x.Nodes())
	pre, err := x.Extract(c.Precondition)
	if err != nil {
		return nil, fmt.Errorf("precondition: %w", err)
	}
	post, err := x.Extract(c.Postcondition)
	if err != nil {
		return nil, fmt.Errorf("postcondition: %w", err)
	}
	c.Precondition, c.Postcondition = pre, post
	return slices.Clone(x.Nodes()[before:]), nil
}

// SubstNames replaces free occurrences of every key of values in both
// conditions.
func (c *Contract) SubstNames(values map[string]ast.Expr) error {
	pre, err := subst.Expr(c.Precondition, subst.ReplaceNames(values))
	if err != nil {
		return fmt.Errorf("precondition: %w", err)
	}
	post, err := subst.Expr(c.Postcondition, subst.ReplaceNames(values))
	if err != nil {
		return fmt.Errorf("postcondition: %w", err)
	}
	c.Precondition, c.Postcondition = pre, post
	return nil
}

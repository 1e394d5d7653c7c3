// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contract

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/subst"
)

// InstantiateInput consumes the input called name.
//
// Description:
//
//	The input is removed and every free occurrence of its name and of
//	its aliases is replaced in both conditions in a single pass.
//
//	  - SimpleValue: occurrences become the expression. Inputs declared
//	    after this one are rewritten too, since their types may mention
//	    the value (e.g. an array length).
//	  - SimpleType: occurrences of the type name become the type, in the
//	    conditions and in the kinds of later inputs.
//	  - ComplexValue: for each name, the setup bindings followed by
//	    `let [mut] name = rhs;` are prepended to both conditions.
//
// Outputs:
//
//	error - ErrUnknownInput, ErrUnsupportedInputKind when the instance
//	does not fit the input kind, or a substitution error. On error the
//	contract is unchanged.
func (c *Contract) InstantiateInput(name string, inst InputInstance) error {
	idx := slices.IndexFunc(c.Inputs, func(in Input) bool { return in.Name == name })
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownInput, name)
	}
	input := c.Inputs[idx]
	names := input.Names()

	_, isValue := input.Kind.(ValueKind)
	if _, isType := inst.(SimpleType); isType == isValue {
		return fmt.Errorf("%w: %T for input %q of kind %T", ErrUnsupportedInputKind, inst, name, input.Kind)
	}

	rest := slices.Clone(c.Inputs[idx+1:])
	pre, post := c.Precondition, c.Postcondition

	switch v := inst.(type) {
	case SimpleValue:
		values := make(subst.ReplaceNames, len(names))
		for _, n := range names {
			values[n] = v.Expr
		}
		if err := rewriteInputs(rest, values); err != nil {
			return err
		}
		var err error
		if pre, err = subst.Expr(pre, values); err != nil {
			return fmt.Errorf("precondition: %w", err)
		}
		if post, err = subst.Expr(post, values); err != nil {
			return fmt.Errorf("postcondition: %w", err)
		}

	case SimpleType:
		for _, n := range names {
			policy := subst.ReplaceTypeName{Name: n, With: v.Type}
			if err := rewriteInputs(rest, policy); err != nil {
				return err
			}
			var err error
			if pre, err = subst.Expr(pre, policy); err != nil {
				return fmt.Errorf("precondition: %w", err)
			}
			if post, err = subst.Expr(post, policy); err != nil {
				return fmt.Errorf("postcondition: %w", err)
			}
		}

	case ComplexValue:
		var setup []ast.Stmt
		for _, n := range names {
			for _, b := range v.Bindings {
				setup = append(setup, &ast.LetStmt{Pat: b.Pat, Init: b.Init})
			}
			setup = append(setup, &ast.LetStmt{Pat: ast.BindingPat(n, v.Mutable), Init: v.RHS})
		}
		pre = ast.WithPrefix(pre, setup...)
		post = ast.WithPrefix(post, setup...)

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedInputKind, inst)
	}

	c.Inputs = append(slices.Clone(c.Inputs[:idx]), rest...)
	c.Precondition, c.Postcondition = pre, post
	return nil
}

// rewriteInputs applies p to the kinds of inputs, in place.
func rewriteInputs(inputs []Input, p subst.Policy) error {
	for i, in := range inputs {
		switch k := in.Kind.(type) {
		case ValueKind:
			t, err := subst.Type(k.Type, p)
			if err != nil {
				return fmt.Errorf("input %q: %w", in.Name, err)
			}
			k.Type = t
			inputs[i].Kind = k
		case TypeKind:
			bounds, err := subst.WhereClause(k.Bounds, p)
			if err != nil {
				return fmt.Errorf("input %q: %w", in.Name, err)
			}
			inputs[i].Kind = TypeKind{Bounds: bounds}
		}
	}
	return nil
}

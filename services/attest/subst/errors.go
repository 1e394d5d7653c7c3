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

import "errors"

var (
	// ErrNestedItem indicates a function or other item declared inside an
	// expression. Scoping of items is not modelled.
	ErrNestedItem = errors.New("nested items are not supported")

	// ErrUnsupportedLetGuard indicates a `let` pattern condition outside
	// the direct condition of an `if`, such as a match guard or let chain.
	ErrUnsupportedLetGuard = errors.New("unsupported let guard")

	// ErrIfLetWithoutElse indicates `if let P = x { .. }` with no else
	// branch.
	ErrIfLetWithoutElse = errors.New("if let without else is not supported")

	// ErrPositionalOutOfRange indicates `x(n)` with no n-th instance.
	ErrPositionalOutOfRange = errors.New("positional reference out of range")

	// ErrUnsupportedNode indicates a node kind the walker does not know.
	ErrUnsupportedNode = errors.New("unsupported syntax node")
)

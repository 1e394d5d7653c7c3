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
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvariant is the root of every invariant violation. A run that
	// hits one stops.
	ErrInvariant = errors.New("contract invariant violated")

	// ErrUnknownInput indicates a reference to an input the contract does
	// not declare.
	ErrUnknownInput = fmt.Errorf("%w: unknown input", ErrInvariant)

	// ErrUnsupportedInputKind indicates an input of the wrong kind for the
	// operation, e.g. a type-kind input where a value is required.
	ErrUnsupportedInputKind = fmt.Errorf("%w: unsupported input kind", ErrInvariant)

	// ErrArity indicates a count mismatch between inputs and values.
	ErrArity = fmt.Errorf("%w: arity mismatch", ErrInvariant)

	// ErrDependencyConflict indicates two contracts requiring different
	// specifications of the same dependency.
	ErrDependencyConflict = fmt.Errorf("%w: conflicting dependency", ErrInvariant)
)

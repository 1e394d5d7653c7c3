// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

var (
	// ErrPoolConsumed indicates a transition on a pool that already
	// transitioned.
	ErrPoolConsumed = errors.New("pool already consumed")

	// ErrInstanceShortfall indicates a contract that produced fewer
	// instances than requested under StrictInstanceCount.
	ErrInstanceShortfall = errors.New("too few instances")
)

// Phase names a pool state.
type Phase string

const (
	PhaseGeneric      Phase = "generic"
	PhaseParametric   Phase = "parametric"
	PhaseInstantiated Phase = "instantiated"
)

// PhaseError is a contract that does not satisfy the invariant of the
// phase a pool was about to enter.
type PhaseError struct {
	Phase       Phase
	Index       int
	Description string
	Reason      string
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("contract %d (%q) cannot enter %s phase: %s", e.Index, e.Description, e.Phase, e.Reason)
}

// Unwrap makes PhaseError an invariant violation.
func (e *PhaseError) Unwrap() error {
	return contract.ErrInvariant
}

// PreconditionPanicError is a precondition that panicked on generated
// values. Preconditions must be total.
type PreconditionPanicError struct {
	Index       int
	Description string
	Values      []string
	Message     string
}

// Error implements the error interface.
func (e *PreconditionPanicError) Error() string {
	return fmt.Sprintf("precondition of contract %d (%q) panicked on (%s): %s",
		e.Index, e.Description, strings.Join(e.Values, ", "), e.Message)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrServerClosed indicates a request on a closed server.
	ErrServerClosed = errors.New("oracle server closed")

	// ErrProtocol indicates the child answered outside the wire protocol.
	ErrProtocol = errors.New("oracle protocol violation")

	// ErrUnknownPrecondition indicates an index with no compiled entry.
	ErrUnknownPrecondition = errors.New("unknown precondition")
)

// TransportError is a failure talking to an oracle process: it could not
// be written to, closed its output, exited badly or answered garbage.
type TransportError struct {
	// Op is the failed step: "request", "evaluate", "decode" or "close".
	Op string

	// Stderr is what the child wrote to stderr, possibly truncated.
	Stderr string

	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("oracle %s: %v\nstderr:\n%s", e.Op, e.Err, e.Stderr)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased indicates use of a Handle after Release.
	ErrReleased = errors.New("workspace handle already released")

	// ErrOutsideWorkspace indicates a path escaping the workspace root.
	ErrOutsideWorkspace = errors.New("path outside workspace")

	// ErrProcessExited indicates the process closed its output.
	ErrProcessExited = errors.New("process exited")
)

// CompileError is a failed build of a generated crate.
type CompileError struct {
	Crate  string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile crate %s: %v\n%s", e.Crate, e.Err, e.Stderr)
}

// Unwrap returns the underlying exec error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/workspace"
)

// Runner compiles a generated program and starts it.
//
// workspace.Cargo is the production implementation. A failed compile is
// reported as *workspace.CompileError.
type Runner interface {
	CompileAndRun(ctx context.Context, source string, deps contract.Dependencies) (*workspace.Process, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server owns one long-lived oracle process speaking newline-delimited
// JSON.
//
// # Description
//
// Each Request writes one line and blocks for one line back. A mutex
// keeps a single request outstanding. Canceling the request context kills
// the child; a server that failed a request stays failed.
//
// # Thread Safety
//
// Safe for concurrent use. Requests are serialized.
type Server struct {
	mu     sync.Mutex
	proc   *workspace.Process
	failed error
	closed bool
	logger *slog.Logger
}

// NewServer wraps a started process.
func NewServer(proc *workspace.Process, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{proc: proc, logger: logger}
}

// StartServer compiles source with runner and wraps the running binary.
func StartServer(ctx context.Context, runner Runner, source string, deps contract.Dependencies, logger *slog.Logger) (*Server, error) {
	proc, err := runner.CompileAndRun(ctx, source, deps)
	if err != nil {
		return nil, err
	}
	return NewServer(proc, logger), nil
}

// Request sends line and returns the response line.
//
// Outputs:
//
//	string - The response without its newline.
//	error - *TransportError on any I/O failure, ErrServerClosed after Close.
func (s *Server) Request(ctx context.Context, line string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrServerClosed
	}
	if s.failed != nil {
		return "", s.failed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	stop := context.AfterFunc(ctx, func() {
		_ = s.proc.Kill()
	})
	resp, err := s.roundTrip(line)
	stop()
	recordRequest(ctx, time.Since(start), err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.failed = &TransportError{Op: "request", Stderr: s.proc.Stderr(), Err: err}
		s.logger.Warn("oracle request failed",
			slog.Int("pid", s.proc.Pid()),
			slog.String("error", err.Error()),
		)
		return "", s.failed
	}
	return resp, nil
}

func (s *Server) roundTrip(line string) (string, error) {
	if err := s.proc.WriteLine(line); err != nil {
		return "", err
	}
	return s.proc.ReadLine()
}

// RequestTyped sends req as JSON and decodes the response into Resp.
func RequestTyped[Req, Resp any](ctx context.Context, s *Server, req Req) (Resp, error) {
	var resp Resp
	line, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("encode request: %w", err)
	}
	out, err := s.Request(ctx, string(line))
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return resp, &TransportError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
	}
	return resp, nil
}

// Close ends the child's input and waits for it to exit.
//
// Outputs:
//
//	error - *TransportError when the child exits badly, unless a request
//	        already failed.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.proc.Wait()
	if stderr := s.proc.Stderr(); stderr != "" {
		s.logger.Debug("oracle stderr",
			slog.Int("pid", s.proc.Pid()),
			slog.String("stderr", stderr),
		)
	}
	if err != nil && s.failed == nil {
		return &TransportError{Op: "close", Stderr: s.proc.Stderr(), Err: err}
	}
	return nil
}

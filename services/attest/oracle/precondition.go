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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
)

// Response tags written by generated programs.
const (
	TagOk     = "Ok"
	TagCaught = "Caught"
	TagError  = "Error"
)

// Verdict is a precondition's answer for one set of values.
type Verdict struct {
	// Holds is the predicate's value. Meaningless when Caught.
	Holds bool

	// Caught reports that evaluating the predicate panicked.
	Caught bool

	// Panic is the panic message when Caught.
	Panic string
}

type preconditionRequest struct {
	ID       int   `json:"id"`
	Contents []any `json:"contents"`
}

// PreconditionOracle answers precondition queries from one compiled
// server holding every entry of a pool.
//
// Thread Safety: Safe for concurrent use; queries are serialized.
type PreconditionOracle struct {
	server  *Server
	entries []PreconditionEntry
	logger  *slog.Logger
}

// CompilePreconditionOracle builds and starts the precondition server
// for entries.
func CompilePreconditionOracle(ctx context.Context, runner Runner, entries []PreconditionEntry, deps contract.Dependencies, logger *slog.Logger) (*PreconditionOracle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := PreconditionProgram(entries)
	if err != nil {
		return nil, err
	}
	server, err := StartServer(ctx, runner, src, deps, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("precondition oracle started", slog.Int("entries", len(entries)))
	return &PreconditionOracle{server: server, entries: entries, logger: logger}, nil
}

// Len returns the number of entries.
func (o *PreconditionOracle) Len() int {
	return len(o.entries)
}

// Test evaluates entry index on wire-encoded values.
//
// Inputs:
//
//	index - Entry position as passed to CompilePreconditionOracle.
//	values - One wire value per parameter, in parameter order.
//
// Outputs:
//
//	Verdict - Holds, or Caught with the panic message.
//	error - ErrUnknownPrecondition, contract.ErrArity or *TransportError.
func (o *PreconditionOracle) Test(ctx context.Context, index int, values []any) (Verdict, error) {
	if index < 0 || index >= len(o.entries) {
		return Verdict{}, fmt.Errorf("%w: %d of %d", ErrUnknownPrecondition, index, len(o.entries))
	}
	if want := len(o.entries[index].Params); want != len(values) {
		return Verdict{}, fmt.Errorf("%w: precondition %d takes %d values, got %d", contract.ErrArity, index, want, len(values))
	}

	if values == nil {
		values = []any{}
	}
	resp, err := RequestTyped[preconditionRequest, marshal.Tagged](ctx, o.server, preconditionRequest{ID: index, Contents: values})
	if err != nil {
		return Verdict{}, err
	}

	v, err := decodeVerdict(resp)
	recordVerdict(ctx, v, err)
	if err != nil {
		return Verdict{}, &TransportError{Op: "decode", Err: err}
	}
	return v, nil
}

func decodeVerdict(resp marshal.Tagged) (Verdict, error) {
	switch resp.Tag {
	case TagOk:
		data, err := marshal.Expect(resp, TagOk, 1)
		if err != nil {
			return Verdict{}, err
		}
		b, err := marshal.Bool().Decode(data[0])
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Holds: b}, nil
	case TagCaught:
		data, err := marshal.Expect(resp, TagCaught, 1)
		if err != nil {
			return Verdict{}, err
		}
		msg, err := marshal.String().Decode(data[0])
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Caught: true, Panic: msg}, nil
	case TagError:
		return Verdict{}, fmt.Errorf("%w: %v", ErrProtocol, resp.Data)
	}
	return Verdict{}, fmt.Errorf("%w: unexpected tag %q", ErrProtocol, resp.Tag)
}

// Close stops the server.
func (o *PreconditionOracle) Close() error {
	return o.server.Close()
}

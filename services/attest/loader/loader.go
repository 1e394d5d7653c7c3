// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader reads contracts files into contracts.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/ast/rustparse"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

// MaxFileSize bounds a contracts file (4MB).
const MaxFileSize = 4 * 1024 * 1024

var (
	// ErrInvalidFile indicates a file that does not decode or validate.
	ErrInvalidFile = errors.New("invalid contracts file")

	// ErrFileTooLarge indicates a file above MaxFileSize.
	ErrFileTooLarge = errors.New("contracts file too large")
)

// ContractError locates a failure in one contract of a file.
type ContractError struct {
	Index       int
	Description string
	Field       string
	Err         error
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("contract %d (%q) field %s: %v", e.Index, e.Description, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ContractError) Unwrap() error {
	return e.Err
}

// Loader decodes contracts files.
//
// Thread Safety: Safe for concurrent use.
type Loader struct {
	parser *rustparse.Parser
	logger *slog.Logger
}

// New creates a Loader. A nil parser means rustparse.NewParser(); a nil
// logger means slog.Default().
func New(parser *rustparse.Parser, logger *slog.Logger) *Loader {
	if parser == nil {
		parser = rustparse.NewParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{parser: parser, logger: logger}
}

// LoadFile reads the contracts file at path.
//
// Description:
//
//	Relative dependency paths are resolved against the file's directory.
//
// Outputs:
//
//	[]*contract.Contract - In file order.
//	error - ErrFileTooLarge, ErrInvalidFile, *ContractError or an I/O error.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]*contract.Contract, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat contracts file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}

	contracts, err := l.Decode(ctx, data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.Info("loaded contracts",
		slog.String("file", path),
		slog.Int("contracts", len(contracts)),
	)
	return contracts, nil
}

// Decode parses a contracts file held in data. baseDir anchors relative
// dependency paths.
func (l *Loader) Decode(ctx context.Context, data []byte, baseDir string) ([]*contract.Contract, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	out := make([]*contract.Contract, 0, len(f.Contracts))
	for i := range f.Contracts {
		c, err := l.convert(ctx, i, &f.Contracts[i], baseDir)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (l *Loader) convert(ctx context.Context, index int, raw *RawContract, baseDir string) (*contract.Contract, error) {
	fail := func(field string, err error) error {
		return &ContractError{Index: index, Description: raw.Description, Field: field, Err: err}
	}

	c := &contract.Contract{
		Description:    raw.Description,
		Dependencies:   raw.Dependencies.Clone(),
		UseStatements:  raw.UseStatements,
		Tests:          raw.Tests,
		FunctionTested: raw.FunctionTested,
		Seed:           raw.Seed,
	}
	if c.Tests == 0 {
		c.Tests = DefaultTests
	}
	if c.Dependencies == nil {
		c.Dependencies = contract.Dependencies{}
	}
	if err := c.Dependencies.Normalize(baseDir); err != nil {
		return nil, fail("dependencies", err)
	}

	var err error
	pre := raw.Precondition
	if pre == "" {
		pre = "true"
	}
	if c.Precondition, err = l.parser.Expr(ctx, pre); err != nil {
		return nil, fail("precondition", err)
	}
	if c.Postcondition, err = l.parser.Expr(ctx, raw.Postcondition); err != nil {
		return nil, fail("postcondition", err)
	}

	seen := make(map[string]bool)
	for j, in := range raw.Inputs {
		field := fmt.Sprintf("inputs[%d]", j)
		for _, name := range append([]string{in.Name}, in.Aliases...) {
			if seen[name] {
				return nil, fail(field, fmt.Errorf("%w: name %q declared twice", ErrInvalidFile, name))
			}
			seen[name] = true
		}
		input, err := l.input(ctx, in)
		if err != nil {
			return nil, fail(field, err)
		}
		c.Inputs = append(c.Inputs, input)
	}
	return c, nil
}

func (l *Loader) input(ctx context.Context, in RawInput) (contract.Input, error) {
	switch in.Kind {
	case "", KindValue:
		if in.Type == "" {
			return contract.Input{}, fmt.Errorf("%w: value input %q has no type", ErrInvalidFile, in.Name)
		}
		if in.Bounds != "" {
			return contract.Input{}, fmt.Errorf("%w: value input %q has bounds", ErrInvalidFile, in.Name)
		}
		t, err := l.parser.Type(ctx, in.Type)
		if err != nil {
			return contract.Input{}, err
		}
		return contract.Input{Name: in.Name, Kind: contract.ValueKind{Type: t, Aliases: in.Aliases}}, nil
	case KindType:
		if in.Type != "" || len(in.Aliases) > 0 {
			return contract.Input{}, fmt.Errorf("%w: type input %q takes only bounds", ErrInvalidFile, in.Name)
		}
		var bounds *ast.WhereClause
		if in.Bounds != "" {
			w, err := l.parser.WhereClause(ctx, in.Bounds)
			if err != nil {
				return contract.Input{}, err
			}
			bounds = w
		}
		return contract.Input{Name: in.Name, Kind: contract.TypeKind{Bounds: bounds}}, nil
	}
	return contract.Input{}, fmt.Errorf("%w: unknown input kind %q", ErrInvalidFile, in.Kind)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

// DefaultTests is the instance count of a contract that names none.
const DefaultTests = 10

// MaxTests bounds the instance count of one contract.
const MaxTests = 10000

// Input kinds as spelled in contract files.
const (
	KindValue = "value"
	KindType  = "type"
)

// File is the on-disk layout of a contracts file.
//
// # Example
//
//	[[contracts]]
//	description = "add_or_zero doubles small values"
//	precondition = "x <= 127u8"
//	postcondition = "add_or_zero(x, x) == eval(x + x)"
//	use_statements = ["abstractions::add_or_zero"]
//	function_tested = "abstractions::add_or_zero"
//	tests = 20
//
//	[[contracts.inputs]]
//	name = "x"
//	type = "u8"
//
//	[contracts.dependencies]
//	abstractions = { path = "../abstractions" }
type File struct {
	Contracts []RawContract `toml:"contracts" validate:"required,min=1,dive"`
}

// RawContract is one contract before its source fields are parsed.
type RawContract struct {
	Description    string                `toml:"description" validate:"required"`
	Inputs         []RawInput            `toml:"inputs" validate:"dive"`
	Precondition   string                `toml:"precondition"`
	Postcondition  string                `toml:"postcondition" validate:"required"`
	Dependencies   contract.Dependencies `toml:"dependencies"`
	UseStatements  []string              `toml:"use_statements" validate:"dive,required"`
	Tests          int                   `toml:"tests" validate:"gte=0,lte=10000"`
	FunctionTested string                `toml:"function_tested" validate:"omitempty,rustpath"`
	Seed           *int64                `toml:"seed"`
}

// RawInput is one declared input. Type is required for value inputs;
// Bounds is a where clause without the keyword, for type inputs.
type RawInput struct {
	Name    string   `toml:"name" validate:"required,rustident"`
	Kind    string   `toml:"kind" validate:"omitempty,oneof=value type"`
	Type    string   `toml:"type"`
	Aliases []string `toml:"aliases" validate:"dive,rustident"`
	Bounds  string   `toml:"bounds"`
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathPattern  = regexp.MustCompile(`^(::)?[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// fileValidate checks decoded files.
var fileValidate *validator.Validate

func init() {
	fileValidate = validator.New()
	_ = fileValidate.RegisterValidation("rustident", validateIdent)
	_ = fileValidate.RegisterValidation("rustpath", validatePath)
}

func validateIdent(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "_" && identPattern.MatchString(s)
}

func validatePath(fl validator.FieldLevel) bool {
	return pathPattern.MatchString(fl.Field().String())
}

// Validate checks the file against its struct tags.
func (f *File) Validate() error {
	return fileValidate.Struct(f)
}

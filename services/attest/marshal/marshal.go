// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package marshal implements the value encoding shared with oracle
// subprocesses.
//
// # Description
//
// Values travel as one JSON document per line. Scalars use their native
// JSON form, except 128-bit integers which are decimal strings. Every
// composite is an object {"tag": string, "data": [values...]}:
//
//	::slice                      sequence
//	::tuple                      tuple, any arity up to MaxTupleArity
//	std::option::Option::Some    one element
//	std::option::Option::None    no element
//	Less / Equal / Greater       three-way ordering
//
// A Codec converts between a Go type, its wire form and its literal
// rendering in the target language.
package marshal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire tags of composite values.
const (
	TagSlice   = "::slice"
	TagTuple   = "::tuple"
	TagSome    = "std::option::Option::Some"
	TagNone    = "std::option::Option::None"
	TagLess    = "Less"
	TagEqual   = "Equal"
	TagGreater = "Greater"
)

// MaxTupleArity is the largest tuple a Codec can describe.
const MaxTupleArity = 21

// Tagged is the wire form of a composite value.
type Tagged struct {
	Tag  string `json:"tag"`
	Data []any  `json:"data"`
}

// Tag builds a composite wire value.
func Tag(tag string, data ...any) Tagged {
	if data == nil {
		data = []any{}
	}
	return Tagged{Tag: tag, Data: data}
}

// =============================================================================
// ERRORS
// =============================================================================

// EncodingError reports a wire value of the wrong shape.
type EncodingError struct {
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	return "bad encoding: expected " + e.Expected + ", got " + e.Got
}

func mismatch(expected string, got any) error {
	return &EncodingError{Expected: expected, Got: describe(got)}
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case Tagged:
		return fmt.Sprintf("tag %q with %d elements", v.Tag, len(v.Data))
	case *Tagged:
		return describe(*v)
	case map[string]any:
		if t, err := AsTagged(v); err == nil {
			return describe(t)
		}
		return "object"
	case []any:
		return fmt.Sprintf("array of %d", len(v))
	case json.Number:
		return "number " + v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%T", v)
		}
		return fmt.Sprintf("%T %s", v, b)
	}
}

// =============================================================================
// UNTYPED ACCESS
// =============================================================================

// AsTagged interprets a decoded JSON value as a composite.
func AsTagged(v any) (Tagged, error) {
	switch v := v.(type) {
	case Tagged:
		return v, nil
	case *Tagged:
		if v != nil {
			return *v, nil
		}
	case map[string]any:
		tag, ok := v["tag"].(string)
		data, okData := v["data"].([]any)
		if ok && okData && len(v) == 2 {
			return Tagged{Tag: tag, Data: data}, nil
		}
	}
	return Tagged{}, mismatch("tagged value", v)
}

// Expect checks that v is a composite with the given tag and arity and
// returns its elements. A negative arity accepts any length.
func Expect(v any, tag string, arity int) ([]any, error) {
	t, err := AsTagged(v)
	if err != nil {
		return nil, err
	}
	if t.Tag != tag {
		return nil, &EncodingError{Expected: fmt.Sprintf("tag %q", tag), Got: fmt.Sprintf("tag %q", t.Tag)}
	}
	if arity >= 0 && len(t.Data) != arity {
		return nil, &EncodingError{
			Expected: fmt.Sprintf("%d elements for tag %q", arity, tag),
			Got:      strconv.Itoa(len(t.Data)) + " elements",
		}
	}
	return t.Data, nil
}

// Decode parses one JSON document keeping numbers exact.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode wire value: %w", err)
	}
	return v, nil
}

// Marshal encodes v with c into one JSON document.
func Marshal[T any](c Codec[T], v T) ([]byte, error) {
	return json.Marshal(c.Encode(v))
}

// Unmarshal decodes one JSON document with c.
func Unmarshal[T any](c Codec[T], data []byte) (T, error) {
	w, err := Decode(data)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Decode(w)
}

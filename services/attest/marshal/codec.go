// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package marshal

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Codec converts one Go type to and from the wire.
//
// Description:
//
//	Encode produces a value json.Marshal accepts. Decode accepts the
//	output of Decode (numbers as json.Number) as well as Encode's own
//	output, so values can be round-tripped without serialization.
//	Source renders a literal of TypeName in the target language.
type Codec[T any] interface {
	TypeName() string
	Encode(v T) any
	Decode(w any) (T, error)
	Source(v T) string
}

type codec[T any] struct {
	name string
	enc  func(T) any
	dec  func(any) (T, error)
	src  func(T) string
}

func (c *codec[T]) TypeName() string        { return c.name }
func (c *codec[T]) Encode(v T) any          { return c.enc(v) }
func (c *codec[T]) Decode(w any) (T, error) { return c.dec(w) }
func (c *codec[T]) Source(v T) string       { return c.src(v) }

// Erase forgets the Go type of c, for use in tuples.
func Erase[T any](c Codec[T]) Codec[any] {
	return &codec[any]{
		name: c.TypeName(),
		enc: func(v any) any {
			return c.Encode(v.(T))
		},
		dec: func(w any) (any, error) {
			return c.Decode(w)
		},
		src: func(v any) string {
			return c.Source(v.(T))
		},
	}
}

// =============================================================================
// SCALARS
// =============================================================================

// Bool encodes `bool`.
func Bool() Codec[bool] {
	return &codec[bool]{
		name: "bool",
		enc:  func(v bool) any { return v },
		dec: func(w any) (bool, error) {
			b, ok := w.(bool)
			if !ok {
				return false, mismatch("bool", w)
			}
			return b, nil
		},
		src: strconv.FormatBool,
	}
}

// numberText returns the decimal text of a JSON number.
func numberText(w any) (string, bool) {
	switch v := w.(type) {
	case json.Number:
		return v.String(), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case string:
		return v, true
	}
	return "", false
}

func signed[T ~int8 | ~int16 | ~int32 | ~int64](name string, bits int) Codec[T] {
	return &codec[T]{
		name: name,
		enc:  func(v T) any { return int64(v) },
		dec: func(w any) (T, error) {
			if _, isString := w.(string); isString {
				return 0, mismatch(name, w)
			}
			s, ok := numberText(w)
			if !ok {
				return 0, mismatch(name, w)
			}
			n, err := strconv.ParseInt(s, 10, bits)
			if err != nil {
				return 0, mismatch(name, w)
			}
			return T(n), nil
		},
		src: func(v T) string { return strconv.FormatInt(int64(v), 10) + name },
	}
}

func unsigned[T ~uint8 | ~uint16 | ~uint32 | ~uint64](name string, bits int) Codec[T] {
	return &codec[T]{
		name: name,
		enc:  func(v T) any { return uint64(v) },
		dec: func(w any) (T, error) {
			if _, isString := w.(string); isString {
				return 0, mismatch(name, w)
			}
			s, ok := numberText(w)
			if !ok {
				return 0, mismatch(name, w)
			}
			n, err := strconv.ParseUint(s, 10, bits)
			if err != nil {
				return 0, mismatch(name, w)
			}
			return T(n), nil
		},
		src: func(v T) string { return strconv.FormatUint(uint64(v), 10) + name },
	}
}

// Int8 encodes `i8`.
func Int8() Codec[int8] { return signed[int8]("i8", 8) }

// Int16 encodes `i16`.
func Int16() Codec[int16] { return signed[int16]("i16", 16) }

// Int32 encodes `i32`.
func Int32() Codec[int32] { return signed[int32]("i32", 32) }

// Int64 encodes `i64`.
func Int64() Codec[int64] { return signed[int64]("i64", 64) }

// Isize encodes `isize`, assumed 64 bits wide.
func Isize() Codec[int64] { return signed[int64]("isize", 64) }

// Uint8 encodes `u8`.
func Uint8() Codec[uint8] { return unsigned[uint8]("u8", 8) }

// Uint16 encodes `u16`.
func Uint16() Codec[uint16] { return unsigned[uint16]("u16", 16) }

// Uint32 encodes `u32`.
func Uint32() Codec[uint32] { return unsigned[uint32]("u32", 32) }

// Uint64 encodes `u64`.
func Uint64() Codec[uint64] { return unsigned[uint64]("u64", 64) }

// Usize encodes `usize`, assumed 64 bits wide.
func Usize() Codec[uint64] { return unsigned[uint64]("usize", 64) }

var (
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func wide(name string, lo, hi *big.Int) Codec[*big.Int] {
	return &codec[*big.Int]{
		name: name,
		enc:  func(v *big.Int) any { return v.String() },
		dec: func(w any) (*big.Int, error) {
			s, ok := w.(string)
			if !ok {
				return nil, mismatch(name+" as decimal string", w)
			}
			n, ok := new(big.Int).SetString(s, 10)
			if !ok || n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
				return nil, mismatch(name, w)
			}
			return n, nil
		},
		src: func(v *big.Int) string { return v.String() + name },
	}
}

// Int128 encodes `i128` as a decimal string.
func Int128() Codec[*big.Int] { return wide("i128", minInt128, maxInt128) }

// Uint128 encodes `u128` as a decimal string.
func Uint128() Codec[*big.Int] { return wide("u128", new(big.Int), maxUint128) }

func float[T ~float32 | ~float64](name string, bits int) Codec[T] {
	return &codec[T]{
		name: name,
		enc:  func(v T) any { return float64(v) },
		dec: func(w any) (T, error) {
			switch v := w.(type) {
			case json.Number:
				f, err := strconv.ParseFloat(v.String(), bits)
				if err != nil {
					return 0, mismatch(name, w)
				}
				return T(f), nil
			case float64:
				return T(v), nil
			}
			return 0, mismatch(name, w)
		},
		src: func(v T) string {
			f := float64(v)
			switch {
			case math.IsNaN(f):
				return name + "::NAN"
			case math.IsInf(f, 1):
				return name + "::INFINITY"
			case math.IsInf(f, -1):
				return name + "::NEG_INFINITY"
			}
			s := strconv.FormatFloat(f, 'g', -1, bits)
			if !strings.ContainsAny(s, ".e") {
				s += ".0"
			}
			return s + name
		},
	}
}

// Float32 encodes `f32`. Non-finite values have no wire form.
func Float32() Codec[float32] { return float[float32]("f32", 32) }

// Float64 encodes `f64`. Non-finite values have no wire form.
func Float64() Codec[float64] { return float[float64]("f64", 64) }

// String encodes `String`.
func String() Codec[string] {
	return &codec[string]{
		name: "String",
		enc:  func(v string) any { return v },
		dec: func(w any) (string, error) {
			s, ok := w.(string)
			if !ok {
				return "", mismatch("string", w)
			}
			return s, nil
		},
		src: func(v string) string { return QuoteString(v) + ".to_string()" },
	}
}

// Char encodes `char` as a one-character string.
func Char() Codec[rune] {
	return &codec[rune]{
		name: "char",
		enc:  func(v rune) any { return string(v) },
		dec: func(w any) (rune, error) {
			s, ok := w.(string)
			if !ok || utf8.RuneCountInString(s) != 1 {
				return 0, mismatch("char", w)
			}
			r, _ := utf8.DecodeRuneInString(s)
			return r, nil
		},
		src: quoteChar,
	}
}

// =============================================================================
// COMPOSITES
// =============================================================================

// Ordering is the result of a three-way comparison.
type Ordering int8

// Ordering values.
const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// String returns the variant name.
func (o Ordering) String() string {
	switch o {
	case Less:
		return TagLess
	case Equal:
		return TagEqual
	case Greater:
		return TagGreater
	}
	return fmt.Sprintf("Ordering(%d)", int8(o))
}

// OrderingCodec encodes `std::cmp::Ordering`.
func OrderingCodec() Codec[Ordering] {
	return &codec[Ordering]{
		name: "std::cmp::Ordering",
		enc:  func(v Ordering) any { return Tag(v.String()) },
		dec: func(w any) (Ordering, error) {
			t, err := AsTagged(w)
			if err != nil {
				return 0, err
			}
			if len(t.Data) != 0 {
				return 0, mismatch("ordering", w)
			}
			switch t.Tag {
			case TagLess:
				return Less, nil
			case TagEqual:
				return Equal, nil
			case TagGreater:
				return Greater, nil
			}
			return 0, mismatch("ordering", w)
		},
		src: func(v Ordering) string { return "std::cmp::Ordering::" + v.String() },
	}
}

// Option is an optional value.
type Option[T any] struct {
	Value T
	Valid bool
}

// Some wraps v.
func Some[T any](v T) Option[T] { return Option[T]{Value: v, Valid: true} }

// None is the empty Option.
func None[T any]() Option[T] { return Option[T]{} }

// OptionOf encodes `Option<T>`.
func OptionOf[T any](elem Codec[T]) Codec[Option[T]] {
	name := "Option<" + elem.TypeName() + ">"
	return &codec[Option[T]]{
		name: name,
		enc: func(v Option[T]) any {
			if !v.Valid {
				return Tag(TagNone)
			}
			return Tag(TagSome, elem.Encode(v.Value))
		},
		dec: func(w any) (Option[T], error) {
			t, err := AsTagged(w)
			if err != nil {
				return Option[T]{}, err
			}
			switch {
			case t.Tag == TagNone && len(t.Data) == 0:
				return None[T](), nil
			case t.Tag == TagSome && len(t.Data) == 1:
				v, err := elem.Decode(t.Data[0])
				if err != nil {
					return Option[T]{}, err
				}
				return Some(v), nil
			}
			return Option[T]{}, mismatch(name, w)
		},
		src: func(v Option[T]) string {
			if !v.Valid {
				return "None::<" + elem.TypeName() + ">"
			}
			return "Some(" + elem.Source(v.Value) + ")"
		},
	}
}

// SliceOf encodes `Vec<T>`.
func SliceOf[T any](elem Codec[T]) Codec[[]T] {
	return &codec[[]T]{
		name: "Vec<" + elem.TypeName() + ">",
		enc: func(v []T) any {
			data := make([]any, len(v))
			for i, e := range v {
				data[i] = elem.Encode(e)
			}
			return Tag(TagSlice, data...)
		},
		dec: func(w any) ([]T, error) {
			data, err := Expect(w, TagSlice, -1)
			if err != nil {
				return nil, err
			}
			out := make([]T, len(data))
			for i, d := range data {
				if out[i], err = elem.Decode(d); err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
			}
			return out, nil
		},
		src: func(v []T) string {
			if len(v) == 0 {
				return "Vec::<" + elem.TypeName() + ">::new()"
			}
			parts := make([]string, len(v))
			for i, e := range v {
				parts[i] = elem.Source(e)
			}
			return "vec![" + strings.Join(parts, ", ") + "]"
		},
	}
}

// TupleOf encodes a tuple whose element i uses elems[i].
//
// Panics if given more than MaxTupleArity codecs.
func TupleOf(elems ...Codec[any]) Codec[[]any] {
	if len(elems) > MaxTupleArity {
		panic(fmt.Sprintf("marshal: tuple arity %d exceeds %d", len(elems), MaxTupleArity))
	}
	names := make([]string, len(elems))
	for i, e := range elems {
		names[i] = e.TypeName()
	}
	name := tupleText(names)
	return &codec[[]any]{
		name: name,
		enc: func(v []any) any {
			data := make([]any, len(elems))
			for i, e := range elems {
				data[i] = e.Encode(v[i])
			}
			return Tag(TagTuple, data...)
		},
		dec: func(w any) ([]any, error) {
			data, err := Expect(w, TagTuple, len(elems))
			if err != nil {
				return nil, err
			}
			out := make([]any, len(elems))
			for i, e := range elems {
				if out[i], err = e.Decode(data[i]); err != nil {
					return nil, fmt.Errorf("tuple field %d: %w", i, err)
				}
			}
			return out, nil
		},
		src: func(v []any) string {
			parts := make([]string, len(elems))
			for i, e := range elems {
				parts[i] = e.Source(v[i])
			}
			return tupleText(parts)
		},
	}
}

func tupleText(parts []string) string {
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate draws random values of resolved primitive types, each
// as a wire value for the precondition oracle and as a source literal.
package generate

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"

	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

// ErrUnsupportedKind indicates a type with no generator.
var ErrUnsupportedKind = errors.New("no generator for type")

// Sample is one generated value.
type Sample struct {
	// Wire is the value in the oracle wire encoding.
	Wire any

	// Source is the value as a target-language literal, e.g. "200u8".
	Source string
}

// Generator draws uniformly distributed integers.
//
// Thread Safety: Safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	params *gopter.GenParameters
}

// New returns a Generator seeded with seed.
func New(seed int64) *Generator {
	return &Generator{params: gopter.DefaultGenParameters().CloneWithSeed(seed)}
}

// NewRandom returns a Generator seeded from the clock.
func NewRandom() *Generator {
	return New(time.Now().UnixNano())
}

// Generate draws one value of kind.
//
// Outputs:
//
//	Sample - Wire and source forms of the same value.
//	error - ErrUnsupportedKind for anything but a primitive integer.
func (g *Generator) Generate(kind resolve.Kind) (Sample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch kind {
	case resolve.KindI8:
		return sample(g, gen.Int8(), marshal.Int8())
	case resolve.KindI16:
		return sample(g, gen.Int16(), marshal.Int16())
	case resolve.KindI32:
		return sample(g, gen.Int32(), marshal.Int32())
	case resolve.KindI64:
		return sample(g, gen.Int64(), marshal.Int64())
	case resolve.KindIsize:
		return sample(g, gen.Int64(), marshal.Isize())
	case resolve.KindU8:
		return sample(g, gen.UInt8(), marshal.Uint8())
	case resolve.KindU16:
		return sample(g, gen.UInt16(), marshal.Uint16())
	case resolve.KindU32:
		return sample(g, gen.UInt32(), marshal.Uint32())
	case resolve.KindU64:
		return sample(g, gen.UInt64(), marshal.Uint64())
	case resolve.KindUsize:
		return sample(g, gen.UInt64(), marshal.Usize())
	case resolve.KindI128, resolve.KindU128:
		return g.wide(kind == resolve.KindI128)
	}
	return Sample{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
}

// sample draws from gn and renders the value with c.
func sample[T any](g *Generator, gn gopter.Gen, c marshal.Codec[T]) (Sample, error) {
	v, err := draw[T](g, gn)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Wire: c.Encode(v), Source: c.Source(v)}, nil
}

func draw[T any](g *Generator, gn gopter.Gen) (T, error) {
	var zero T
	raw, ok := gn(g.params).Retrieve()
	if !ok {
		return zero, fmt.Errorf("generator for %T produced no value", zero)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("generator produced %T, want %T", raw, zero)
	}
	return v, nil
}

// wide draws 128 random bits.
func (g *Generator) wide(signed bool) (Sample, error) {
	hi, err := draw[uint64](g, gen.UInt64())
	if err != nil {
		return Sample{}, err
	}
	lo, err := draw[uint64](g, gen.UInt64())
	if err != nil {
		return Sample{}, err
	}
	n := new(big.Int).SetUint64(hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(lo))

	c := marshal.Uint128()
	if signed {
		c = marshal.Int128()
		if n.Bit(127) == 1 {
			n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 128))
		}
	}
	return Sample{Wire: c.Encode(n), Source: c.Source(n)}, nil
}

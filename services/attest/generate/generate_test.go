// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
)

func TestGenerate_SeedIsDeterministic(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 20; i++ {
		x, err := a.Generate(resolve.KindU32)
		require.NoError(t, err)
		y, err := b.Generate(resolve.KindU32)
		require.NoError(t, err)
		assert.Equal(t, x, y)
	}
}

func TestGenerate_AllIntegerKinds(t *testing.T) {
	g := New(7)
	for k := resolve.KindI8; k <= resolve.KindUsize; k++ {
		t.Run(k.String(), func(t *testing.T) {
			for i := 0; i < 50; i++ {
				s, err := g.Generate(k)
				require.NoError(t, err)
				assert.True(t, strings.HasSuffix(s.Source, k.String()), s.Source)
			}
		})
	}
}

func TestGenerate_WireMatchesSource(t *testing.T) {
	g := New(1)
	for i := 0; i < 100; i++ {
		s, err := g.Generate(resolve.KindU8)
		require.NoError(t, err)
		v, err := marshal.Uint8().Decode(s.Wire)
		require.NoError(t, err)
		assert.Equal(t, marshal.Uint8().Source(v), s.Source)
	}
}

func TestGenerate_CoversU8Range(t *testing.T) {
	g := New(3)
	var low, high bool
	for i := 0; i < 500; i++ {
		s, err := g.Generate(resolve.KindU8)
		require.NoError(t, err)
		v, err := marshal.Uint8().Decode(s.Wire)
		require.NoError(t, err)
		low = low || v <= 127
		high = high || v > 127
	}
	assert.True(t, low)
	assert.True(t, high)
}

func TestGenerate_Wide(t *testing.T) {
	g := New(9)
	for i := 0; i < 50; i++ {
		s, err := g.Generate(resolve.KindI128)
		require.NoError(t, err)
		_, err = marshal.Int128().Decode(s.Wire)
		require.NoError(t, err)

		s, err = g.Generate(resolve.KindU128)
		require.NoError(t, err)
		v, err := marshal.Uint128().Decode(s.Wire)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v.Sign(), 0)
	}
}

func TestGenerate_Unsupported(t *testing.T) {
	_, err := New(0).Generate(resolve.KindOther)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !appengine

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camny125/yacht/ir"
)

// buildChain emits ((p0 + 1) * 3 - p0) ^ 5 as one straight-line region.
func buildChain(m *ir.Module) *ir.Func {
	f := m.AddFunction("chain", ir.Signature{Params: []ir.Type{ir.I64}, Ret: ir.I64})
	b := ir.NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	one := b.Iconst64(1)
	sum := b.Binop(ir.OpIadd, f.Param(0), one)
	three := b.Iconst64(3)
	prod := b.Binop(ir.OpImul, sum, three)
	diff := b.Binop(ir.OpIsub, prod, f.Param(0))
	five := b.Iconst64(5)
	x := b.Binop(ir.OpXor, diff, five)
	b.Ret(x)
	return f
}

func TestNativeBackendMatchesInterpreter(t *testing.T) {
	ref := func(p int64) uint64 { return uint64(((p+1)*3 - p) ^ 5) }

	m := ir.NewModule("test")
	f := buildChain(m)

	interp := newTestEngine(t, m)
	native := newTestEngine(t, m)
	require.NoError(t, native.EnableNativeBackend())
	require.NotEmpty(t, native.regions, "expected a compiled region")

	for _, p := range []int64{0, 1, 7, -3, 1 << 40} {
		want, err := interp.Run(f, uint64(p))
		require.NoError(t, err)
		require.Equal(t, ref(p), want)

		got, err := native.Run(f, uint64(p))
		require.NoError(t, err)
		require.Equal(t, want, got, "p=%d", p)
	}
}

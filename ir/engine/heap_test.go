// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapAlloc(t *testing.T) {
	h, err := NewHeap()
	require.NoError(t, err)

	p := h.Alloc(12)
	require.NotZero(t, p, "offset 0 is the null reference")
	require.Zero(t, p%wordSize, "allocations are word aligned")
	for i := uint64(0); i < 12; i++ {
		require.Zero(t, h.Byte(p+i), "allocations are zeroed")
	}

	q := h.Alloc(1)
	require.Greater(t, q, p)
	require.Zero(t, q%wordSize)
	require.True(t, h.Contains(p))
	require.True(t, h.Contains(q))
	require.False(t, h.Contains(0))
}

func TestHeapAccessors(t *testing.T) {
	h, err := NewHeap()
	require.NoError(t, err)

	p := h.Alloc(32)
	h.SetWord(h.Slot(p, 1), 0xdeadbeefcafe)
	require.Equal(t, uint64(0xdeadbeefcafe), h.Word(h.Slot(p, 1)))

	h.SetUint32(p, 77)
	require.Equal(t, uint32(77), h.Uint32(p))

	h.SetByte(p+17, 0xab)
	require.Equal(t, byte(0xab), h.Byte(p+17))

	// Little-endian word/byte agreement.
	h.SetWord(h.Slot(p, 3), 0x0102030405060708)
	require.Equal(t, byte(0x08), h.Byte(h.Slot(p, 3)))
}

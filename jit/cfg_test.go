// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camny125/yacht/cil"
)

// checkPartition asserts the §invariants every well-formed CFG holds:
// ascending non-overlapping blocks covering [0, len), every branch
// target a block start, destinations consistent with block kinds.
func checkPartition(t *testing.T, code []cil.Instruction, blocks []BasicBlock) {
	t.Helper()

	starts := make(map[int]bool)
	next := 0
	for _, b := range blocks {
		require.Equal(t, next, b.Start, "blocks must tile the body in order")
		require.NotEmpty(t, b.Code)
		next = b.End()
		starts[b.Start] = true
	}
	require.Equal(t, len(code), next, "blocks must cover [0, code-length)")

	for _, b := range blocks {
		switch b.Kind {
		case ConditionalJmp:
			require.Len(t, b.Dests, 2)
		case UnconditionalJmp, ImplicitJmp:
			require.Len(t, b.Dests, 1)
		case BlockStart:
			require.Empty(t, b.Dests)
		}
		for _, d := range b.Dests {
			require.True(t, starts[d], "destination %d must start a block", d)
		}
	}
}

func ldc(n int32) cil.Instruction { return cil.Instruction{Op: cil.LdcI4, I32: n} }
func br(target int) cil.Instruction {
	return cil.Instruction{Op: cil.Br, Target: target}
}
func brtrue(target int) cil.Instruction {
	return cil.Instruction{Op: cil.Brtrue, Target: target}
}

func TestMakeBasicBlocksStraightLine(t *testing.T) {
	code := []cil.Instruction{ldc(1), ldc(2), {Op: cil.Add}, {Op: cil.Ret}}
	blocks := NewCFGMaker().MakeBasicBlocks(code)

	require.Len(t, blocks, 1)
	require.Equal(t, BlockStart, blocks[0].Kind)
	checkPartition(t, code, blocks)
}

func TestMakeBasicBlocksDiamond(t *testing.T) {
	code := []cil.Instruction{
		ldc(1),    // 0
		brtrue(4), // 1 -> 4 or 2
		ldc(7),    // 2
		br(6),     // 3 -> 6
		ldc(9),    // 4
		br(6),     // 5 -> 6
		{Op: cil.Pop}, // 6
		{Op: cil.Ret}, // 7
	}
	blocks := NewCFGMaker().MakeBasicBlocks(code)
	checkPartition(t, code, blocks)

	require.Len(t, blocks, 4)
	require.Equal(t, ConditionalJmp, blocks[0].Kind)
	require.Equal(t, []int{4, 2}, blocks[0].Dests)
	require.Equal(t, UnconditionalJmp, blocks[1].Kind)
	require.Equal(t, UnconditionalJmp, blocks[2].Kind)
	require.Equal(t, BlockStart, blocks[3].Kind)
}

func TestMakeBasicBlocksLoop(t *testing.T) {
	code := []cil.Instruction{
		ldc(0),                              // 0
		{Op: cil.Stloc0},                    // 1
		{Op: cil.Ldloc0},                    // 2: loop header (target of 6)
		ldc(10),                             // 3
		{Op: cil.Bge, Target: 7},            // 4 -> 7 or 5
		{Op: cil.Nop},                       // 5
		br(2),                               // 6 -> 2
		{Op: cil.Ret},                       // 7
	}
	blocks := NewCFGMaker().MakeBasicBlocks(code)
	checkPartition(t, code, blocks)

	// [0,2) implicit, [2,5) cond, [5,7) uncond back edge, [7,8) tail.
	require.Len(t, blocks, 4)
	require.Equal(t, ImplicitJmp, blocks[0].Kind)
	require.Equal(t, []int{2}, blocks[0].Dests)
	require.Equal(t, ConditionalJmp, blocks[1].Kind)
	require.Equal(t, []int{7, 5}, blocks[1].Dests)
	require.Equal(t, UnconditionalJmp, blocks[2].Kind)
	require.Equal(t, []int{2}, blocks[2].Dests)
	require.Equal(t, BlockStart, blocks[3].Kind)
}

// A final branch leaves no implicit tail block.
func TestMakeBasicBlocksTrailingBranch(t *testing.T) {
	code := []cil.Instruction{
		{Op: cil.Nop}, // 0
		br(0),         // 1 -> 0
	}
	blocks := NewCFGMaker().MakeBasicBlocks(code)
	checkPartition(t, code, blocks)
	require.Len(t, blocks, 1)
	require.Equal(t, UnconditionalJmp, blocks[0].Kind)
}

// A branch targeting the instruction right after itself closes the
// block and starts a new one at the same offset.
func TestMakeBasicBlocksBranchToNext(t *testing.T) {
	code := []cil.Instruction{
		br(1),         // 0 -> 1
		{Op: cil.Ret}, // 1
	}
	blocks := NewCFGMaker().MakeBasicBlocks(code)
	checkPartition(t, code, blocks)
	require.Len(t, blocks, 2)
	require.Equal(t, UnconditionalJmp, blocks[0].Kind)
	require.Equal(t, BlockStart, blocks[1].Kind)
}

// Rebuilding from the same input reproduces the same blocks, and the
// partition properties hold over generated well-formed bodies.
func TestMakeBasicBlocksProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		n := 4 + rng.Intn(40)
		code := make([]cil.Instruction, n)
		for i := range code {
			code[i] = ldc(int32(i))
		}
		code[n-1] = cil.Instruction{Op: cil.Ret}
		// Sprinkle conditional branches with in-range targets; a
		// conditional branch always marks its fall-through, so the
		// body stays fully covered.
		for k := 0; k < 1+rng.Intn(4); k++ {
			code[rng.Intn(n-1)] = brtrue(rng.Intn(n))
		}

		maker := NewCFGMaker()
		blocks := maker.MakeBasicBlocks(code)
		again := maker.MakeBasicBlocks(code)
		require.Equal(t, blocks, again, "construction must be deterministic")
		checkPartition(t, code, blocks)
	}
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func countOp(f *Func, op Opcode) int {
	n := 0
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op == op {
				n++
			}
		}
	}
	return n
}

func TestInstcombineFoldsConstants(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	sum := b.Binop(OpIadd, b.Iconst32(20), b.Iconst32(22))
	b.Ret(sum)
	require.NoError(t, Verify(m))

	RunPasses(m)
	require.NoError(t, Verify(m))
	require.Equal(t, 0, countOp(f, OpIadd))

	// The returned value must now be a constant 42.
	ret := f.Blocks[len(f.Blocks)-1].Terminator()
	def := f.defs()[ret.Args[0]]
	require.Equal(t, OpIconst, def.Op)
	require.Equal(t, int64(42), def.I64)
}

func TestInstcombineStripsIdentity(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I32}, Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	v := b.Binop(OpIadd, f.Param(0), b.Iconst32(0))
	v = b.Binop(OpImul, v, b.Iconst32(1))
	b.Ret(v)
	require.NoError(t, Verify(m))

	RunPasses(m)
	require.NoError(t, Verify(m))
	require.Equal(t, 0, countOp(f, OpIadd))
	require.Equal(t, 0, countOp(f, OpImul))
	ret := f.Blocks[0].Terminator()
	require.Equal(t, f.Param(0), ret.Args[0])
}

func TestReassociatePutsConstantRight(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I32}, Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	c := b.Iconst32(5)
	v := b.Binop(OpIadd, c, f.Param(0)) // constant on the left
	b.Ret(v)

	reassociate(f)
	add := f.Blocks[0].Instrs[1]
	require.Equal(t, OpIadd, add.Op)
	require.Equal(t, f.Param(0), add.Args[0])
	require.Equal(t, c, add.Args[1])
}

func TestGVNDeduplicates(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I32, I32}, Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	x := b.Binop(OpIadd, f.Param(0), f.Param(1))
	y := b.Binop(OpIadd, f.Param(0), f.Param(1)) // same expression
	b.Ret(b.Binop(OpImul, x, y))
	require.NoError(t, Verify(m))

	gvn(f)
	require.NoError(t, Verify(m))
	require.Equal(t, 1, countOp(f, OpIadd))
	mul := f.Blocks[0].Instrs[len(f.Blocks[0].Instrs)-2]
	require.Equal(t, OpImul, mul.Op)
	require.Equal(t, mul.Args[0], mul.Args[1])
}

func TestMem2RegPromotesSingleBlockCell(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I64}, Ret: I64})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	cell := b.Alloca()
	b.Store(cell, f.Param(0))
	v := b.Load(I64, cell)
	b.Ret(v)
	require.NoError(t, Verify(m))

	mem2reg(f)
	require.NoError(t, Verify(m))
	require.Equal(t, 0, countOp(f, OpAlloca))
	require.Equal(t, 0, countOp(f, OpLoad))
	require.Equal(t, 0, countOp(f, OpStore))
	require.Equal(t, f.Param(0), f.Blocks[0].Terminator().Args[0])
}

func TestMem2RegLeavesCrossBlockCells(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I64}, Ret: I64})
	b := NewBuilder()
	entry := f.NewBlock("entry")
	next := f.NewBlock("next")
	b.SetInsertPoint(entry)
	cell := b.Alloca()
	b.Store(cell, f.Param(0))
	b.Jump(next)
	b.SetInsertPoint(next)
	b.Ret(b.Load(I64, cell))
	require.NoError(t, Verify(m))

	mem2reg(f)
	require.NoError(t, Verify(m))
	require.Equal(t, 1, countOp(f, OpAlloca))
	require.Equal(t, 1, countOp(f, OpLoad))
}

func TestTailCallMarking(t *testing.T) {
	m := NewModule("test")
	callee := m.AddFunction("callee", Signature{Ret: I32})
	f := m.AddFunction("f", Signature{Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	r := b.Call(callee)
	b.Ret(r)

	tailCallElim(f)
	require.True(t, f.Blocks[0].Instrs[0].Tail)
}

func TestJumpThreadingRemovesForwarder(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Ret: Void})
	b := NewBuilder()
	entry := f.NewBlock("entry")
	forward := f.NewBlock("forward")
	target := f.NewBlock("target")

	b.SetInsertPoint(entry)
	b.Jump(forward)
	b.SetInsertPoint(forward)
	b.Jump(target)
	b.SetInsertPoint(target)
	b.RetVoid()
	require.NoError(t, Verify(m))

	jumpThreading(f)
	require.NoError(t, Verify(m))
	require.Len(t, f.Blocks, 2)
	require.Equal(t, target, f.Blocks[0].Terminator().Blocks[0])
}

func TestJumpThreadingKeepsPhiPredecessors(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Ret: I32})
	b := NewBuilder()
	entry := f.NewBlock("entry")
	left := f.NewBlock("left")
	merge := f.NewBlock("merge")

	b.SetInsertPoint(entry)
	one := b.Iconst32(1)
	two := b.Iconst32(2)
	cond := b.Icmp(PredNe, one, b.Iconst32(0))
	b.CondBr(cond, left, merge)

	b.SetInsertPoint(left)
	b.Jump(merge) // forwarder, but merge has a phi edge from it

	b.SetInsertPoint(merge)
	phi := b.Phi(I32)
	b.AddIncoming(phi, one, entry)
	b.AddIncoming(phi, two, left)
	b.Ret(phi.Result())

	blocks := len(f.Blocks)
	jumpThreading(f)
	require.Len(t, f.Blocks, blocks)
}

// The pipeline is idempotent: a second run changes nothing.
func TestRunPassesIdempotent(t *testing.T) {
	m := NewModule("test")
	f := m.AddFunction("f", Signature{Params: []Type{I32}, Ret: I32})
	b := NewBuilder()
	b.SetInsertPoint(f.NewBlock("entry"))
	v := b.Binop(OpIadd, f.Param(0), b.Iconst32(0))
	v = b.Binop(OpIadd, b.Iconst32(3), v)
	b.Ret(v)
	require.NoError(t, Verify(m))

	RunPasses(m)
	first := f.Format()
	RunPasses(m)
	require.Equal(t, first, f.Format())
	require.NoError(t, Verify(m))
}

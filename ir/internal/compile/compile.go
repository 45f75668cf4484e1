// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compile is used internally by the engine to turn straight-line
// integer regions of IR blocks into native code. A region is rewritten
// into a tiny stack program (push local, push constant, binary op, pop
// to local) that the platform backend assembles; the engine invokes the
// result through a trampoline with a scratch stack and a locals array
// holding the region's inputs and outputs.
package compile

import "github.com/camny125/yacht/ir"

// minRegionLen is the shortest run worth compiling; shorter ones stay
// with the interpreter.
const minRegionLen = 4

// OpKind tags one stack-program operation.
type OpKind byte

const (
	// KindPushLocal pushes locals[Local].
	KindPushLocal OpKind = iota
	// KindPushConst pushes Imm.
	KindPushConst
	// KindBinop pops the right then the left operand and pushes the
	// result of Op.
	KindBinop
	// KindPopLocal pops into locals[Local].
	KindPopLocal
)

// StackOp is one operation of the region's stack program.
type StackOp struct {
	Kind  OpKind
	Op    ir.Opcode
	Imm   int64
	Local int
}

// Result maps one region-defined SSA value to the local slot holding it
// on exit.
type Result struct {
	Val   ir.Value
	Local int
	Ty    ir.Type
}

// Candidate is a compilable region of a block: the instruction range,
// the stack program and its local-array layout.
type Candidate struct {
	Start, End int
	Inputs     []ir.Value
	NumLocals  int
	MaxStack   int
	Prog       []StackOp
	Results    []Result
}

func supported(i *ir.Instr) bool {
	switch i.Op {
	case ir.OpIconst:
		return true
	case ir.OpIadd, ir.OpIsub, ir.OpImul, ir.OpXor:
		// add, sub, mul and xor are congruent modulo 2^64, so narrow
		// results stay exact when masked on exit.
		return i.Ty.IsInt()
	}
	return false
}

// ScanBlock finds the first run of at least minRegionLen supported
// instructions in b and builds its stack program. It returns nil when
// the block has no such run.
func ScanBlock(f *ir.Func, b *ir.Block) *Candidate {
	start, end := -1, -1
	run := 0
	for n, i := range b.Instrs {
		if i.Op == ir.OpPhi {
			continue
		}
		if supported(i) {
			if run == 0 {
				start = n
			}
			run++
			end = n + 1
			continue
		}
		if run >= minRegionLen {
			break
		}
		run = 0
	}
	if run < minRegionLen {
		return nil
	}
	return buildProgram(f, b, start, end)
}

func buildProgram(f *ir.Func, b *ir.Block, start, end int) *Candidate {
	c := &Candidate{Start: start, End: end}

	slotOf := make(map[ir.Value]int)
	inputSlot := func(v ir.Value) int {
		if s, ok := slotOf[v]; ok {
			return s
		}
		s := len(c.Inputs)
		c.Inputs = append(c.Inputs, v)
		slotOf[v] = s
		return s
	}
	// Inputs claim the leading local slots; every region instruction
	// gets one slot after them.
	for n := start; n < end; n++ {
		i := b.Instrs[n]
		for _, a := range i.Args {
			if _, ok := slotOf[a]; !ok && !definedIn(b, start, n, a) {
				inputSlot(a)
			}
		}
	}
	base := len(c.Inputs)
	for n := start; n < end; n++ {
		slotOf[b.Instrs[n].Result()] = base + (n - start)
	}
	c.NumLocals = base + (end - start)
	c.MaxStack = 2

	for n := start; n < end; n++ {
		i := b.Instrs[n]
		switch i.Op {
		case ir.OpIconst:
			c.Prog = append(c.Prog, StackOp{Kind: KindPushConst, Imm: i.I64})
		default:
			for _, a := range i.Args {
				c.Prog = append(c.Prog, StackOp{Kind: KindPushLocal, Local: slotOf[a]})
			}
			c.Prog = append(c.Prog, StackOp{Kind: KindBinop, Op: i.Op})
		}
		c.Prog = append(c.Prog, StackOp{Kind: KindPopLocal, Local: slotOf[i.Result()]})
		c.Results = append(c.Results, Result{
			Val: i.Result(), Local: slotOf[i.Result()], Ty: i.Ty,
		})
	}
	return c
}

func definedIn(b *ir.Block, start, before int, v ir.Value) bool {
	for n := start; n < before; n++ {
		if b.Instrs[n].Result() == v {
			return true
		}
	}
	return false
}

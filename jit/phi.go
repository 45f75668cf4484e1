// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import "github.com/camny125/yacht/ir"

// PhiStack is one predecessor's operand-stack snapshot, recorded when
// the predecessor finishes so the destination can merge it at entry.
type PhiStack struct {
	src   *ir.Block
	stack []TypedValue
}

// buildPhiStack returns the operand stack at a block's entry: the
// caller-provided stack extended with one phi per merged position. At
// the first registered predecessor each position gets a phi seeded with
// that predecessor's value; every further predecessor contributes one
// incoming edge per position.
//
// Predecessor stacks must agree in depth and in interned TypeID at
// every position; both are audited before any edge is added.
func (c *JITCompiler) buildPhiStack(start int, initStack []TypedValue) []TypedValue {
	stack := append([]TypedValue(nil), initStack...)

	phiStacks := c.phiStack[start]
	if len(phiStacks) == 0 {
		return stack
	}

	first := phiStacks[0]
	for _, rest := range phiStacks[1:] {
		if len(rest.stack) != len(first.stack) {
			panic(PhiMergeError{Dest: start, Position: len(first.stack),
				Msg: "predecessor stacks differ in depth"})
		}
		for i := range rest.stack {
			if rest.stack[i].Ty != first.stack[i].Ty {
				panic(PhiMergeError{Dest: start, Position: i,
					Msg: "predecessor stacks differ in type"})
			}
		}
	}

	phis := make([]*ir.Instr, len(first.stack))
	for i, tv := range first.stack {
		phi := c.Env.Builder.Phi(c.Env.irTypeOfID(tv.Ty))
		c.Env.Builder.AddIncoming(phi, tv.Val, first.src)
		phis[i] = phi
		stack = append(stack, TypedValue{Ty: tv.Ty, Val: phi.Result()})
	}
	for _, ps := range phiStacks[1:] {
		for i, tv := range ps.stack {
			c.Env.Builder.AddIncoming(phis[i], tv.Val, ps.src)
		}
	}
	return stack
}

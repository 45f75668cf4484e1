// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"sort"

	"github.com/camny125/yacht/cil"
)

// BrKind classifies how a basic block ends.
type BrKind int

const (
	// BlockStart is the construction-time kind of a block with no
	// explicit terminator (only the final block may keep it).
	BlockStart BrKind = iota
	// ConditionalJmp ends with a two-destination branch.
	ConditionalJmp
	// UnconditionalJmp ends with a br.
	UnconditionalJmp
	// ImplicitJmp falls through into the next block.
	ImplicitJmp
)

// BasicBlock is a maximal run of instructions with one entry and one
// terminator. Start is the offset of its first instruction in the
// method body; Dests holds the terminator's destination offsets
// (two for ConditionalJmp: taken then fall-through).
type BasicBlock struct {
	Start     int
	Code      []cil.Instruction
	Kind      BrKind
	Dests     []int
	Generated bool
}

// End returns the offset one past the block's final instruction.
func (b *BasicBlock) End() int { return b.Start + len(b.Code) }

// CFGMaker partitions method bodies into basic blocks.
type CFGMaker struct{}

// NewCFGMaker returns a CFGMaker.
func NewCFGMaker() *CFGMaker { return &CFGMaker{} }

type jumpMark struct {
	kind  BrKind
	dests []int
}

// MakeBasicBlocks partitions code into ordered basic blocks. Block
// starts are recorded at every branch target and after every branch;
// jump marks are recorded at the branches themselves. Blocks then close
// at each boundary, in ascending offset order. When a block-start and a
// jump fall on the same offset, the start is handled first.
func (m *CFGMaker) MakeBasicBlocks(code []cil.Instruction) []BasicBlock {
	starts := make(map[int]bool)
	jumps := make(map[int]jumpMark)

	for pc, instr := range code {
		switch {
		case instr.Op.IsCondBranch():
			jumps[pc] = jumpMark{kind: ConditionalJmp, dests: []int{instr.Target, pc + 1}}
			starts[instr.Target] = true
			starts[pc+1] = true
		case instr.Op == cil.Br:
			jumps[pc] = jumpMark{kind: UnconditionalJmp, dests: []int{instr.Target}}
			starts[instr.Target] = true
			starts[pc+1] = true
		}
	}

	offsets := make([]int, 0, len(starts)+len(jumps))
	seen := make(map[int]bool)
	for k := range starts {
		if !seen[k] {
			offsets = append(offsets, k)
			seen[k] = true
		}
	}
	for k := range jumps {
		if !seen[k] {
			offsets = append(offsets, k)
			seen[k] = true
		}
	}
	sort.Ints(offsets)

	var blocks []BasicBlock
	start := 0
	open := true

	emit := func(lo, hi int, kind BrKind, dests []int) {
		blocks = append(blocks, BasicBlock{
			Start: lo,
			Code:  code[lo:hi],
			Kind:  kind,
			Dests: dests,
		})
	}

	for _, key := range offsets {
		if starts[key] {
			if open && start < key {
				emit(start, key, ImplicitJmp, []int{key})
			}
			start, open = key, true
		}
		if j, ok := jumps[key]; ok {
			if open && start < key+1 {
				emit(start, key+1, j.kind, j.dests)
			}
			open = false
		}
	}
	if open && start < len(code) {
		emit(start, len(code), BlockStart, nil)
	}

	return blocks
}

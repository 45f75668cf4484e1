// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import "github.com/camny125/yacht/ir"

// nativeCodeUnit is compiled native code for one region; see
// ir/internal/compile.
type nativeCodeUnit interface {
	Invoke(stack, locals []uint64)
}

type regionResult struct {
	val   ir.Value
	local int
	ty    ir.Type
}

// compiledRegion is the native code covering instructions [start, end)
// of one block, with the local-array layout bridging SSA values in and
// out.
type compiledRegion struct {
	start, end int
	inputs     []ir.Value
	results    []regionResult
	numLocals  int
	maxStack   int
	code       nativeCodeUnit
}

func (r *compiledRegion) run(e *Engine, values []uint64) {
	locals := make([]uint64, r.numLocals)
	for n, in := range r.inputs {
		locals[n] = values[in]
	}
	stack := make([]uint64, 0, r.maxStack)
	r.code.Invoke(stack, locals)
	for _, res := range r.results {
		values[res.val] = maskVal(res.ty, locals[res.local])
	}
}

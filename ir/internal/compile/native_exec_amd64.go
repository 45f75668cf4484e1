// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !appengine

package compile

import "unsafe"

// AsmBlock is a compiled stack program in executable memory.
type AsmBlock struct {
	mem []byte
}

// NewAsmBlock wraps executable memory returned by MMapAllocator.
func NewAsmBlock(mem []byte) *AsmBlock { return &AsmBlock{mem: mem} }

// Invoke runs the block. stack must have the region's scratch capacity
// and length 0; locals carries the inputs and receives the outputs.
func (b *AsmBlock) Invoke(stack, locals []uint64) {
	s, l := stack, locals
	jitcall(unsafe.Pointer(&b.mem[0]), unsafe.Pointer(&s), unsafe.Pointer(&l))
}

// jitcall hands control to compiled code with R10 pointing at the stack
// sliceHeader and R11 at the locals sliceHeader. Implemented in
// jitcall_amd64.s.
//
//go:noescape
func jitcall(code, stack, locals unsafe.Pointer)

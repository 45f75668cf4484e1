// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	mmap "github.com/edsrzf/mmap-go"
)

const (
	// minAllocSize is the granularity of executable mappings.
	minAllocSize = 65536
	// allocationAlignment keeps each unit on its own cache-line
	// multiple within a mapping.
	allocationAlignment = 128
)

// block is one executable mapping being carved up.
type block struct {
	mem       mmap.MMap
	consumed  uint32
	remaining uint32
}

// MMapAllocator copies code into memory mapped read-write-execute.
// Mappings are never unmapped before Close; units stay valid for the
// life of the allocator.
type MMapAllocator struct {
	blocks []*block
	last   *block
}

// AllocateExec returns the code copied into executable memory.
func (a *MMapAllocator) AllocateExec(code []byte) ([]byte, error) {
	need := uint32(len(code)+allocationAlignment-1) &^ uint32(allocationAlignment-1)
	if a.last == nil || a.last.remaining < need {
		size := minAllocSize
		for size < int(need) {
			size *= 2
		}
		mem, err := mmap.MapRegion(nil, size, mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
		if err != nil {
			return nil, err
		}
		a.last = &block{mem: mem, remaining: uint32(size)}
		a.blocks = append(a.blocks, a.last)
	}
	b := a.last
	out := b.mem[b.consumed : b.consumed+uint32(len(code))]
	copy(out, code)
	b.consumed += need
	b.remaining -= need
	return out, nil
}

// Close unmaps every mapping. Compiled units must not run afterwards.
func (a *MMapAllocator) Close() error {
	var firstErr error
	for _, b := range a.blocks {
		if err := b.mem.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.blocks, a.last = nil, nil
	return firstErr
}

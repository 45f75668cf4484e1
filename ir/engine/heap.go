// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"encoding/binary"
	"fmt"

	mmap "github.com/edsrzf/mmap-go"
)

// Heap is the managed heap arena. Class records, arrays, string payloads,
// method-table storage and local-variable cells are all bump-allocated
// from it; nothing is ever freed. A pointer value is a byte offset into
// the arena, offset 0 is the null reference.
//
// The arena is mapped up front so that offsets stay stable for the life
// of the process.
type Heap struct {
	mem mmap.MMap
	off uint64
}

// heapSize is the fixed arena size. The allocator never fails while the
// arena has room; running out is terminal.
const heapSize = 1 << 28 // 256 MB

const wordSize = 8

var endianess = binary.LittleEndian

// OutOfMemoryError is the terminal failure of the bump allocator.
type OutOfMemoryError uint64

func (e OutOfMemoryError) Error() string {
	return fmt.Sprintf("engine: heap exhausted allocating %d bytes", uint64(e))
}

// NewHeap maps a fresh arena.
func NewHeap() (*Heap, error) {
	mem, err := mmap.MapRegion(nil, heapSize, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	// Reserve the first word so that no allocation gets offset 0.
	return &Heap{mem: mem, off: wordSize}, nil
}

// Alloc returns the offset of a zeroed, word-aligned block of n bytes.
func (h *Heap) Alloc(n uint32) uint64 {
	size := (uint64(n) + wordSize - 1) &^ (wordSize - 1)
	if h.off+size > uint64(len(h.mem)) {
		panic(OutOfMemoryError(n))
	}
	p := h.off
	h.off += size
	return p
}

// Size returns the number of bytes allocated so far, the reserved null
// word included.
func (h *Heap) Size() uint64 { return h.off }

// Contains reports whether p points into the allocated region.
func (h *Heap) Contains(p uint64) bool { return p > 0 && p < h.off }

// Byte reads one byte at p.
func (h *Heap) Byte(p uint64) byte { return h.mem[p] }

// SetByte writes one byte at p.
func (h *Heap) SetByte(p uint64, v byte) { h.mem[p] = v }

// Uint32 reads a 32-bit word at p.
func (h *Heap) Uint32(p uint64) uint32 { return endianess.Uint32(h.mem[p:]) }

// SetUint32 writes a 32-bit word at p.
func (h *Heap) SetUint32(p uint64, v uint32) { endianess.PutUint32(h.mem[p:], v) }

// Word reads a 64-bit word at p.
func (h *Heap) Word(p uint64) uint64 { return endianess.Uint64(h.mem[p:]) }

// SetWord writes a 64-bit word at p.
func (h *Heap) SetWord(p uint64, v uint64) { endianess.PutUint64(h.mem[p:], v) }

// Slot addresses word i of the record at p.
func (h *Heap) Slot(p uint64, i int) uint64 { return p + uint64(i)*wordSize }

// Bytes returns the n bytes at p without copying.
func (h *Heap) Bytes(p uint64, n uint32) []byte { return h.mem[p : p+uint64(n)] }

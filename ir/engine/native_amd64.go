// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !appengine

package engine

import (
	"github.com/camny125/yacht/ir/internal/compile"
)

// compileNativeRegions scans every defined function for straight-line
// integer regions and compiles them with the amd64 backend.
func (e *Engine) compileNativeRegions() error {
	alloc := &compile.MMapAllocator{}
	backend := &compile.AMD64Backend{}

	for _, f := range e.m.Funcs {
		if f.Declared() {
			continue
		}
		for _, b := range f.Blocks {
			cand := compile.ScanBlock(f, b)
			if cand == nil {
				continue
			}
			code, err := backend.Build(cand)
			if err != nil {
				return err
			}
			mem, err := alloc.AllocateExec(code)
			if err != nil {
				return err
			}
			results := make([]regionResult, len(cand.Results))
			for n, res := range cand.Results {
				results[n] = regionResult{val: res.Val, local: res.Local, ty: res.Ty}
			}
			e.regions[b] = &compiledRegion{
				start:     cand.Start,
				end:       cand.End,
				inputs:    cand.Inputs,
				results:   results,
				numLocals: cand.NumLocals,
				maxStack:  cand.MaxStack,
				code:      compile.NewAsmBlock(mem),
			}
		}
	}
	return nil
}

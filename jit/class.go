// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import "github.com/camny125/yacht/metadata"

// ClassShape is the physical realization of a class: its record layout
// (one word for the method-table pointer, one word per field, in field
// order) and the stable storage for its method table.
type ClassShape struct {
	Class *metadata.ClassInfo
	// MethodTable is the heap offset of the class's method-table
	// storage: one word per v-table slot, zeroed until the entry
	// prologue populates it.
	MethodTable uint64
}

// RecordSize returns the byte size of one instance record.
func (s *ClassShape) RecordSize() uint32 {
	return uint32(1+len(s.Class.Fields)) * 8
}

// ClassShape realizes class on first reference. The shape is registered
// under its type path before field types are visited, so recursive
// references (a field of type C inside C) resolve to the shape being
// built.
func (env *SharedEnvironment) ClassShape(class *metadata.ClassInfo) *ClassShape {
	path := class.Path()
	if s, ok := env.classShapes[path]; ok {
		return s
	}

	n := uint32(len(class.MethodTable)) * 8
	if n == 0 {
		// Even method-less classes get distinct table storage; the
		// pointer doubles as the class's runtime identity.
		n = 8
	}
	s := &ClassShape{Class: class, MethodTable: env.Heap.Alloc(n)}
	env.classShapes[path] = s

	for _, f := range class.Fields {
		if c := f.Ty.AsClass(); c != nil {
			env.ClassShape(c)
		}
	}
	return s
}

// ensureClassMethodsCompiled fills in the method-table info for class,
// declaring (and queueing) every slot's function on first reference. It
// returns the table's storage offset. The storage itself is written by
// the entry prologue once the engine is bound.
func (c *JITCompiler) ensureClassMethodsCompiled(class *metadata.ClassInfo) uint64 {
	shape := c.Env.ClassShape(class)
	if _, ok := c.Env.methodTableMap[shape.MethodTable]; ok {
		return shape.MethodTable
	}

	info := &methodTableInfo{table: shape.MethodTable}
	for _, m := range class.MethodTable {
		switch m := m.(type) {
		case *metadata.MethodDef:
			info.methods = append(info.methods, c.functionByRVA(m.RVA))
		case *metadata.MethodRef:
			path := m.Class.Path().WithMethodName(m.Name)
			f := c.Env.Methods.Get(path, m.Ty)
			if f == nil {
				panic(UnknownMemberError{Path: path})
			}
			info.methods = append(info.methods, f.IRFunc)
		default:
			panic(unsupported("method info %T", m))
		}
	}
	c.Env.methodTableMap[shape.MethodTable] = info
	c.Env.methodTables = append(c.Env.methodTables, info)
	return shape.MethodTable
}

// setupMscorlibSystem realizes the bootstrap classes. The String
// method-table pointer is kept at hand for ldstr.
func (c *JITCompiler) setupMscorlibSystem() {
	for _, class := range []*metadata.ClassInfo{ClassObject, ClassInt32, ClassString} {
		c.Env.ClassShape(class)
		mt := c.ensureClassMethodsCompiled(class)
		if class == ClassString {
			c.Env.stringMethodTable = mt
		}
	}
}

// MethodTable returns the storage offset and slot count of the class's
// realized method table.
func (env *SharedEnvironment) MethodTable(class *metadata.ClassInfo) (uint64, int, bool) {
	s, ok := env.classShapes[class.Path()]
	if !ok {
		return 0, 0, false
	}
	return s.MethodTable, len(s.Class.MethodTable), true
}

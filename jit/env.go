// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"io"
	"os"

	"github.com/camny125/yacht/ir"
	"github.com/camny125/yacht/ir/engine"
	"github.com/camny125/yacht/metadata"
)

// TypedValue pairs an interned type with a backend SSA value. It is the
// unit of the lowering-time operand stack; nothing of it survives into
// execution.
type TypedValue struct {
	Ty  metadata.TypeID
	Val ir.Value
}

// CodeEnvironment maps a method's local and argument slots to their
// stack cells and static types. Cells are allocated on first use in the
// entry block; the declared type is captured the first time a slot is
// seen.
type CodeEnvironment struct {
	arguments map[int]TypedValue
	locals    map[int]TypedValue
}

// NewCodeEnvironment returns an empty per-method environment.
func NewCodeEnvironment() CodeEnvironment {
	return CodeEnvironment{
		arguments: make(map[int]TypedValue),
		locals:    make(map[int]TypedValue),
	}
}

// AssemblyEnvironment is the per-assembly compilation state: forward
// declarations keyed by RVA and the FIFO queue of bodies awaiting
// emission.
type AssemblyEnvironment struct {
	generated map[uint32]*ir.Func
	queue     []queuedMethod
}

type queuedMethod struct {
	fn     *ir.Func
	method *metadata.MethodDef
}

func newAssemblyEnvironment() *AssemblyEnvironment {
	return &AssemblyEnvironment{generated: make(map[uint32]*ir.Func)}
}

// methodTableInfo records one realized method table: its storage offset
// in the heap arena and the functions its slots will hold. Slots are
// written by the entry prologue, after the engine knows every address.
type methodTableInfo struct {
	table   uint64
	methods []*ir.Func
}

// SharedEnvironment is the process-wide compilation state: the method
// registry, realized class shapes, method tables, the backend module
// with its single shared builder, the heap arena and the type arena.
// It outlives every compiled module and is single-threaded by design.
type SharedEnvironment struct {
	// Methods holds builtin methods and methods belonging to loaded
	// assemblies, searchable by MethodPath.
	Methods *MethodMap

	Module  *ir.Module
	Builder *ir.Builder
	Heap    *engine.Heap
	Types   *metadata.TypeArena

	helpers     map[string]*Function
	classShapes map[metadata.TypePath]*ClassShape
	// methodTableMap is keyed by the table's stable storage offset.
	methodTableMap map[uint64]*methodTableInfo
	// methodTables keeps realization order for the prologue walk.
	methodTables []*methodTableInfo

	asmEnvs map[string]*AssemblyEnvironment

	// stringMethodTable is the String method-table storage, wanted by
	// every ldstr site.
	stringMethodTable uint64

	mscorlibDone  bool
	nativeBackend bool
	out           io.Writer
}

// NewSharedEnvironment builds the environment, maps the heap and
// registers the built-in runtime.
func NewSharedEnvironment() (*SharedEnvironment, error) {
	heap, err := engine.NewHeap()
	if err != nil {
		return nil, err
	}
	env := &SharedEnvironment{
		Module:         ir.NewModule("yacht"),
		Builder:        ir.NewBuilder(),
		Heap:           heap,
		Types:          metadata.NewTypeArena(),
		helpers:        make(map[string]*Function),
		classShapes:    make(map[metadata.TypePath]*ClassShape),
		methodTableMap: make(map[uint64]*methodTableInfo),
		asmEnvs:        make(map[string]*AssemblyEnvironment),
		out:            os.Stdout,
	}
	env.Methods = newMethodMap()
	env.registerBuiltins()
	return env, nil
}

// SetOutput redirects Console output (stdout by default).
func (env *SharedEnvironment) SetOutput(w io.Writer) { env.out = w }

// EnableNativeBackend asks the engine to compile straight-line integer
// regions to machine code on platforms that support it.
func (env *SharedEnvironment) EnableNativeBackend() { env.nativeBackend = true }

// assemblyEnv returns the shared per-assembly environment, creating it
// on first sight so that every compiler pass over the same assembly
// sees one declaration per RVA.
func (env *SharedEnvironment) assemblyEnv(name string) *AssemblyEnvironment {
	if ae, ok := env.asmEnvs[name]; ok {
		return ae
	}
	ae := newAssemblyEnvironment()
	env.asmEnvs[name] = ae
	return ae
}

// TypeID interns t.
func (env *SharedEnvironment) TypeID(t *metadata.Type) metadata.TypeID {
	return env.Types.Intern(t)
}

// irType lowers a metadata type to its backend representation.
func (env *SharedEnvironment) irType(t *metadata.Type) ir.Type {
	switch t.Kind {
	case metadata.ElemVoid:
		return ir.Void
	case metadata.ElemBoolean:
		return ir.I8
	case metadata.ElemChar, metadata.ElemI4, metadata.ElemU4:
		return ir.I32
	case metadata.ElemI8:
		return ir.I64
	case metadata.ElemR8:
		return ir.F64
	case metadata.ElemString, metadata.ElemObject, metadata.ElemSzArray,
		metadata.ElemClass, metadata.ElemPtr, metadata.ElemFnPtr:
		return ir.Ptr
	case metadata.ElemValueType:
		if t.Class != nil && t.Class.IsEnum {
			return ir.I32
		}
	}
	panic(unsupported("type %s", t))
}

func (env *SharedEnvironment) irTypeOfID(id metadata.TypeID) ir.Type {
	return env.irType(env.Types.Get(id))
}

// elemSize returns the byte width of one szarray element of type t.
func (env *SharedEnvironment) elemSize(t *metadata.Type) int64 {
	switch env.irType(t) {
	case ir.I8:
		return 1
	case ir.I32:
		return 4
	}
	return 8
}

// classOf maps an operand's static type to the class its fields resolve
// against.
func (env *SharedEnvironment) classOf(t *metadata.Type) *metadata.ClassInfo {
	switch t.Kind {
	case metadata.ElemClass, metadata.ElemValueType:
		return t.Class
	case metadata.ElemString:
		return ClassString
	case metadata.ElemObject:
		return ClassObject
	}
	return nil
}

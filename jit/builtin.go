// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/camny125/yacht/ir"
	"github.com/camny125/yacht/ir/engine"
	"github.com/camny125/yacht/metadata"
)

// Function pairs a backend declaration with, for built-ins, the native
// implementation the engine binds as a global mapping. User methods
// carry only the declaration; their bodies are emitted by the JIT.
type Function struct {
	IRFunc *ir.Func
	Native engine.NativeFunc
	Ty     *metadata.Type // fnptr
}

// MethodMap resolves method paths to their overload lists: builtin
// methods plus every method defined across loaded assemblies.
type MethodMap struct {
	m map[metadata.MethodPath][]*Function
}

func newMethodMap() *MethodMap {
	return &MethodMap{m: make(map[metadata.MethodPath][]*Function)}
}

// Add registers an overload of path.
func (mm *MethodMap) Add(path metadata.MethodPath, f *Function) {
	mm.m[path] = append(mm.m[path], f)
}

// Get resolves path to the overload whose full signature (has-this
// flag, parameters, return type) equals ty.
func (mm *MethodMap) Get(path metadata.MethodPath, ty *metadata.Type) *Function {
	for _, f := range mm.m[path] {
		if f.Ty.Equal(ty) {
			return f
		}
	}
	return nil
}

// All lists every registered overload.
func (mm *MethodMap) All() []*Function {
	var fns []*Function
	for _, list := range mm.m {
		fns = append(fns, list...)
	}
	return fns
}

// Helper returns the named helper function (memory_alloc, new_szarray).
func (env *SharedEnvironment) Helper(name string) *Function {
	f, ok := env.helpers[name]
	if !ok {
		panic(unsupported("helper %q", name))
	}
	return f
}

// allFunctions lists every function carrying a native pointer or a
// registry entry, for global-mapping installation.
func (env *SharedEnvironment) allFunctions() []*Function {
	fns := env.Methods.All()
	for _, f := range env.helpers {
		fns = append(fns, f)
	}
	return fns
}

var consolePath = metadata.TypePath{Assembly: "mscorlib", Namespace: "System", TypeName: "Console"}

// Bootstrap class descriptors of the minimal mscorlib.System surface,
// shared by every environment. Their shapes are realized per
// environment on first use.
var (
	ClassObject = &metadata.ClassInfo{
		Namespace: "System", Name: "Object", ResolutionScope: "mscorlib",
	}
	ClassInt32 = &metadata.ClassInfo{
		Namespace: "System", Name: "Int32", ResolutionScope: "mscorlib",
		Fields: []metadata.ClassField{{Name: "m_value", Ty: metadata.I4}},
	}
	ClassString = &metadata.ClassInfo{
		Namespace: "System", Name: "String", ResolutionScope: "mscorlib",
		Fields: []metadata.ClassField{
			{Name: "m_pChars", Ty: metadata.Ptr(metadata.Char)},
			{Name: "m_stringLength", Ty: metadata.I4},
		},
	}
)

// registerBuiltins declares the Console surface and the allocation
// helpers.
func (env *SharedEnvironment) registerBuiltins() {
	env.addConsoleMethod("WriteLine", "WriteLine(string)", metadata.String, env.writeString(true))
	env.addConsoleMethod("WriteLine", "WriteLine(int)", metadata.I4, env.writeInt(true))
	env.addConsoleMethod("WriteLine", "WriteLine(char)", metadata.Char, env.writeChar(true))
	env.addConsoleMethod("Write", "Write(string)", metadata.String, env.writeString(false))
	env.addConsoleMethod("Write", "Write(int)", metadata.I4, env.writeInt(false))
	env.addConsoleMethod("Write", "Write(char)", metadata.Char, env.writeChar(false))

	env.addHelper("memory_alloc",
		ir.Signature{Params: []ir.Type{ir.I32}, Ret: ir.Ptr},
		metadata.FnPtr(&metadata.MethodSig{Params: []*metadata.Type{metadata.U4}, Ret: metadata.Ptr(metadata.Boolean)}),
		func(args []uint64) uint64 {
			return env.Heap.Alloc(uint32(args[0]))
		})
	env.addHelper("new_szarray",
		ir.Signature{Params: []ir.Type{ir.I32, ir.I32}, Ret: ir.Ptr},
		metadata.FnPtr(&metadata.MethodSig{Params: []*metadata.Type{metadata.U4, metadata.U4}, Ret: metadata.Ptr(metadata.Boolean)}),
		func(args []uint64) uint64 {
			elemSize, count := uint32(args[0]), uint32(args[1])
			size := 4 + elemSize*count
			if elemSize > 4 {
				// The length slot occupies one element-sized slot so
				// that element i lives at elemSize*(1+i).
				size = elemSize * (count + 1)
			}
			p := env.Heap.Alloc(size)
			env.Heap.SetUint32(p, count)
			return p
		})
}

func (env *SharedEnvironment) addConsoleMethod(name, declName string, param *metadata.Type, native engine.NativeFunc) {
	ty := metadata.FnPtr(&metadata.MethodSig{Params: []*metadata.Type{param}, Ret: metadata.Void})
	f := &Function{
		IRFunc: env.Module.AddFunction(declName, ir.Signature{
			Params: []ir.Type{env.irType(param)},
			Ret:    ir.Void,
		}),
		Native: native,
		Ty:     ty,
	}
	env.Methods.Add(consolePath.WithMethodName(name), f)
}

func (env *SharedEnvironment) addHelper(name string, sig ir.Signature, ty *metadata.Type, native engine.NativeFunc) {
	env.helpers[name] = &Function{
		IRFunc: env.Module.AddFunction(name, sig),
		Native: native,
		Ty:     ty,
	}
}

// goString decodes the UTF-16 payload of a String record.
func (env *SharedEnvironment) goString(rec uint64) string {
	h := env.Heap
	payload := h.Word(h.Slot(rec, 1))
	n := h.Uint32(h.Slot(rec, 2))
	if n == 0 {
		return ""
	}
	raw := h.Bytes(payload, 2*n)
	u := make([]uint16, n)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(u))
}

func (env *SharedEnvironment) writeString(newline bool) engine.NativeFunc {
	return func(args []uint64) uint64 {
		env.write(env.goString(args[0]), newline)
		return 0
	}
}

func (env *SharedEnvironment) writeInt(newline bool) engine.NativeFunc {
	return func(args []uint64) uint64 {
		env.write(fmt.Sprint(int32(args[0])), newline)
		return 0
	}
}

func (env *SharedEnvironment) writeChar(newline bool) engine.NativeFunc {
	return func(args []uint64) uint64 {
		env.write(string(rune(uint16(args[0]))), newline)
		return 0
	}
}

func (env *SharedEnvironment) write(s string, newline bool) {
	if newline {
		fmt.Fprintln(env.out, s)
		return
	}
	fmt.Fprint(env.out, s)
}

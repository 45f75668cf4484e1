// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camny125/yacht/cil"
	"github.com/camny125/yacht/metadata"
	"github.com/camny125/yacht/metadata/metatest"
)

// testImage wraps an in-memory image with the Console member refs every
// program here calls.
type testImage struct {
	im      *metatest.Image
	program *metadata.ClassInfo

	wlString cil.Token
	wlInt    cil.Token
	wlChar   cil.Token
	wString  cil.Token

	int32Ref cil.Token
}

const mainRVA = 0x1000

func newTestImage(name string) *testImage {
	im := metatest.NewImage(name)
	ti := &testImage{im: im}

	ti.program = &metadata.ClassInfo{Name: "Program", ResolutionScope: name}
	im.AddClass(cil.Token{Table: cil.TableTypeDef, Row: 1}, ti.program)

	consoleRef := im.AddTypeRef(1, consolePath, nil)
	sigOf := func(param *metadata.Type) uint32 {
		return im.AddSig(metadata.FnPtr(&metadata.MethodSig{
			Params: []*metadata.Type{param}, Ret: metadata.Void,
		}))
	}
	ti.wlString = im.AddMemberRef(1, consoleRef, "WriteLine", sigOf(metadata.String))
	ti.wlInt = im.AddMemberRef(2, consoleRef, "WriteLine", sigOf(metadata.I4))
	ti.wlChar = im.AddMemberRef(3, consoleRef, "WriteLine", sigOf(metadata.Char))
	ti.wString = im.AddMemberRef(4, consoleRef, "Write", sigOf(metadata.String))

	ti.int32Ref = im.AddTypeRef(2, metadata.TypePath{
		Assembly: "mscorlib", Namespace: "System", TypeName: "Int32",
	}, ClassInt32)

	return ti
}

func (ti *testImage) addMain(body []cil.Instruction, locals ...*metadata.Type) {
	main := &metadata.MethodDef{
		RVA:        mainRVA,
		Name:       "Main",
		Ty:         metadata.FnPtr(&metadata.MethodSig{Ret: metadata.Void}),
		Class:      ti.program,
		Body:       body,
		LocalTypes: locals,
	}
	ti.im.AddMethod(1, main)
	ti.im.SetEntry(mainRVA)
}

func (ti *testImage) compile(t *testing.T) (*JITCompiler, *SharedEnvironment, *bytes.Buffer) {
	t.Helper()
	env, err := NewSharedEnvironment()
	require.NoError(t, err)
	var out bytes.Buffer
	env.SetOutput(&out)
	return NewCompiler(ti.im.Assembly(), env), env, &out
}

func (ti *testImage) run(t *testing.T) string {
	t.Helper()
	c, _, out := ti.compile(t)
	entry, err := ti.im.EntryMethod()
	require.NoError(t, err)
	fn := c.GenerateMain(entry)
	require.NoError(t, c.RunMain(fn))
	return out.String()
}

func ldcI4(n int32) cil.Instruction { return cil.Instruction{Op: cil.LdcI4, I32: n} }
func call(tok cil.Token) cil.Instruction {
	return cil.Instruction{Op: cil.Call, Token: tok}
}

func TestRunHelloWorld(t *testing.T) {
	ti := newTestImage("hello")
	ti.addMain([]cil.Instruction{
		{Op: cil.Ldstr, US: ti.im.InternUserString("Hello, World")},
		call(ti.wlString),
		{Op: cil.Ret},
	})
	require.Equal(t, "Hello, World\n", ti.run(t))
}

func TestRunArithmetic(t *testing.T) {
	ti := newTestImage("arith")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI41},
		{Op: cil.LdcI42},
		{Op: cil.Add},
		call(ti.wlInt),
		{Op: cil.Ret},
	})
	require.Equal(t, "3\n", ti.run(t))
}

func TestRunWriteVariants(t *testing.T) {
	ti := newTestImage("write")
	ti.addMain([]cil.Instruction{
		{Op: cil.Ldstr, US: ti.im.InternUserString("x=")},
		call(ti.wString),
		ldcI4(7),
		call(ti.wlInt),
		ldcI4('A'),
		call(ti.wlChar),
		{Op: cil.Ret},
	})
	require.Equal(t, "x=7\nA\n", ti.run(t))
}

// Sum 1..=10 with ldloc/stloc/add/bge.
func TestRunLoopSum(t *testing.T) {
	ti := newTestImage("loop")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI40},              // 0
		{Op: cil.Stloc0},              // 1  sum = 0
		{Op: cil.LdcI41},              // 2
		{Op: cil.Stloc1},              // 3  i = 1
		{Op: cil.Ldloc1},              // 4
		{Op: cil.LdcI4S, I32: 11},     // 5
		{Op: cil.Bge, Target: 16},     // 6  i >= 11 -> done
		{Op: cil.Ldloc0},              // 7
		{Op: cil.Ldloc1},              // 8
		{Op: cil.Add},                 // 9
		{Op: cil.Stloc0},              // 10 sum += i
		{Op: cil.Ldloc1},              // 11
		{Op: cil.LdcI41},              // 12
		{Op: cil.Add},                 // 13
		{Op: cil.Stloc1},              // 14 i += 1
		{Op: cil.Br, Target: 4},       // 15
		{Op: cil.Ldloc0},              // 16
		call(ti.wlInt),                // 17
		{Op: cil.Ret},                 // 18
	}, metadata.I4, metadata.I4)
	require.Equal(t, "55\n", ti.run(t))
}

// B : A overrides virtual Speak; a variable typed A holding a new B()
// dispatches to B's override through the method table.
func TestRunVirtualDispatch(t *testing.T) {
	ti := newTestImage("virt")
	im := ti.im

	voidThis := metadata.FnPtr(&metadata.MethodSig{HasThis: true, Ret: metadata.Void})

	classA := &metadata.ClassInfo{Name: "A", ResolutionScope: "virt"}
	speakA := &metadata.MethodDef{
		RVA: 0x2000, Name: "Speak", Ty: voidThis, Class: classA,
		Body: []cil.Instruction{
			{Op: cil.Ldstr, US: im.InternUserString("A")},
			call(ti.wlString),
			{Op: cil.Ret},
		},
	}
	classA.MethodTable = []metadata.MethodInfo{speakA}

	classB := &metadata.ClassInfo{Name: "B", ResolutionScope: "virt", Parent: classA}
	speakB := &metadata.MethodDef{
		RVA: 0x2100, Name: "Speak", Ty: voidThis, Class: classB,
		Body: []cil.Instruction{
			{Op: cil.Ldstr, US: im.InternUserString("B")},
			call(ti.wlString),
			{Op: cil.Ret},
		},
	}
	classB.MethodTable = []metadata.MethodInfo{speakB}

	ctorB := &metadata.MethodDef{
		RVA: 0x2200, Name: ".ctor", Ty: voidThis, Class: classB,
		Body: []cil.Instruction{{Op: cil.Ret}},
	}

	im.AddClass(cil.Token{Table: cil.TableTypeDef, Row: 2}, classA)
	im.AddClass(cil.Token{Table: cil.TableTypeDef, Row: 3}, classB)
	tokSpeakA := im.AddMethod(2, speakA)
	im.AddMethod(3, speakB)
	tokCtorB := im.AddMethod(4, ctorB)

	ti.addMain([]cil.Instruction{
		{Op: cil.Newobj, Token: tokCtorB},
		{Op: cil.Stloc0},
		{Op: cil.Ldloc0},
		{Op: cil.CallVirt, Token: tokSpeakA},
		{Op: cil.Ret},
	}, metadata.ClassT(classA))

	c, env, out := ti.compile(t)
	entry, err := im.EntryMethod()
	require.NoError(t, err)
	fn := c.GenerateMain(entry)
	require.NoError(t, c.RunMain(fn))
	require.Equal(t, "B\n", out.String())

	// Method-table population: after the prologue ran, every slot of
	// every realized table holds a function address.
	for _, class := range []*metadata.ClassInfo{classA, classB} {
		table, slots, ok := env.MethodTable(class)
		require.True(t, ok)
		require.Equal(t, 1, slots)
		for i := 0; i < slots; i++ {
			require.NotZero(t, env.Heap.Word(env.Heap.Slot(table, i)),
				"%s slot %d", class.Name, i)
		}
	}
}

// new int[3]{10,20,30}; print arr[1].
func TestRunArray(t *testing.T) {
	ti := newTestImage("array")
	body := []cil.Instruction{
		{Op: cil.LdcI43},
		{Op: cil.Newarr, Token: ti.int32Ref},
		{Op: cil.Stloc0},
	}
	for i, v := range []int32{10, 20, 30} {
		body = append(body,
			cil.Instruction{Op: cil.Ldloc0},
			ldcI4(int32(i)),
			ldcI4(v),
			cil.Instruction{Op: cil.StelemI4},
		)
	}
	body = append(body,
		cil.Instruction{Op: cil.Ldloc0},
		cil.Instruction{Op: cil.LdcI41},
		cil.Instruction{Op: cil.LdelemI4},
		call(ti.wlInt),
		cil.Instruction{Op: cil.Ret},
	)
	ti.addMain(body, metadata.SzArray(metadata.I4))
	require.Equal(t, "20\n", ti.run(t))
}

func TestRunArrayLength(t *testing.T) {
	ti := newTestImage("arraylen")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI43},
		{Op: cil.Newarr, Token: ti.int32Ref},
		{Op: cil.Ldlen},
		call(ti.wlInt),
		{Op: cil.Ret},
	})
	require.Equal(t, "3\n", ti.run(t))
}

// Box an int into object, read the value back out and print it.
func TestRunBoxedValue(t *testing.T) {
	ti := newTestImage("boxed")
	tokField := ti.im.AddFieldRow(1, "m_value")
	ti.addMain([]cil.Instruction{
		ldcI4(42),
		{Op: cil.Box, Token: ti.int32Ref},
		{Op: cil.Stloc0},
		{Op: cil.Ldloc0},
		{Op: cil.Ldfld, Token: tokField},
		call(ti.wlInt),
		{Op: cil.Ret},
	}, metadata.ClassT(ClassInt32))
	require.Equal(t, "42\n", ti.run(t))
}

// A diamond whose branches each leave one value on the stack; the merge
// block receives it through a phi.
func TestRunPhiMerge(t *testing.T) {
	ti := newTestImage("phi")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI41},             // 0
		{Op: cil.Brtrue, Target: 4},  // 1
		ldcI4(7),                     // 2
		{Op: cil.Br, Target: 6},      // 3
		ldcI4(9),                     // 4
		{Op: cil.Br, Target: 6},      // 5
		call(ti.wlInt),               // 6
		{Op: cil.Ret},                // 7
	})
	require.Equal(t, "9\n", ti.run(t))
}

// Merged stacks must agree on the interned TypeID at every position.
func TestPhiMergeTypeMismatchAborts(t *testing.T) {
	ti := newTestImage("phibad")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI41},              // 0
		{Op: cil.Brtrue, Target: 4},   // 1
		{Op: cil.LdcR8, F64: 1.5},     // 2
		{Op: cil.Br, Target: 6},       // 3
		ldcI4(9),                      // 4
		{Op: cil.Br, Target: 6},       // 5
		{Op: cil.Pop},                 // 6
		{Op: cil.Ret},                 // 7
	})

	c, _, _ := ti.compile(t)
	entry, err := ti.im.EntryMethod()
	require.NoError(t, err)
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected lowering to abort")
		_, ok := r.(PhiMergeError)
		require.True(t, ok, "got %v", r)
	}()
	c.GenerateMain(entry)
}

// Two call sites of one method share one declaration, and an argument
// threads through a user-defined static method.
func TestRunUserCallSingleDeclaration(t *testing.T) {
	ti := newTestImage("calls")
	inc := &metadata.MethodDef{
		RVA:  0x3000,
		Name: "Inc",
		Ty: metadata.FnPtr(&metadata.MethodSig{
			Params: []*metadata.Type{metadata.I4}, Ret: metadata.I4,
		}),
		Class: ti.program,
		Body: []cil.Instruction{
			{Op: cil.Ldarg0},
			{Op: cil.LdcI41},
			{Op: cil.Add},
			{Op: cil.Ret},
		},
	}
	tokInc := ti.im.AddMethod(2, inc)

	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI41},
		call(tokInc),
		call(tokInc),
		call(ti.wlInt),
		{Op: cil.Ret},
	})

	c, env, out := ti.compile(t)
	entry, err := ti.im.EntryMethod()
	require.NoError(t, err)
	fn := c.GenerateMain(entry)

	decls := 0
	for _, f := range env.Module.Funcs {
		if f.Name == "Inc" {
			decls++
			require.False(t, f.Declared(), "queued body must be emitted")
		}
	}
	require.Equal(t, 1, decls)

	require.NoError(t, c.RunMain(fn))
	require.Equal(t, "3\n", out.String())
}

// A MemberRef through a TypeRef reaches a method defined in another
// reachable assembly.
func TestRunCrossAssemblyCall(t *testing.T) {
	twiceTy := metadata.FnPtr(&metadata.MethodSig{
		Params: []*metadata.Type{metadata.I4}, Ret: metadata.I4,
	})

	lib := metatest.NewImage("lib")
	classUtil := &metadata.ClassInfo{Name: "Util", ResolutionScope: "lib"}
	lib.AddClass(cil.Token{Table: cil.TableTypeDef, Row: 1}, classUtil)
	lib.AddMethod(1, &metadata.MethodDef{
		RVA: 0x4000, Name: "Twice", Ty: twiceTy, Class: classUtil,
		Body: []cil.Instruction{
			{Op: cil.Ldarg0},
			{Op: cil.Dup},
			{Op: cil.Add},
			{Op: cil.Ret},
		},
	})

	ti := newTestImage("app")
	ti.im.AddAssemblyRef(lib.Assembly())
	utilRef := ti.im.AddTypeRef(3, metadata.TypePath{
		Assembly: "lib", TypeName: "Util",
	}, classUtil)
	tokTwice := ti.im.AddMemberRef(5, utilRef, "Twice", ti.im.AddSig(twiceTy))

	ti.addMain([]cil.Instruction{
		ldcI4(21),
		call(tokTwice),
		call(ti.wlInt),
		{Op: cil.Ret},
	})
	require.Equal(t, "42\n", ti.run(t))
}

// Stack underflow is audited before the operation.
func TestStackUnderflowAborts(t *testing.T) {
	ti := newTestImage("under")
	ti.addMain([]cil.Instruction{
		{Op: cil.Add}, // nothing on the stack
		{Op: cil.Ret},
	})

	c, _, _ := ti.compile(t)
	entry, err := ti.im.EntryMethod()
	require.NoError(t, err)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(StackUnderflowError)
		require.True(t, ok, "got %v", r)
	}()
	c.GenerateMain(entry)
}

// Conversions, comparison results and negation.
func TestRunConvCmpNeg(t *testing.T) {
	ti := newTestImage("convs")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcR8, F64: 6.9},
		{Op: cil.ConvI4},
		{Op: cil.Neg}, // -6
		call(ti.wlInt),
		ldcI4(3),
		ldcI4(5),
		{Op: cil.Clt}, // 1
		call(ti.wlInt),
		{Op: cil.Ret},
	})
	require.Equal(t, "-6\n1\n", ti.run(t))
}

func TestRunDupPopXorShift(t *testing.T) {
	ti := newTestImage("bits")
	ti.addMain([]cil.Instruction{
		ldcI4(6),
		{Op: cil.Dup},
		{Op: cil.Xor}, // 0
		call(ti.wlInt),
		ldcI4(1),
		ldcI4(4),
		{Op: cil.Shl}, // 16
		call(ti.wlInt),
		ldcI4(-8),
		ldcI4(1),
		{Op: cil.Shr}, // -4
		call(ti.wlInt),
		ldcI4(99),
		{Op: cil.Pop},
		{Op: cil.Ret},
	})
	require.Equal(t, "0\n16\n-4\n", ti.run(t))
}

// The native backend, where supported, must not change observable
// behavior.
func TestRunLoopSumNativeBackend(t *testing.T) {
	ti := newTestImage("loopnative")
	ti.addMain([]cil.Instruction{
		{Op: cil.LdcI40},
		{Op: cil.Stloc0},
		{Op: cil.LdcI41},
		{Op: cil.Stloc1},
		{Op: cil.Ldloc1},
		{Op: cil.LdcI4S, I32: 11},
		{Op: cil.Bge, Target: 16},
		{Op: cil.Ldloc0},
		{Op: cil.Ldloc1},
		{Op: cil.Add},
		{Op: cil.Stloc0},
		{Op: cil.Ldloc1},
		{Op: cil.LdcI41},
		{Op: cil.Add},
		{Op: cil.Stloc1},
		{Op: cil.Br, Target: 4},
		{Op: cil.Ldloc0},
		call(ti.wlInt),
		{Op: cil.Ret},
	}, metadata.I4, metadata.I4)

	c, env, out := ti.compile(t)
	env.EnableNativeBackend()
	entry, err := ti.im.EntryMethod()
	require.NoError(t, err)
	fn := c.GenerateMain(entry)
	require.NoError(t, c.RunMain(fn))
	require.Equal(t, "55\n", out.String())
}

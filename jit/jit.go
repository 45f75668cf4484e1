// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jit compiles CIL method bodies into backend IR and dispatches
// their execution: control-flow reconstruction, SSA lowering with phi
// reconciliation over the operand stack, class realization with method
// tables, and call dispatch across assemblies.
package jit

import (
	"encoding/binary"
	"sort"

	"github.com/camny125/yacht/cil"
	"github.com/camny125/yacht/ir"
	"github.com/camny125/yacht/ir/engine"
	"github.com/camny125/yacht/metadata"
)

// blockInfo tracks one backend block of the method being generated and
// whether the lowerer has already emitted into it.
type blockInfo struct {
	bb         *ir.Block
	positioned bool
}

// JITCompiler drives compilation of one assembly against the shared
// environment. Further compilers over other assemblies are created
// internally while walking the reachable-assembly graph.
type JITCompiler struct {
	Assembly *metadata.Assembly
	Env      *SharedEnvironment
	AsmEnv   *AssemblyEnvironment

	code       CodeEnvironment
	generating *ir.Func
	blocks     map[int]*blockInfo
	phiStack   map[int][]PhiStack // keyed by destination offset
}

// NewCompiler returns a compiler for asm and realizes the
// mscorlib.System bootstrap classes on the first call per environment.
func NewCompiler(asm *metadata.Assembly, env *SharedEnvironment) *JITCompiler {
	c := newCompiler(asm, env)
	if !env.mscorlibDone {
		env.mscorlibDone = true
		c.setupMscorlibSystem()
	}
	return c
}

func newCompiler(asm *metadata.Assembly, env *SharedEnvironment) *JITCompiler {
	return &JITCompiler{
		Assembly: asm,
		Env:      env,
		AsmEnv:   env.assemblyEnv(asm.Name),
		code:     NewCodeEnvironment(),
		blocks:   make(map[int]*blockInfo),
		phiStack: make(map[int][]PhiStack),
	}
}

// GenerateMain compiles the entry method and everything reachable from
// it into the environment's module, verifies the module and runs the
// optimization pipeline. The returned function is the synthesized
// entry point.
func (c *JITCompiler) GenerateMain(method *metadata.MethodDef) *ir.Func {
	c.generateAllClassesAndMethods()

	c.blocks = make(map[int]*blockInfo)
	c.phiStack = make(map[int][]PhiStack)
	c.code = NewCodeEnvironment()

	basicBlocks := NewCFGMaker().MakeBasicBlocks(method.Body)

	fn := c.Env.Module.AddFunction("yacht-Main", ir.Signature{Ret: ir.Void})
	c.generating = fn

	// The prologue block runs method-table population before any user
	// code; it is also where variable cells live.
	bbBeforeEntry := fn.NewBlock("initialize")
	bbEntry := fn.NewBlock("entry")
	c.blocks[0] = &blockInfo{bb: bbEntry}

	for i, ty := range method.LocalTypes {
		c.getLocal(i, ty)
	}

	for i := range basicBlocks {
		if basicBlocks[i].Start > 0 {
			c.blocks[basicBlocks[i].Start] = &blockInfo{bb: fn.NewBlock("")}
		}
	}

	for i := range basicBlocks {
		c.compileBlock(basicBlocks, i, nil)
	}

	c.generateQueuedMethods()

	// Set all the class methods into their method tables, then hand
	// control to the entry block.
	b := c.Env.Builder
	b.SetInsertPoint(bbBeforeEntry)
	for _, info := range c.Env.methodTables {
		for i, m := range info.methods {
			slot := b.Pconst(info.table + uint64(i)*8)
			b.Store(slot, b.Faddr(m))
		}
	}
	b.Jump(bbEntry)

	c.fixupTerminators(fn)

	logger.Printf("module:\n%s", c.Env.Module.Format())

	if err := ir.Verify(c.Env.Module); err != nil {
		panic(err)
	}
	ir.RunPasses(c.Env.Module)

	return fn
}

// BuildEngine binds an execution engine to the module and installs the
// native built-in addresses as global mappings.
func (c *JITCompiler) BuildEngine() *engine.Engine {
	eng := engine.New(c.Env.Module, c.Env.Heap)
	for _, f := range c.Env.allFunctions() {
		if f.Native != nil {
			eng.AddGlobalMapping(f.IRFunc, f.Native)
		}
	}
	if c.Env.nativeBackend {
		if err := eng.EnableNativeBackend(); err != nil {
			logger.Printf("native backend disabled: %v", err)
		}
	}
	return eng
}

// RunMain executes the entry function.
func (c *JITCompiler) RunMain(fn *ir.Func) error {
	_, err := c.BuildEngine().Run(fn)
	return err
}

func (c *JITCompiler) generateFunc(fn *ir.Func, method *metadata.MethodDef) {
	c.generating = fn
	c.code = NewCodeEnvironment()
	c.blocks = make(map[int]*blockInfo)
	c.phiStack = make(map[int][]PhiStack)

	sig := method.Ty.AsFnPtr()
	if sig == nil {
		panic(unsupported("signature of %s", method.Name))
	}
	basicBlocks := NewCFGMaker().MakeBasicBlocks(method.Body)

	bbEntry := fn.NewBlock("entry")
	c.blocks[0] = &blockInfo{bb: bbEntry}
	b := c.Env.Builder
	b.SetInsertPoint(bbEntry)

	shift := 0
	if sig.HasThis {
		cell := c.getArgument(0, metadata.ClassT(method.Class))
		b.Store(cell, fn.Param(0))
		shift = 1
	}
	for i, ty := range sig.Params {
		cell := c.getArgument(i+shift, ty)
		b.Store(cell, fn.Param(i+shift))
	}
	for i, ty := range method.LocalTypes {
		c.getLocal(i, ty)
	}

	for i := range basicBlocks {
		if basicBlocks[i].Start > 0 {
			c.blocks[basicBlocks[i].Start] = &blockInfo{bb: fn.NewBlock("")}
		}
	}

	for i := range basicBlocks {
		c.compileBlock(basicBlocks, i, nil)
	}

	c.fixupTerminators(fn)
}

// fixupTerminators appends a return to every block left without a
// terminator: void for void functions, the zero of the return type
// otherwise.
func (c *JITCompiler) fixupTerminators(fn *ir.Func) {
	b := c.Env.Builder
	for _, blk := range fn.Blocks {
		if blk.Terminated() {
			continue
		}
		b.SetInsertPoint(blk)
		switch fn.Sig.Ret {
		case ir.Void:
			b.RetVoid()
		case ir.F64:
			b.Ret(b.Fconst(0))
		case ir.Ptr:
			b.Ret(b.Pconst(0))
		default:
			b.Ret(b.Iconst(fn.Sig.Ret, 0))
		}
	}
}

// generateAllClassesAndMethods walks every reachable assembly, defines
// its classes and v-table declarations, registers its methods, then
// drains each assembly's compile queue.
func (c *JITCompiler) generateAllClassesAndMethods() {
	asms := make(map[string]*metadata.Assembly)
	c.Assembly.Image.CollectReachableAssemblies(asms)

	names := make([]string, 0, len(asms))
	for name := range asms {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sub := newCompiler(asms[name], c.Env)
		sub.defineAllClasses()
		sub.defineAllMethods()
	}
	for _, name := range names {
		newCompiler(asms[name], c.Env).generateQueuedMethods()
	}
}

// defineAllClasses realizes every class this assembly declares. Classes
// referenced from other assemblies appear in the image's class cache
// too and are excluded here; their defining assembly realizes them.
func (c *JITCompiler) defineAllClasses() {
	classes := make([]*metadata.ClassInfo, 0)
	for _, class := range c.Assembly.Image.Classes() {
		if class.ResolutionScope == c.Assembly.Name {
			classes = append(classes, class)
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Name < classes[j].Name
	})
	for _, class := range classes {
		c.Env.ClassShape(class)
		c.ensureClassMethodsCompiled(class)
	}
}

// defineAllMethods declares every method of this assembly and registers
// it in the method registry so MemberRef lookups from other assemblies
// resolve.
func (c *JITCompiler) defineAllMethods() {
	methods := c.Assembly.Image.Methods()
	rvas := make([]uint32, 0, len(methods))
	for rva := range methods {
		rvas = append(rvas, rva)
	}
	sort.Slice(rvas, func(i, j int) bool { return rvas[i] < rvas[j] })

	for _, rva := range rvas {
		m := methods[rva]
		fn := c.functionByRVA(rva)
		path := m.Class.Path().WithMethodName(m.Name)
		c.Env.Methods.Add(path, &Function{IRFunc: fn, Ty: m.Ty})
	}
}

func (c *JITCompiler) generateQueuedMethods() {
	for len(c.AsmEnv.queue) > 0 {
		q := c.AsmEnv.queue[0]
		c.AsmEnv.queue = c.AsmEnv.queue[1:]
		c.generateFunc(q.fn, q.method)
	}
}

// functionByRVA retrieves or creates the forward declaration for the
// method at rva, queueing its body for emission on first sight. Repeat
// references share the one declaration.
func (c *JITCompiler) functionByRVA(rva uint32) *ir.Func {
	if f, ok := c.AsmEnv.generated[rva]; ok {
		return f
	}

	method, ok := c.Assembly.Image.MethodByRVA(rva)
	if !ok {
		panic(unsupported("method rva %#x", rva))
	}
	sig := method.Ty.AsFnPtr()
	if sig == nil {
		panic(unsupported("signature of %s", method.Name))
	}

	irSig := ir.Signature{Ret: c.Env.irType(sig.Ret)}
	if sig.HasThis {
		irSig.Params = append(irSig.Params, ir.Ptr)
	}
	for _, p := range sig.Params {
		irSig.Params = append(irSig.Params, c.Env.irType(p))
	}

	fn := c.Env.Module.AddFunction(method.Name, irSig)
	c.AsmEnv.generated[rva] = fn
	c.AsmEnv.queue = append(c.AsmEnv.queue, queuedMethod{fn: fn, method: method})
	return fn
}

func (c *JITCompiler) getBasicBlock(offset int) *ir.Block {
	bi, ok := c.blocks[offset]
	if !ok {
		panic(unsupported("branch destination %d: not a block start", offset))
	}
	return bi.bb
}

// getLocal returns the cell of local slot id, allocating it at the
// first point of the entry block on first use.
func (c *JITCompiler) getLocal(id int, ty *metadata.Type) ir.Value {
	if tv, ok := c.code.locals[id]; ok {
		return tv.Val
	}
	if ty == nil {
		panic(unsupported("local %d referenced before its type is known", id))
	}
	ab := ir.NewBuilder()
	ab.PositionAtEntry(c.generating)
	cell := ab.Alloca()
	c.code.locals[id] = TypedValue{Ty: c.Env.TypeID(ty), Val: cell}
	return cell
}

func (c *JITCompiler) localType(id int) metadata.TypeID {
	tv, ok := c.code.locals[id]
	if !ok {
		panic(unsupported("local %d referenced before declaration", id))
	}
	return tv.Ty
}

// getArgument mirrors getLocal for argument slots.
func (c *JITCompiler) getArgument(id int, ty *metadata.Type) ir.Value {
	if tv, ok := c.code.arguments[id]; ok {
		return tv.Val
	}
	if ty == nil {
		panic(unsupported("argument %d referenced before its type is known", id))
	}
	ab := ir.NewBuilder()
	ab.PositionAtEntry(c.generating)
	cell := ab.Alloca()
	c.code.arguments[id] = TypedValue{Ty: c.Env.TypeID(ty), Val: cell}
	return cell
}

func (c *JITCompiler) argumentType(id int) metadata.TypeID {
	tv, ok := c.code.arguments[id]
	if !ok {
		panic(unsupported("argument %d referenced before declaration", id))
	}
	return tv.Ty
}

func findBlock(start int, blocks []BasicBlock) int {
	for i := range blocks {
		if blocks[i].Start == start {
			return i
		}
	}
	panic(unsupported("branch destination %d: not a block start", start))
}

// compileBlock lowers one basic block, then follows its terminator:
// conditional destinations compile recursively against the current
// stack; unconditional and implicit destinations receive a stack
// snapshot for phi reconciliation.
func (c *JITCompiler) compileBlock(blocks []BasicBlock, idx int, initStack []TypedValue) {
	cur := &blocks[idx]
	bi := c.blocks[cur.Start]
	if bi.positioned {
		return
	}
	bi.positioned = true
	cur.Generated = true

	b := c.Env.Builder
	b.SetInsertPoint(bi.bb)

	stack := c.buildPhiStack(cur.Start, initStack)
	stack = c.compileBytecode(cur, stack)

	switch cur.Kind {
	case ConditionalJmp:
		for _, dst := range cur.Dests {
			c.compileBlock(blocks, findBlock(dst, blocks), stack)
		}
	case UnconditionalJmp, ImplicitJmp:
		dest := cur.Dests[0]
		destBB := c.getBasicBlock(dest)
		if cur.Kind == ImplicitJmp && !bi.bb.Terminated() {
			b.SetInsertPoint(bi.bb)
			b.Jump(destBB)
		}
		// Register the snapshot only when the edge really exists; a
		// block ending in ret never reaches its fall-through.
		if t := bi.bb.Terminator(); t != nil && t.Op == ir.OpJump && t.Blocks[0] == destBB {
			c.phiStack[dest] = append(c.phiStack[dest], PhiStack{src: bi.bb, stack: stack})
		}
	}
}

func (c *JITCompiler) pop(stack []TypedValue, op cil.Op) ([]TypedValue, TypedValue) {
	if len(stack) == 0 {
		panic(StackUnderflowError{Op: op})
	}
	return stack[:len(stack)-1], stack[len(stack)-1]
}

// compileBytecode walks the block's instructions, maintaining the typed
// operand stack per ECMA-335 evaluation-stack rules.
func (c *JITCompiler) compileBytecode(block *BasicBlock, stack []TypedValue) []TypedValue {
	b := c.Env.Builder
	env := c.Env

	pushI4 := func(n int32) {
		stack = append(stack, TypedValue{Ty: env.TypeID(metadata.I4), Val: b.Iconst32(n)})
	}

	for _, instr := range block.Code {
		op := instr.Op
		switch op {
		case cil.Nop:

		case cil.Ldnull:
			stack = append(stack, TypedValue{Ty: env.TypeID(metadata.Object), Val: b.Pconst(0)})
		case cil.Ldstr:
			stack = c.createNewString(stack, c.Assembly.Image.UserString(instr.US))
		case cil.LdcI4M1:
			pushI4(-1)
		case cil.LdcI40:
			pushI4(0)
		case cil.LdcI41:
			pushI4(1)
		case cil.LdcI42:
			pushI4(2)
		case cil.LdcI43:
			pushI4(3)
		case cil.LdcI44:
			pushI4(4)
		case cil.LdcI45:
			pushI4(5)
		case cil.LdcI46:
			pushI4(6)
		case cil.LdcI47:
			pushI4(7)
		case cil.LdcI48:
			pushI4(8)
		case cil.LdcI4S, cil.LdcI4:
			pushI4(instr.I32)
		case cil.LdcR8:
			stack = append(stack, TypedValue{Ty: env.TypeID(metadata.R8), Val: b.Fconst(instr.F64)})

		case cil.Ldloc0, cil.Ldloc1, cil.Ldloc2, cil.Ldloc3:
			stack = c.ldloc(stack, int(op-cil.Ldloc0))
		case cil.LdlocS:
			stack = c.ldloc(stack, int(instr.I32))
		case cil.Stloc0, cil.Stloc1, cil.Stloc2, cil.Stloc3:
			stack = c.stloc(stack, int(op-cil.Stloc0), op)
		case cil.StlocS:
			stack = c.stloc(stack, int(instr.I32), op)
		case cil.Ldarg0, cil.Ldarg1, cil.Ldarg2, cil.Ldarg3:
			stack = c.ldarg(stack, int(op-cil.Ldarg0))
		case cil.LdargS:
			stack = c.ldarg(stack, int(instr.I32))
		case cil.StargS:
			stack = c.starg(stack, int(instr.I32), op)

		case cil.Ldfld:
			stack = c.genLdfld(stack, instr.Token)
		case cil.Stfld:
			stack = c.genStfld(stack, instr.Token)
		case cil.LdelemU1, cil.LdelemI1, cil.LdelemI4, cil.LdelemRef:
			stack = c.genLdelem(stack, op)
		case cil.StelemI1, cil.StelemI4, cil.StelemRef:
			stack = c.genStelem(stack, op)
		case cil.Ldlen:
			stack = c.genLdlen(stack)

		case cil.ConvI4:
			stack = c.genConv(stack, metadata.I4, op)
		case cil.ConvI8:
			stack = c.genConv(stack, metadata.I8, op)
		case cil.ConvR8:
			stack = c.genConv(stack, metadata.R8, op)
		case cil.ConvRUn:
			var v TypedValue
			stack, v = c.pop(stack, op)
			conv := b.Conv(ir.OpUiToFp, ir.F64, v.Val)
			stack = append(stack, TypedValue{Ty: env.TypeID(metadata.R8), Val: conv})

		case cil.Pop:
			stack, _ = c.pop(stack, op)
		case cil.Dup:
			if len(stack) == 0 {
				panic(StackUnderflowError{Op: op})
			}
			stack = append(stack, stack[len(stack)-1])

		case cil.Call:
			stack = c.genCall(stack, instr.Token, false)
		case cil.CallVirt:
			stack = c.genCall(stack, instr.Token, true)
		case cil.Box:
			stack = c.genBox(stack, instr.Token)
		case cil.Newobj:
			stack = c.genNewobj(stack, instr.Token)
		case cil.Newarr:
			stack = c.genNewarr(stack, instr.Token)

		case cil.Add:
			stack = c.genBinop(stack, op, ir.OpIadd, ir.OpFadd)
		case cil.Sub:
			stack = c.genBinop(stack, op, ir.OpIsub, ir.OpFsub)
		case cil.Mul:
			stack = c.genBinop(stack, op, ir.OpImul, ir.OpFmul)
		case cil.Div:
			stack = c.genBinop(stack, op, ir.OpSdiv, ir.OpFdiv)
		case cil.Rem:
			stack = c.genBinop(stack, op, ir.OpSrem, ir.OpFrem)
		case cil.RemUn:
			stack = c.genBinop(stack, op, ir.OpUrem, ir.OpFrem)
		case cil.Xor:
			stack = c.genIntBinop(stack, op, ir.OpXor)
		case cil.Shl:
			stack = c.genIntBinop(stack, op, ir.OpShl)
		case cil.Shr:
			stack = c.genIntBinop(stack, op, ir.OpAshr)
		case cil.ShrUn:
			stack = c.genIntBinop(stack, op, ir.OpLshr)
		case cil.Neg:
			stack = c.genNeg(stack, op)

		case cil.Ret:
			retTy := c.generating.Sig.Ret
			if retTy == ir.Void {
				b.RetVoid()
			} else {
				var v TypedValue
				stack, v = c.pop(stack, op)
				b.Ret(c.typecast(v.Val, retTy))
			}

		case cil.Brfalse, cil.Brtrue:
			var v TypedValue
			stack, v = c.pop(stack, op)
			vt := c.valueIRType(v.Val)
			var cond ir.Value
			pred := ir.PredEq
			if op == cil.Brtrue {
				pred = ir.PredNe
			}
			if vt == ir.F64 {
				cond = b.Fcmp(pred, v.Val, b.Fconst(0))
			} else if vt == ir.Ptr {
				cond = b.Icmp(pred, v.Val, b.Pconst(0))
			} else {
				cond = b.Icmp(pred, v.Val, b.Iconst(vt, 0))
			}
			b.CondBr(cond, c.getBasicBlock(block.Dests[0]), c.getBasicBlock(block.Dests[1]))

		case cil.Beq, cil.Bge, cil.BgeUn, cil.Bgt, cil.Ble, cil.BleUn, cil.Blt, cil.BneUn:
			var v2, v1 TypedValue
			stack, v2 = c.pop(stack, op)
			stack, v1 = c.pop(stack, op)
			ty := env.Types.Get(v1.Ty)
			var cond ir.Value
			if ty.IsInt() || ty.Kind == metadata.ElemObject || ty.Kind == metadata.ElemClass {
				cond = b.Icmp(branchIntPred(op), v1.Val, c.typecast(v2.Val, c.valueIRType(v1.Val)))
			} else if ty.IsFloat() {
				cond = b.Fcmp(branchFloatPred(op), v1.Val, v2.Val)
			} else {
				panic(unsupported("branch comparison on %s", ty))
			}
			b.CondBr(cond, c.getBasicBlock(block.Dests[0]), c.getBasicBlock(block.Dests[1]))

		case cil.Br:
			destBB := c.getBasicBlock(block.Dests[0])
			if !b.CurrentBlock().Terminated() {
				b.Jump(destBB)
			}

		case cil.Ceq, cil.Cgt, cil.Clt:
			var v2, v1 TypedValue
			stack, v2 = c.pop(stack, op)
			stack, v1 = c.pop(stack, op)
			var pred ir.Pred
			switch op {
			case cil.Ceq:
				pred = ir.PredEq
			case cil.Cgt:
				pred = ir.PredSgt
			case cil.Clt:
				pred = ir.PredSlt
			}
			var cond ir.Value
			if env.Types.Get(v1.Ty).IsFloat() {
				cond = b.Fcmp(pred, v1.Val, v2.Val)
			} else {
				cond = b.Icmp(pred, v1.Val, c.typecast(v2.Val, c.valueIRType(v1.Val)))
			}
			stack = append(stack, TypedValue{
				Ty:  env.TypeID(metadata.I4),
				Val: c.typecast(cond, ir.I32),
			})

		default:
			panic(unsupported("opcode %s", op))
		}
	}

	return stack
}

func branchIntPred(op cil.Op) ir.Pred {
	switch op {
	case cil.Beq:
		return ir.PredEq
	case cil.BneUn:
		return ir.PredNe
	case cil.Bge:
		return ir.PredSge
	case cil.BgeUn:
		return ir.PredUge
	case cil.Bgt:
		return ir.PredSgt
	case cil.Ble:
		return ir.PredSle
	case cil.BleUn:
		return ir.PredUle
	case cil.Blt:
		return ir.PredSlt
	}
	panic(unsupported("branch opcode %s", op))
}

func branchFloatPred(op cil.Op) ir.Pred {
	switch op {
	case cil.Beq:
		return ir.PredEq
	case cil.BneUn:
		return ir.PredNe
	case cil.Bge, cil.BgeUn:
		return ir.PredSge
	case cil.Bgt:
		return ir.PredSgt
	case cil.Ble, cil.BleUn:
		return ir.PredSle
	case cil.Blt:
		return ir.PredSlt
	}
	panic(unsupported("branch opcode %s", op))
}

func (c *JITCompiler) valueIRType(v ir.Value) ir.Type {
	return c.generating.ValueType(v)
}

func (c *JITCompiler) ldloc(stack []TypedValue, id int) []TypedValue {
	cell := c.getLocal(id, nil)
	ty := c.localType(id)
	v := c.Env.Builder.Load(c.Env.irTypeOfID(ty), cell)
	return append(stack, TypedValue{Ty: ty, Val: v})
}

func (c *JITCompiler) stloc(stack []TypedValue, id int, op cil.Op) []TypedValue {
	cell := c.getLocal(id, nil)
	ty := c.Env.irTypeOfID(c.localType(id))
	var v TypedValue
	stack, v = c.pop(stack, op)
	c.Env.Builder.Store(cell, c.typecast(v.Val, ty))
	return stack
}

func (c *JITCompiler) ldarg(stack []TypedValue, id int) []TypedValue {
	cell := c.getArgument(id, nil)
	ty := c.argumentType(id)
	v := c.Env.Builder.Load(c.Env.irTypeOfID(ty), cell)
	return append(stack, TypedValue{Ty: ty, Val: v})
}

func (c *JITCompiler) starg(stack []TypedValue, id int, op cil.Op) []TypedValue {
	cell := c.getArgument(id, nil)
	ty := c.Env.irTypeOfID(c.argumentType(id))
	var v TypedValue
	stack, v = c.pop(stack, op)
	c.Env.Builder.Store(cell, c.typecast(v.Val, ty))
	return stack
}

func (c *JITCompiler) genConv(stack []TypedValue, to *metadata.Type, op cil.Op) []TypedValue {
	var v TypedValue
	stack, v = c.pop(stack, op)
	conv := c.typecast(v.Val, c.Env.irType(to))
	return append(stack, TypedValue{Ty: c.Env.TypeID(to), Val: conv})
}

// genBinop dispatches on the left operand's type category; the right
// operand is coerced to the left's representation and the result takes
// the left operand's type.
func (c *JITCompiler) genBinop(stack []TypedValue, op cil.Op, iop, fop ir.Opcode) []TypedValue {
	var v2, v1 TypedValue
	stack, v2 = c.pop(stack, op)
	stack, v1 = c.pop(stack, op)
	ty := c.Env.Types.Get(v1.Ty)
	b := c.Env.Builder
	switch {
	case ty.IsInt():
		r := b.Binop(iop, v1.Val, c.typecast(v2.Val, c.valueIRType(v1.Val)))
		return append(stack, TypedValue{Ty: v1.Ty, Val: r})
	case ty.IsFloat():
		r := b.Binop(fop, v1.Val, v2.Val)
		return append(stack, TypedValue{Ty: v1.Ty, Val: r})
	}
	panic(unsupported("%s on %s", op, ty))
}

// genIntBinop covers the operators defined only on the integer
// category (xor and the shifts).
func (c *JITCompiler) genIntBinop(stack []TypedValue, op cil.Op, iop ir.Opcode) []TypedValue {
	var v2, v1 TypedValue
	stack, v2 = c.pop(stack, op)
	stack, v1 = c.pop(stack, op)
	ty := c.Env.Types.Get(v1.Ty)
	if !ty.IsInt() {
		panic(unsupported("%s on %s", op, ty))
	}
	r := c.Env.Builder.Binop(iop, v1.Val, c.typecast(v2.Val, c.valueIRType(v1.Val)))
	return append(stack, TypedValue{Ty: v1.Ty, Val: r})
}

func (c *JITCompiler) genNeg(stack []TypedValue, op cil.Op) []TypedValue {
	var v TypedValue
	stack, v = c.pop(stack, op)
	ty := c.Env.Types.Get(v.Ty)
	b := c.Env.Builder
	switch {
	case ty.IsInt():
		return append(stack, TypedValue{Ty: v.Ty, Val: b.Unop(ir.OpIneg, v.Val)})
	case ty.IsFloat():
		return append(stack, TypedValue{Ty: v.Ty, Val: b.Unop(ir.OpFneg, v.Val)})
	}
	panic(unsupported("neg on %s", ty))
}

// loadSlot reads word slot of the record at obj as ty. Floats move as
// raw bits.
func (c *JITCompiler) loadSlot(obj ir.Value, slot int, ty ir.Type) ir.Value {
	b := c.Env.Builder
	p := b.PtrAdd(obj, b.Iconst64(int64(slot)*8))
	w := b.Load(ir.I64, p)
	if ty == ir.F64 {
		return b.Conv(ir.OpBitcast, ir.F64, w)
	}
	return c.typecast(w, ty)
}

// storeSlot writes v (widened to one word) into word slot of the record
// at obj. Floats move as raw bits.
func (c *JITCompiler) storeSlot(obj ir.Value, slot int, v ir.Value) {
	b := c.Env.Builder
	p := b.PtrAdd(obj, b.Iconst64(int64(slot)*8))
	if c.valueIRType(v) == ir.F64 {
		v = b.Conv(ir.OpBitcast, ir.I64, v)
	}
	b.Store(p, c.typecast(v, ir.I64))
}

// callMemoryAlloc emits a call of the memory_alloc helper.
func (c *JITCompiler) callMemoryAlloc(size uint32) ir.Value {
	b := c.Env.Builder
	return b.Call(c.Env.Helper("memory_alloc").IRFunc, b.Iconst32(int32(size)))
}

// createNewString allocates a String record with the class method table
// and an interned UTF-16 payload.
func (c *JITCompiler) createNewString(stack []TypedValue, s []uint16) []TypedValue {
	env := c.Env
	b := env.Builder

	payload := env.Heap.Alloc(uint32(2*len(s)) + 2)
	for i, u := range s {
		binary.LittleEndian.PutUint16(env.Heap.Bytes(payload+uint64(2*i), 2), u)
	}

	shape := env.ClassShape(ClassString)
	rec := c.callMemoryAlloc(shape.RecordSize())
	c.ensureClassMethodsCompiled(ClassString)
	c.storeSlot(rec, 0, b.Pconst(env.stringMethodTable))
	c.storeSlot(rec, 1, b.Pconst(payload))
	c.storeSlot(rec, 2, b.Iconst32(int32(len(s))))

	return append(stack, TypedValue{Ty: env.TypeID(metadata.String), Val: rec})
}

// popArgs pops the callee's arguments in source order: this (when
// present) followed by the declared parameters.
func (c *JITCompiler) popArgs(stack []TypedValue, op cil.Op, paramsLen int, hasThis bool) ([]TypedValue, []TypedValue) {
	n := paramsLen
	if hasThis {
		n++
	}
	if len(stack) < n {
		panic(StackUnderflowError{Op: op})
	}
	args := append([]TypedValue(nil), stack[len(stack)-n:]...)
	return stack[:len(stack)-n], args
}

// callFunction coerces args to the callee's declared parameter types
// and emits the call.
func (c *JITCompiler) callFunction(fn *ir.Func, args []TypedValue) ir.Value {
	vals := make([]ir.Value, len(args))
	for i, a := range args {
		vals[i] = c.typecast(a.Val, fn.Sig.Params[i])
	}
	return c.Env.Builder.Call(fn, vals...)
}

func (c *JITCompiler) genCall(stack []TypedValue, token cil.Token, virtual bool) []TypedValue {
	image := c.Assembly.Image
	row, err := image.TableEntry(token)
	if err != nil {
		panic(err)
	}

	op := cil.Call
	if virtual {
		op = cil.CallVirt
	}

	switch r := row.(type) {
	case metadata.MemberRefRow:
		classRow, err := image.TableEntry(r.Class)
		if err != nil {
			panic(err)
		}
		trt, ok := classRow.(metadata.TypeRefRow)
		if !ok {
			panic(unsupported("member-ref class row %T", classRow))
		}
		path := image.PathFromTypeRef(trt)
		name := image.String(r.Name)
		ty := image.MethodRefSig(r.Signature)
		f := c.Env.Methods.Get(path.WithMethodName(name), ty)
		if f == nil {
			// Unresolved externals are skipped, as the loader may
			// reference surface this runtime does not carry.
			logger.Printf("unresolved member ref %s.%s", path, name)
			return stack
		}
		sig := ty.AsFnPtr()
		if virtual {
			class, ok := image.Class(r.Class)
			if !ok {
				panic(unsupported("virtual call on unknown class %v", r.Class))
			}
			midx, ok := class.MethodIndex(name)
			if !ok {
				panic(UnknownMemberError{Path: path.WithMethodName(name)})
			}
			return c.genCallVirt(stack, op, midx, sig)
		}
		return c.genCallDirect(stack, op, f.IRFunc, sig)

	case metadata.MethodDefRow:
		fn := c.functionByRVA(r.RVA)
		method, _ := image.MethodByRVA(r.RVA)
		sig := method.Ty.AsFnPtr()
		if virtual {
			midx, ok := method.Class.MethodIndex(method.Name)
			if !ok {
				panic(UnknownMemberError{Path: method.Class.Path().WithMethodName(method.Name)})
			}
			return c.genCallVirt(stack, op, midx, sig)
		}
		return c.genCallDirect(stack, op, fn, sig)
	}
	panic(unsupported("call table row %T", row))
}

func (c *JITCompiler) genCallDirect(stack []TypedValue, op cil.Op, fn *ir.Func, sig *metadata.MethodSig) []TypedValue {
	var args []TypedValue
	stack, args = c.popArgs(stack, op, len(sig.Params), sig.HasThis)
	ret := c.callFunction(fn, args)
	if !sig.Ret.IsVoid() {
		stack = append(stack, TypedValue{Ty: c.Env.TypeID(sig.Ret), Val: ret})
	}
	return stack
}

// genCallVirt indexes the receiver's method table at the method's slot
// and calls indirectly.
func (c *JITCompiler) genCallVirt(stack []TypedValue, op cil.Op, midx int, sig *metadata.MethodSig) []TypedValue {
	var args []TypedValue
	stack, args = c.popArgs(stack, op, len(sig.Params), true)
	b := c.Env.Builder

	methodTable := c.loadSlot(args[0].Val, 0, ir.Ptr)
	slot := b.PtrAdd(methodTable, b.Iconst64(int64(midx)*8))
	vmethod := b.Load(ir.Ptr, slot)

	irSig := ir.Signature{Ret: c.Env.irType(sig.Ret), Params: []ir.Type{ir.Ptr}}
	for _, p := range sig.Params {
		irSig.Params = append(irSig.Params, c.Env.irType(p))
	}
	vals := make([]ir.Value, len(args))
	for i, a := range args {
		vals[i] = c.typecast(a.Val, irSig.Params[i])
	}
	ret := b.CallIndirect(&irSig, vmethod, vals...)
	if !sig.Ret.IsVoid() {
		stack = append(stack, TypedValue{Ty: c.Env.TypeID(sig.Ret), Val: ret})
	}
	return stack
}

func (c *JITCompiler) genStfld(stack []TypedValue, token cil.Token) []TypedValue {
	var val, obj TypedValue
	stack, val = c.pop(stack, cil.Stfld)
	stack, obj = c.pop(stack, cil.Stfld)

	row, err := c.Assembly.Image.TableEntry(token)
	if err != nil {
		panic(err)
	}
	f, ok := row.(metadata.FieldRow)
	if !ok {
		panic(unsupported("stfld table row %T", row))
	}
	name := c.Assembly.Image.String(f.Name)
	class := c.Env.classOf(c.Env.Types.Get(obj.Ty))
	if class == nil {
		panic(unsupported("stfld on %s", c.Env.Types.Get(obj.Ty)))
	}
	idx, ok := class.FieldIndex(name)
	if !ok {
		panic(UnknownMemberError{Path: class.Path().WithMethodName(name)})
	}
	c.storeSlot(obj.Val, 1+idx, val.Val)
	return stack
}

func (c *JITCompiler) genLdfld(stack []TypedValue, token cil.Token) []TypedValue {
	var obj TypedValue
	stack, obj = c.pop(stack, cil.Ldfld)

	row, err := c.Assembly.Image.TableEntry(token)
	if err != nil {
		panic(err)
	}
	f, ok := row.(metadata.FieldRow)
	if !ok {
		panic(unsupported("ldfld table row %T", row))
	}
	name := c.Assembly.Image.String(f.Name)
	class := c.Env.classOf(c.Env.Types.Get(obj.Ty))
	if class == nil {
		panic(unsupported("ldfld on %s", c.Env.Types.Get(obj.Ty)))
	}
	idx, ok := class.FieldIndex(name)
	if !ok {
		panic(UnknownMemberError{Path: class.Path().WithMethodName(name)})
	}
	fieldTy := class.Fields[idx].Ty
	v := c.loadSlot(obj.Val, 1+idx, c.Env.irType(fieldTy))
	return append(stack, TypedValue{Ty: c.Env.TypeID(fieldTy), Val: v})
}

// elemAddr computes the address of element index of the array at arr:
// elemSize * (1 + index), the length living in slot 0.
func (c *JITCompiler) elemAddr(arr ir.Value, index ir.Value, size int64) ir.Value {
	b := c.Env.Builder
	idx := c.typecast(index, ir.I64)
	off := b.Binop(ir.OpImul, b.Binop(ir.OpIadd, b.Iconst64(1), idx), b.Iconst64(size))
	return b.PtrAdd(arr, off)
}

func (c *JITCompiler) genLdelem(stack []TypedValue, op cil.Op) []TypedValue {
	var index, arr TypedValue
	stack, index = c.pop(stack, op)
	stack, arr = c.pop(stack, op)

	elemTy := c.Env.Types.Get(arr.Ty).AsSzArrayElem()
	if elemTy == nil {
		panic(unsupported("%s on %s", op, c.Env.Types.Get(arr.Ty)))
	}
	addr := c.elemAddr(arr.Val, index.Val, c.Env.elemSize(elemTy))
	v := c.Env.Builder.Load(c.Env.irType(elemTy), addr)
	return append(stack, TypedValue{Ty: c.Env.TypeID(elemTy), Val: v})
}

func (c *JITCompiler) genStelem(stack []TypedValue, op cil.Op) []TypedValue {
	var val, index, arr TypedValue
	stack, val = c.pop(stack, op)
	stack, index = c.pop(stack, op)
	stack, arr = c.pop(stack, op)

	elemTy := c.Env.Types.Get(arr.Ty).AsSzArrayElem()
	if elemTy == nil {
		panic(unsupported("%s on %s", op, c.Env.Types.Get(arr.Ty)))
	}
	addr := c.elemAddr(arr.Val, index.Val, c.Env.elemSize(elemTy))
	c.Env.Builder.Store(addr, c.typecast(val.Val, c.Env.irType(elemTy)))
	return stack
}

func (c *JITCompiler) genLdlen(stack []TypedValue) []TypedValue {
	var arr TypedValue
	stack, arr = c.pop(stack, cil.Ldlen)
	v := c.Env.Builder.Load(ir.I32, arr.Val)
	return append(stack, TypedValue{Ty: c.Env.TypeID(metadata.I4), Val: v})
}

// genBox allocates a class record whose first field holds the value and
// returns it typed as object.
func (c *JITCompiler) genBox(stack []TypedValue, token cil.Token) []TypedValue {
	var v TypedValue
	stack, v = c.pop(stack, cil.Box)

	class, ok := c.Assembly.Image.Class(token)
	if !ok {
		panic(unsupported("box token %v", token))
	}
	shape := c.Env.ClassShape(class)
	rec := c.callMemoryAlloc(shape.RecordSize())
	mt := c.ensureClassMethodsCompiled(class)
	c.storeSlot(rec, 0, c.Env.Builder.Pconst(mt))
	c.storeSlot(rec, 1, v.Val)
	return append(stack, TypedValue{Ty: c.Env.TypeID(metadata.Object), Val: rec})
}

func (c *JITCompiler) genNewarr(stack []TypedValue, token cil.Token) []TypedValue {
	var length TypedValue
	stack, length = c.pop(stack, cil.Newarr)

	image := c.Assembly.Image
	row, err := image.TableEntry(token)
	if err != nil {
		panic(err)
	}

	var elemTy *metadata.Type
	switch r := row.(type) {
	case metadata.TypeRefRow:
		path := image.PathFromTypeRef(r)
		if path.Assembly != "mscorlib" || path.Namespace != "System" {
			panic(unsupported("newarr element %s", path))
		}
		switch path.TypeName {
		case "Int32":
			elemTy = metadata.I4
		case "Boolean":
			elemTy = metadata.Boolean
		case "Object":
			elemTy = metadata.Object
		default:
			panic(unsupported("newarr element %s", path))
		}
	case metadata.TypeDefRow:
		class, ok := image.Class(token)
		if !ok {
			panic(unsupported("newarr token %v", token))
		}
		c.Env.ClassShape(class)
		elemTy = metadata.ClassT(class)
	default:
		panic(unsupported("newarr table row %T", row))
	}

	b := c.Env.Builder
	arr := b.Call(c.Env.Helper("new_szarray").IRFunc,
		b.Iconst32(int32(c.Env.elemSize(elemTy))),
		c.typecast(length.Val, ir.I32))
	szarr := metadata.SzArray(elemTy)
	return append(stack, TypedValue{Ty: c.Env.TypeID(szarr), Val: arr})
}

// genNewobj allocates the class record, calls the constructor with the
// fresh pointer prepended, writes the method-table pointer into slot 0
// and pushes the reference.
func (c *JITCompiler) genNewobj(stack []TypedValue, token cil.Token) []TypedValue {
	image := c.Assembly.Image
	row, err := image.TableEntry(token)
	if err != nil {
		panic(err)
	}

	var (
		class *metadata.ClassInfo
		fn    *ir.Func
		sig   *metadata.MethodSig
	)
	switch r := row.(type) {
	case metadata.MemberRefRow:
		var ok bool
		class, ok = image.Class(r.Class)
		if !ok {
			panic(unsupported("newobj class %v", r.Class))
		}
		name := image.String(r.Name)
		ty := image.MethodRefSig(r.Signature)
		path := class.Path().WithMethodName(name)
		f := c.Env.Methods.Get(path, ty)
		if f == nil {
			panic(UnknownMemberError{Path: path})
		}
		fn, sig = f.IRFunc, ty.AsFnPtr()
	case metadata.MethodDefRow:
		method, ok := image.MethodByRVA(r.RVA)
		if !ok {
			panic(unsupported("newobj rva %#x", r.RVA))
		}
		class = method.Class
		fn, sig = c.functionByRVA(r.RVA), method.Ty.AsFnPtr()
	default:
		panic(unsupported("newobj table row %T", row))
	}

	shape := c.Env.ClassShape(class)
	rec := c.callMemoryAlloc(shape.RecordSize())

	var args []TypedValue
	stack, args = c.popArgs(stack, cil.Newobj, len(sig.Params), false)
	args = append([]TypedValue{{Ty: c.Env.TypeID(metadata.ClassT(class)), Val: rec}}, args...)
	c.callFunction(fn, args)

	mt := c.ensureClassMethodsCompiled(class)
	c.storeSlot(rec, 0, c.Env.Builder.Pconst(mt))

	return append(stack, TypedValue{Ty: c.Env.TypeID(metadata.ClassT(class)), Val: rec})
}

// typecast coerces v to the backend type to, following the call-site
// coercion rules: widening integers zero-extend, integer/float moves go
// through signed conversions, pointer/integer moves are bitcasts in
// the address space, and a void target is the identity.
func (c *JITCompiler) typecast(v ir.Value, to ir.Type) ir.Value {
	from := c.valueIRType(v)
	b := c.Env.Builder
	if to == ir.Void || from == to {
		return v
	}

	switch {
	case from == ir.Ptr && to == ir.F64:
		return b.Conv(ir.OpBitcast, to, v)
	case from == ir.Ptr:
		return b.Conv(ir.OpPtrToInt, to, v)
	case to == ir.Ptr && from == ir.F64:
		return b.Conv(ir.OpBitcast, to, v)
	case to == ir.Ptr:
		return b.Conv(ir.OpIntToPtr, to, v)
	case from.IsInt() && to.IsInt():
		if to.Bits() > from.Bits() {
			return b.Conv(ir.OpZext, to, v)
		}
		return b.Conv(ir.OpTrunc, to, v)
	case from.IsInt() && to == ir.F64:
		return b.Conv(ir.OpSiToFp, to, v)
	case from == ir.F64 && to.IsInt():
		return b.Conv(ir.OpFpToSi, to, v)
	}
	panic(unsupported("cast %s to %s", from, to))
}

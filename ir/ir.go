// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir is the compiler backend the JIT lowers CIL into: a small
// register-valued SSA IR with explicit phi instructions, a builder, a
// verifier and an optimization pass pipeline. Execution lives in the
// engine subpackage.
//
// Pointers are opaque: a Ptr value is an offset into the engine's heap
// arena, and address arithmetic is done with PtrAdd in byte units. There
// are no struct types; record layout is the front end's business.
package ir

import "fmt"

// Type is the type of an SSA value.
type Type uint8

const (
	Void Type = iota
	I8
	I32
	I64
	F64
	Ptr
)

var typeStrMap = map[Type]string{
	Void: "void",
	I8:   "i8",
	I32:  "i32",
	I64:  "i64",
	F64:  "f64",
	Ptr:  "ptr",
}

func (t Type) String() string {
	if s, ok := typeStrMap[t]; ok {
		return s
	}
	return fmt.Sprintf("<unknown type %d>", uint8(t))
}

// Bits returns the width of an integer type in bits, or 0.
func (t Type) Bits() uint {
	switch t {
	case I8:
		return 8
	case I32:
		return 32
	case I64, Ptr:
		return 64
	}
	return 0
}

// IsInt reports whether t is an integer type (pointers included; they
// are 64-bit offsets).
func (t Type) IsInt() bool { return t == I8 || t == I32 || t == I64 || t == Ptr }

// Value names an SSA value within its function. Function parameters take
// the first len(Sig.Params) values.
type Value int32

// ValueInvalid marks "no value" (e.g. the result of a void call).
const ValueInvalid Value = -1

// Opcode identifies an IR operation.
type Opcode uint8

const (
	OpIconst Opcode = iota // I64 payload; Ty is I8, I32 or I64
	OpFconst               // F64 payload
	OpPconst               // I64 payload is a heap offset; Ty is Ptr
	OpFaddr                // Callee; Ty is Ptr
	OpAlloca               // one 8-byte cell; Ty is Ptr
	OpLoad                 // Args[ptr]; Ty is the loaded type
	OpStore                // Args[ptr, v]
	OpPtrAdd               // Args[ptr, byte offset]; Ty is Ptr

	OpIadd
	OpIsub
	OpImul
	OpSdiv
	OpSrem
	OpUrem
	OpXor
	OpShl
	OpAshr
	OpLshr
	OpIneg

	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpFrem
	OpFneg

	OpIcmp // Pred; Args[x, y]; Ty is I8
	OpFcmp

	OpZext
	OpSext
	OpTrunc
	OpSiToFp
	OpUiToFp
	OpFpToSi
	OpPtrToInt
	OpIntToPtr
	OpBitcast

	OpPhi          // Incoming; Ty
	OpCall         // Callee, Args; Ty is the return type
	OpCallIndirect // Args[0] is the callee address, rest are arguments; Sig

	OpJump   // Blocks[0]
	OpCondBr // Args[cond]; Blocks[then, else]; taken when cond != 0
	OpRet    // Args[v] or empty for void

	opcodeCount
)

var opcodeStrMap = [opcodeCount]string{
	OpIconst: "iconst", OpFconst: "fconst", OpPconst: "pconst", OpFaddr: "faddr",
	OpAlloca: "alloca", OpLoad: "load", OpStore: "store", OpPtrAdd: "ptradd",
	OpIadd: "iadd", OpIsub: "isub", OpImul: "imul", OpSdiv: "sdiv",
	OpSrem: "srem", OpUrem: "urem", OpXor: "xor", OpShl: "shl",
	OpAshr: "ashr", OpLshr: "lshr", OpIneg: "ineg",
	OpFadd: "fadd", OpFsub: "fsub", OpFmul: "fmul", OpFdiv: "fdiv",
	OpFrem: "frem", OpFneg: "fneg",
	OpIcmp: "icmp", OpFcmp: "fcmp",
	OpZext: "zext", OpSext: "sext", OpTrunc: "trunc", OpSiToFp: "sitofp",
	OpUiToFp: "uitofp", OpFpToSi: "fptosi", OpPtrToInt: "ptrtoint",
	OpIntToPtr: "inttoptr", OpBitcast: "bitcast",
	OpPhi: "phi", OpCall: "call", OpCallIndirect: "call_indirect",
	OpJump: "jump", OpCondBr: "condbr", OpRet: "ret",
}

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeStrMap[op]
	}
	return fmt.Sprintf("<unknown opcode %d>", uint8(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpCondBr || op == OpRet
}

// IsPure reports whether the op has no side effect and always computes
// the same result from the same arguments. Pure ops are subject to value
// numbering.
func (op Opcode) IsPure() bool {
	switch op {
	case OpIconst, OpFconst, OpPconst, OpFaddr, OpPtrAdd,
		OpIadd, OpIsub, OpImul, OpXor, OpShl, OpAshr, OpLshr, OpIneg,
		OpFadd, OpFsub, OpFmul, OpFneg,
		OpIcmp, OpFcmp,
		OpZext, OpSext, OpTrunc, OpSiToFp, OpUiToFp, OpFpToSi,
		OpPtrToInt, OpIntToPtr, OpBitcast:
		return true
	}
	// Division and remainder can trap and stay put.
	return false
}

// Pred is a comparison predicate for OpIcmp and OpFcmp. Float predicates
// are ordered comparisons.
type Pred uint8

const (
	PredEq Pred = iota
	PredNe
	PredSlt
	PredSle
	PredSgt
	PredSge
	PredUlt
	PredUle
	PredUgt
	PredUge
)

var predStrMap = map[Pred]string{
	PredEq: "eq", PredNe: "ne",
	PredSlt: "slt", PredSle: "sle", PredSgt: "sgt", PredSge: "sge",
	PredUlt: "ult", PredUle: "ule", PredUgt: "ugt", PredUge: "uge",
}

func (p Pred) String() string {
	if s, ok := predStrMap[p]; ok {
		return s
	}
	return fmt.Sprintf("<unknown pred %d>", uint8(p))
}

// Incoming is one phi edge: the value flowing in when control arrives
// from Pred.
type Incoming struct {
	Val  Value
	Pred *Block
}

// Instr is one IR instruction. Which fields are meaningful depends on Op;
// see the Opcode constants.
type Instr struct {
	Op       Opcode
	Ty       Type
	Args     []Value
	Blocks   []*Block
	I64      int64
	F64      float64
	Pred     Pred
	Callee   *Func
	Sig      *Signature
	Incoming []Incoming

	// Tail is set by the tail-call elimination pass on calls in tail
	// position. The engine treats it as a hint.
	Tail bool

	ret Value
}

// Result returns the value the instruction defines, or ValueInvalid.
func (i *Instr) Result() Value { return i.ret }

// Signature is a function signature.
type Signature struct {
	Params []Type
	Ret    Type
}

// Equal reports whether two signatures match exactly.
func (s *Signature) Equal(o *Signature) bool {
	if s.Ret != o.Ret || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// Func is a function of a Module. A Func with no blocks is a forward
// declaration; externs get their addresses through the engine's global
// mappings.
type Func struct {
	Name   string
	Sig    Signature
	Blocks []*Block

	m          *Module
	valueTypes []Type
}

// Param returns the value bound to the i-th parameter.
func (f *Func) Param(i int) Value { return Value(i) }

// NumValues returns the number of SSA values allocated in f.
func (f *Func) NumValues() int { return len(f.valueTypes) }

// ValueType returns the type of v.
func (f *Func) ValueType(v Value) Type { return f.valueTypes[v] }

// Declared reports whether f is only a forward declaration.
func (f *Func) Declared() bool { return f.Blocks == nil }

func (f *Func) allocValue(t Type) Value {
	f.valueTypes = append(f.valueTypes, t)
	return Value(len(f.valueTypes) - 1)
}

// NewBlock appends a fresh empty block to f and returns it.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Index: len(f.Blocks), Name: name, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// EntryBlock returns the function's entry block.
func (f *Func) EntryBlock() *Block { return f.Blocks[0] }

// defs returns the defining instruction of every value with one. Function
// parameters have no defining instruction.
func (f *Func) defs() map[Value]*Instr {
	m := make(map[Value]*Instr)
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.ret != ValueInvalid {
				m[i.ret] = i
			}
		}
	}
	return m
}

// Block is a basic block. Instrs ends with exactly one terminator in a
// verified function; phis come first.
type Block struct {
	Index  int
	Name   string
	Instrs []*Instr

	fn *Func
}

// Func returns the owning function.
func (b *Block) Func() *Func { return b.fn }

// Terminated reports whether the block already ends with a terminator.
func (b *Block) Terminated() bool {
	n := len(b.Instrs)
	return n > 0 && b.Instrs[n-1].Op.IsTerminator()
}

// Terminator returns the block's final instruction if it is a
// terminator.
func (b *Block) Terminator() *Instr {
	if !b.Terminated() {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Succs returns the blocks the terminator can branch to.
func (b *Block) Succs() []*Block {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	return t.Blocks
}

// Preds returns every block whose terminator targets b, in function
// block order.
func (b *Block) Preds() []*Block {
	var preds []*Block
	for _, p := range b.fn.Blocks {
		for _, s := range p.Succs() {
			if s == b {
				preds = append(preds, p)
				break
			}
		}
	}
	return preds
}

func (b *Block) String() string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("blk%d", b.Index)
}

// Module is one compilation unit: the set of functions the JIT emits for
// a program run.
type Module struct {
	Name  string
	Funcs []*Func
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// AddFunction appends a new function (initially a declaration) and
// returns it. The caller is responsible for not declaring the same
// method twice; the JIT keys declarations by RVA and method path.
func (m *Module) AddFunction(name string, sig Signature) *Func {
	f := &Func{Name: name, Sig: sig, m: m}
	for _, p := range sig.Params {
		f.allocValue(p)
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// FuncByName returns the first function with the given name.
func (m *Module) FuncByName(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

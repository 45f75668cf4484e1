// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// Builder emits instructions into a block at an insertion point. One
// builder is shared across a whole compilation; every emission site must
// position it first (SetInsertPoint or PositionAtEntry).
type Builder struct {
	cur      *Block
	insertAt int // -1 appends
}

// NewBuilder returns a builder with no insertion point.
func NewBuilder() *Builder {
	return &Builder{insertAt: -1}
}

// SetInsertPoint positions the builder at the end of b.
func (bl *Builder) SetInsertPoint(b *Block) {
	bl.cur = b
	bl.insertAt = -1
}

// CurrentBlock returns the block the builder is positioned on.
func (bl *Builder) CurrentBlock() *Block { return bl.cur }

// PositionAtEntry positions the builder at the first point of the
// function's entry block, after any allocas already placed there.
// Variable cells must be declared there so that every block sees them.
func (bl *Builder) PositionAtEntry(f *Func) {
	entry := f.EntryBlock()
	at := 0
	for at < len(entry.Instrs) && entry.Instrs[at].Op == OpAlloca {
		at++
	}
	bl.cur = entry
	bl.insertAt = at
}

func (bl *Builder) insert(i *Instr) *Instr {
	b := bl.cur
	if bl.insertAt < 0 {
		b.Instrs = append(b.Instrs, i)
		return i
	}
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[bl.insertAt+1:], b.Instrs[bl.insertAt:])
	b.Instrs[bl.insertAt] = i
	bl.insertAt++
	return i
}

func (bl *Builder) emit(i *Instr) Value {
	if i.Ty != Void {
		i.ret = bl.cur.fn.allocValue(i.Ty)
	} else {
		i.ret = ValueInvalid
	}
	bl.insert(i)
	return i.ret
}

func (bl *Builder) emitVoid(i *Instr) *Instr {
	i.ret = ValueInvalid
	return bl.insert(i)
}

// Iconst emits an integer constant of type ty.
func (bl *Builder) Iconst(ty Type, v int64) Value {
	return bl.emit(&Instr{Op: OpIconst, Ty: ty, I64: v})
}

// Iconst32 emits an i32 constant.
func (bl *Builder) Iconst32(v int32) Value { return bl.Iconst(I32, int64(v)) }

// Iconst64 emits an i64 constant.
func (bl *Builder) Iconst64(v int64) Value { return bl.Iconst(I64, v) }

// Fconst emits an f64 constant.
func (bl *Builder) Fconst(v float64) Value {
	return bl.emit(&Instr{Op: OpFconst, Ty: F64, F64: v})
}

// Pconst emits a pointer constant (a heap arena offset known at compile
// time, e.g. method-table storage).
func (bl *Builder) Pconst(off uint64) Value {
	return bl.emit(&Instr{Op: OpPconst, Ty: Ptr, I64: int64(off)})
}

// Faddr emits the address of f as a pointer value.
func (bl *Builder) Faddr(f *Func) Value {
	return bl.emit(&Instr{Op: OpFaddr, Ty: Ptr, Callee: f})
}

// Alloca emits a one-word stack cell and returns its address.
func (bl *Builder) Alloca() Value {
	return bl.emit(&Instr{Op: OpAlloca, Ty: Ptr})
}

// Load emits a load of ty from ptr.
func (bl *Builder) Load(ty Type, ptr Value) Value {
	return bl.emit(&Instr{Op: OpLoad, Ty: ty, Args: []Value{ptr}})
}

// Store emits a store of v to ptr.
func (bl *Builder) Store(ptr, v Value) {
	bl.emitVoid(&Instr{Op: OpStore, Args: []Value{ptr, v}})
}

// PtrAdd emits ptr displaced by off bytes.
func (bl *Builder) PtrAdd(ptr, off Value) Value {
	return bl.emit(&Instr{Op: OpPtrAdd, Ty: Ptr, Args: []Value{ptr, off}})
}

// Binop emits a two-operand arithmetic or logical instruction. The
// result type is the left operand's type.
func (bl *Builder) Binop(op Opcode, x, y Value) Value {
	return bl.emit(&Instr{Op: op, Ty: bl.cur.fn.ValueType(x), Args: []Value{x, y}})
}

// Unop emits a one-operand arithmetic instruction.
func (bl *Builder) Unop(op Opcode, x Value) Value {
	return bl.emit(&Instr{Op: op, Ty: bl.cur.fn.ValueType(x), Args: []Value{x}})
}

// Icmp emits an integer comparison producing i8 {0,1}.
func (bl *Builder) Icmp(p Pred, x, y Value) Value {
	return bl.emit(&Instr{Op: OpIcmp, Ty: I8, Pred: p, Args: []Value{x, y}})
}

// Fcmp emits an ordered float comparison producing i8 {0,1}.
func (bl *Builder) Fcmp(p Pred, x, y Value) Value {
	return bl.emit(&Instr{Op: OpFcmp, Ty: I8, Pred: p, Args: []Value{x, y}})
}

// Conv emits a representation change to ty.
func (bl *Builder) Conv(op Opcode, ty Type, v Value) Value {
	return bl.emit(&Instr{Op: op, Ty: ty, Args: []Value{v}})
}

// Phi emits a phi of type ty at the head of the current block, after any
// phis already there. Incoming edges are added with AddIncoming.
func (bl *Builder) Phi(ty Type) *Instr {
	i := &Instr{Op: OpPhi, Ty: ty}
	i.ret = bl.cur.fn.allocValue(ty)
	b := bl.cur
	at := 0
	for at < len(b.Instrs) && b.Instrs[at].Op == OpPhi {
		at++
	}
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[at+1:], b.Instrs[at:])
	b.Instrs[at] = i
	if bl.insertAt >= 0 {
		bl.insertAt++
	}
	return i
}

// AddIncoming registers one phi edge.
func (bl *Builder) AddIncoming(phi *Instr, v Value, pred *Block) {
	phi.Incoming = append(phi.Incoming, Incoming{Val: v, Pred: pred})
}

// Call emits a direct call. The result is ValueInvalid for void callees.
func (bl *Builder) Call(callee *Func, args ...Value) Value {
	i := &Instr{Op: OpCall, Ty: callee.Sig.Ret, Callee: callee, Args: args}
	if i.Ty == Void {
		bl.emitVoid(i)
		return ValueInvalid
	}
	return bl.emit(i)
}

// CallIndirect emits a call through a function address with the given
// signature. addr is the first argument.
func (bl *Builder) CallIndirect(sig *Signature, addr Value, args ...Value) Value {
	i := &Instr{Op: OpCallIndirect, Ty: sig.Ret, Sig: sig,
		Args: append([]Value{addr}, args...)}
	if i.Ty == Void {
		bl.emitVoid(i)
		return ValueInvalid
	}
	return bl.emit(i)
}

// Jump emits an unconditional branch.
func (bl *Builder) Jump(target *Block) {
	bl.emitVoid(&Instr{Op: OpJump, Blocks: []*Block{target}})
}

// CondBr branches to then when cond is nonzero, otherwise to els.
func (bl *Builder) CondBr(cond Value, then, els *Block) {
	bl.emitVoid(&Instr{Op: OpCondBr, Args: []Value{cond}, Blocks: []*Block{then, els}})
}

// Ret returns v.
func (bl *Builder) Ret(v Value) {
	bl.emitVoid(&Instr{Op: OpRet, Args: []Value{v}})
}

// RetVoid returns from a void function.
func (bl *Builder) RetVoid() {
	bl.emitVoid(&Instr{Op: OpRet})
}

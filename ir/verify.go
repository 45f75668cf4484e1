// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// VerifyError describes the first invalid instruction found. The error
// text includes a dump of the defective function.
type VerifyError struct {
	Fn    *Func
	Block *Block
	Instr *Instr
	Msg   string
}

func (e *VerifyError) Error() string {
	where := e.Fn.Name
	if e.Block != nil {
		where += ":" + e.Block.String()
	}
	return fmt.Sprintf("ir: verify %s: %s\n%s", where, e.Msg, e.Fn.Format())
}

// Verify checks every defined function of m and returns the first
// violation found, or nil. The caller aborts on error; there is no
// recovery from an invalid module.
func Verify(m *Module) error {
	for _, f := range m.Funcs {
		if f.Declared() {
			continue
		}
		if err := verifyFunc(f); err != nil {
			return err
		}
	}
	return nil
}

func verifyFunc(f *Func) error {
	fail := func(b *Block, i *Instr, format string, args ...interface{}) error {
		return &VerifyError{Fn: f, Block: b, Instr: i, Msg: fmt.Sprintf(format, args...)}
	}

	if len(f.Blocks) == 0 {
		return fail(nil, nil, "function has no blocks")
	}

	for _, b := range f.Blocks {
		if len(b.Instrs) == 0 {
			return fail(b, nil, "empty block")
		}
		if !b.Terminated() {
			return fail(b, nil, "block has no terminator")
		}
		phisDone := false
		for n, i := range b.Instrs {
			if i.Op.IsTerminator() && n != len(b.Instrs)-1 {
				return fail(b, i, "terminator in the middle of a block")
			}
			if i.Op == OpPhi {
				if phisDone {
					return fail(b, i, "phi after non-phi instruction")
				}
			} else {
				phisDone = true
			}
			if err := verifyInstr(f, b, i, fail); err != nil {
				return err
			}
		}
	}

	return nil
}

func verifyInstr(f *Func, b *Block, i *Instr, fail func(*Block, *Instr, string, ...interface{}) error) error {
	for _, a := range i.Args {
		if a == ValueInvalid || int(a) >= f.NumValues() {
			return fail(b, i, "%s: argument value v%d out of range", i.Op, a)
		}
	}
	argTy := func(n int) Type { return f.ValueType(i.Args[n]) }

	switch i.Op {
	case OpIconst:
		if !i.Ty.IsInt() || i.Ty == Ptr {
			return fail(b, i, "iconst of type %s", i.Ty)
		}
	case OpLoad:
		if argTy(0) != Ptr {
			return fail(b, i, "load from non-pointer %s", argTy(0))
		}
	case OpStore:
		if argTy(0) != Ptr {
			return fail(b, i, "store to non-pointer %s", argTy(0))
		}
	case OpPtrAdd:
		if argTy(0) != Ptr || argTy(1) != I64 {
			return fail(b, i, "ptradd (%s, %s)", argTy(0), argTy(1))
		}
	case OpIadd, OpIsub, OpImul, OpSdiv, OpSrem, OpUrem,
		OpXor, OpShl, OpAshr, OpLshr:
		if !argTy(0).IsInt() || argTy(0) != argTy(1) || i.Ty != argTy(0) {
			return fail(b, i, "%s of (%s, %s) -> %s", i.Op, argTy(0), argTy(1), i.Ty)
		}
	case OpIneg:
		if !argTy(0).IsInt() || i.Ty != argTy(0) {
			return fail(b, i, "ineg of %s -> %s", argTy(0), i.Ty)
		}
	case OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem:
		if argTy(0) != F64 || argTy(1) != F64 || i.Ty != F64 {
			return fail(b, i, "%s of (%s, %s)", i.Op, argTy(0), argTy(1))
		}
	case OpFneg:
		if argTy(0) != F64 || i.Ty != F64 {
			return fail(b, i, "fneg of %s", argTy(0))
		}
	case OpIcmp:
		if !argTy(0).IsInt() || argTy(0) != argTy(1) || i.Ty != I8 {
			return fail(b, i, "icmp of (%s, %s)", argTy(0), argTy(1))
		}
	case OpFcmp:
		if argTy(0) != F64 || argTy(1) != F64 || i.Ty != I8 {
			return fail(b, i, "fcmp of (%s, %s)", argTy(0), argTy(1))
		}
	case OpZext, OpSext:
		if !argTy(0).IsInt() || !i.Ty.IsInt() || i.Ty.Bits() < argTy(0).Bits() {
			return fail(b, i, "%s %s -> %s", i.Op, argTy(0), i.Ty)
		}
	case OpTrunc:
		if !argTy(0).IsInt() || !i.Ty.IsInt() || i.Ty.Bits() > argTy(0).Bits() {
			return fail(b, i, "trunc %s -> %s", argTy(0), i.Ty)
		}
	case OpSiToFp, OpUiToFp:
		if !argTy(0).IsInt() || i.Ty != F64 {
			return fail(b, i, "%s %s -> %s", i.Op, argTy(0), i.Ty)
		}
	case OpFpToSi:
		if argTy(0) != F64 || !i.Ty.IsInt() {
			return fail(b, i, "fptosi %s -> %s", argTy(0), i.Ty)
		}
	case OpPtrToInt:
		if argTy(0) != Ptr || !i.Ty.IsInt() {
			return fail(b, i, "ptrtoint %s -> %s", argTy(0), i.Ty)
		}
	case OpIntToPtr:
		if !argTy(0).IsInt() || i.Ty != Ptr {
			return fail(b, i, "inttoptr %s -> %s", argTy(0), i.Ty)
		}
	case OpBitcast:
		if argTy(0).Bits() != i.Ty.Bits() && !(argTy(0) == F64 && i.Ty.Bits() == 64) &&
			!(i.Ty == F64 && argTy(0).Bits() == 64) {
			return fail(b, i, "bitcast %s -> %s", argTy(0), i.Ty)
		}
	case OpPhi:
		preds := b.Preds()
		for _, in := range i.Incoming {
			if f.ValueType(in.Val) != i.Ty {
				return fail(b, i, "phi incoming %s, want %s", f.ValueType(in.Val), i.Ty)
			}
			found := false
			for _, p := range preds {
				if p == in.Pred {
					found = true
					break
				}
			}
			if !found {
				return fail(b, i, "phi incoming from non-predecessor %s", in.Pred)
			}
		}
		seen := make(map[*Block]bool, len(i.Incoming))
		for _, in := range i.Incoming {
			if seen[in.Pred] {
				return fail(b, i, "phi has duplicate incoming edge from %s", in.Pred)
			}
			seen[in.Pred] = true
		}
	case OpCall:
		if len(i.Args) != len(i.Callee.Sig.Params) {
			return fail(b, i, "call %s with %d args, want %d",
				i.Callee.Name, len(i.Args), len(i.Callee.Sig.Params))
		}
		for n, p := range i.Callee.Sig.Params {
			if argTy(n) != p {
				return fail(b, i, "call %s arg %d is %s, want %s",
					i.Callee.Name, n, argTy(n), p)
			}
		}
	case OpCallIndirect:
		if argTy(0) != Ptr {
			return fail(b, i, "indirect call through %s", argTy(0))
		}
		if len(i.Args)-1 != len(i.Sig.Params) {
			return fail(b, i, "indirect call with %d args, want %d",
				len(i.Args)-1, len(i.Sig.Params))
		}
		for n, p := range i.Sig.Params {
			if argTy(n+1) != p {
				return fail(b, i, "indirect call arg %d is %s, want %s", n, argTy(n+1), p)
			}
		}
	case OpCondBr:
		if !argTy(0).IsInt() {
			return fail(b, i, "condbr on %s", argTy(0))
		}
		if len(i.Blocks) != 2 {
			return fail(b, i, "condbr with %d destinations", len(i.Blocks))
		}
	case OpJump:
		if len(i.Blocks) != 1 {
			return fail(b, i, "jump with %d destinations", len(i.Blocks))
		}
	case OpRet:
		if f.Sig.Ret == Void {
			if len(i.Args) != 0 {
				return fail(b, i, "value return from void function")
			}
		} else {
			if len(i.Args) != 1 {
				return fail(b, i, "void return from %s function", f.Sig.Ret)
			}
			if argTy(0) != f.Sig.Ret {
				return fail(b, i, "return of %s, want %s", argTy(0), f.Sig.Ret)
			}
		}
	}
	return nil
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// RunPasses runs the optimization pipeline over every defined function:
// reassociate, value numbering, instruction combining, promotion of
// single-block memory cells to registers, tail-call marking and jump
// threading. The pipeline is idempotent and must be run only on a
// verified module.
func RunPasses(m *Module) {
	for _, f := range m.Funcs {
		if f.Declared() {
			continue
		}
		reassociate(f)
		gvn(f)
		instcombine(f)
		mem2reg(f)
		tailCallElim(f)
		jumpThreading(f)
	}
}

// replaceUses rewrites every use of from (arguments and phi edges) to to.
func replaceUses(f *Func, from, to Value) {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			for n, a := range i.Args {
				if a == from {
					i.Args[n] = to
				}
			}
			for n := range i.Incoming {
				if i.Incoming[n].Val == from {
					i.Incoming[n].Val = to
				}
			}
		}
	}
}

func removeInstrs(b *Block, dead map[*Instr]bool) {
	if len(dead) == 0 {
		return
	}
	kept := b.Instrs[:0]
	for _, i := range b.Instrs {
		if !dead[i] {
			kept = append(kept, i)
		}
	}
	b.Instrs = kept
}

func isIconst(defs map[Value]*Instr, v Value) (*Instr, bool) {
	d, ok := defs[v]
	if ok && d.Op == OpIconst {
		return d, true
	}
	return nil, false
}

// reassociate canonicalizes commutative integer operations so that a
// constant operand sits on the right, exposing folds to later passes.
func reassociate(f *Func) {
	defs := f.defs()
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			switch i.Op {
			case OpIadd, OpImul, OpXor:
				_, lc := isIconst(defs, i.Args[0])
				_, rc := isIconst(defs, i.Args[1])
				if lc && !rc {
					i.Args[0], i.Args[1] = i.Args[1], i.Args[0]
				}
			}
		}
	}
}

// gvn performs block-local value numbering over pure instructions.
func gvn(f *Func) {
	for _, b := range f.Blocks {
		type key struct {
			op     Opcode
			ty     Type
			pred   Pred
			i64    int64
			f64    float64
			callee *Func
			a0, a1 Value
		}
		seen := make(map[key]Value)
		dead := make(map[*Instr]bool)
		for _, i := range b.Instrs {
			if !i.Op.IsPure() || i.ret == ValueInvalid {
				continue
			}
			k := key{op: i.Op, ty: i.Ty, pred: i.Pred, i64: i.I64, f64: i.F64,
				callee: i.Callee, a0: ValueInvalid, a1: ValueInvalid}
			if len(i.Args) > 0 {
				k.a0 = i.Args[0]
			}
			if len(i.Args) > 1 {
				k.a1 = i.Args[1]
			}
			if prev, ok := seen[k]; ok {
				replaceUses(f, i.ret, prev)
				dead[i] = true
				continue
			}
			seen[k] = i.ret
		}
		removeInstrs(b, dead)
	}
}

func signExt(ty Type, v int64) int64 {
	switch ty {
	case I8:
		return int64(int8(v))
	case I32:
		return int64(int32(v))
	}
	return v
}

func maskToType(ty Type, v int64) int64 {
	switch ty {
	case I8:
		return int64(uint8(v))
	case I32:
		return int64(uint32(v))
	}
	return v
}

func foldBinop(op Opcode, ty Type, a, b int64) (int64, bool) {
	x, y := signExt(ty, a), signExt(ty, b)
	var r int64
	switch op {
	case OpIadd:
		r = x + y
	case OpIsub:
		r = x - y
	case OpImul:
		r = x * y
	case OpXor:
		r = x ^ y
	case OpShl:
		r = x << (uint64(y) & (uint64(ty.Bits()) - 1))
	case OpAshr:
		r = x >> (uint64(y) & (uint64(ty.Bits()) - 1))
	case OpLshr:
		r = int64(uint64(maskToType(ty, x)) >> (uint64(y) & (uint64(ty.Bits()) - 1)))
	default:
		return 0, false
	}
	return maskToType(ty, r), true
}

// rewriteToIconst turns i into an integer constant in place, keeping its
// result value so uses stay valid.
func rewriteToIconst(i *Instr, v int64) {
	i.Op = OpIconst
	i.Args = nil
	i.I64 = v
}

// instcombine folds constant expressions and strips arithmetic
// identities in one sweep.
func instcombine(f *Func) {
	defs := f.defs()
	for _, b := range f.Blocks {
		dead := make(map[*Instr]bool)
		for _, i := range b.Instrs {
			switch i.Op {
			case OpIadd, OpIsub, OpImul, OpXor, OpShl, OpAshr, OpLshr:
				lc, lok := isIconst(defs, i.Args[0])
				rc, rok := isIconst(defs, i.Args[1])
				if lok && rok {
					if v, ok := foldBinop(i.Op, i.Ty, lc.I64, rc.I64); ok {
						rewriteToIconst(i, v)
						defs[i.ret] = i
					}
					continue
				}
				if !rok {
					continue
				}
				switch {
				case rc.I64 == 0 && i.Op != OpImul:
					// x+0, x-0, x^0, x<<0, x>>0
					replaceUses(f, i.ret, i.Args[0])
					dead[i] = true
				case i.Op == OpImul && rc.I64 == 1:
					replaceUses(f, i.ret, i.Args[0])
					dead[i] = true
				case i.Op == OpImul && rc.I64 == 0:
					rewriteToIconst(i, 0)
					defs[i.ret] = i
				}
			case OpIneg:
				if c, ok := isIconst(defs, i.Args[0]); ok {
					rewriteToIconst(i, maskToType(i.Ty, -signExt(i.Ty, c.I64)))
					defs[i.ret] = i
				}
			case OpIcmp:
				lc, lok := isIconst(defs, i.Args[0])
				rc, rok := isIconst(defs, i.Args[1])
				if !lok || !rok {
					continue
				}
				opTy := f.ValueType(i.Args[0])
				x, y := signExt(opTy, lc.I64), signExt(opTy, rc.I64)
				ux, uy := uint64(maskToType(opTy, x)), uint64(maskToType(opTy, y))
				var r bool
				switch i.Pred {
				case PredEq:
					r = x == y
				case PredNe:
					r = x != y
				case PredSlt:
					r = x < y
				case PredSle:
					r = x <= y
				case PredSgt:
					r = x > y
				case PredSge:
					r = x >= y
				case PredUlt:
					r = ux < uy
				case PredUle:
					r = ux <= uy
				case PredUgt:
					r = ux > uy
				case PredUge:
					r = ux >= uy
				}
				v := int64(0)
				if r {
					v = 1
				}
				rewriteToIconst(i, v)
				defs[i.ret] = i
			case OpZext:
				if c, ok := isIconst(defs, i.Args[0]); ok {
					rewriteToIconst(i, maskToType(f.ValueType(i.Args[0]), c.I64))
					defs[i.ret] = i
				}
			case OpSext:
				if c, ok := isIconst(defs, i.Args[0]); ok {
					rewriteToIconst(i, maskToType(i.Ty, signExt(f.ValueType(i.Args[0]), c.I64)))
					defs[i.ret] = i
				}
			case OpTrunc:
				if c, ok := isIconst(defs, i.Args[0]); ok {
					rewriteToIconst(i, maskToType(i.Ty, c.I64))
					defs[i.ret] = i
				}
			}
		}
		removeInstrs(b, dead)
	}
}

// mem2reg promotes allocas whose loads and stores all happen in a single
// block. Cross-block cells (locals and arguments) stay in memory; the
// engine keeps them cheap.
func mem2reg(f *Func) {
	entry := f.EntryBlock()
	var allocas []*Instr
	for _, a := range entry.Instrs {
		if a.Op == OpAlloca {
			allocas = append(allocas, a)
		}
	}
	for _, a := range allocas {
		cell := a.ret
		var home *Block
		escaped := false
		for _, b := range f.Blocks {
			for _, i := range b.Instrs {
				uses := false
				for n, arg := range i.Args {
					if arg != cell {
						continue
					}
					uses = true
					ok := (i.Op == OpLoad && n == 0) || (i.Op == OpStore && n == 0)
					if !ok {
						escaped = true
					}
				}
				if uses {
					if home == nil {
						home = b
					} else if home != b {
						escaped = true
					}
				}
			}
		}
		if escaped || home == nil {
			continue
		}

		cur := ValueInvalid
		dead := make(map[*Instr]bool)
		promoted := true
		for _, i := range home.Instrs {
			switch {
			case i.Op == OpStore && i.Args[0] == cell:
				cur = i.Args[1]
				dead[i] = true
			case i.Op == OpLoad && i.Args[0] == cell:
				if cur == ValueInvalid {
					promoted = false // load before any store; leave the cell alone
				} else {
					replaceUses(f, i.ret, cur)
					dead[i] = true
				}
			}
			if !promoted {
				break
			}
		}
		if !promoted {
			continue
		}
		removeInstrs(home, dead)
		removeInstrs(entry, map[*Instr]bool{a: true})
	}
}

// tailCallElim marks direct calls in tail position. The engine treats
// the mark as a hint; semantics do not change.
func tailCallElim(f *Func) {
	for _, b := range f.Blocks {
		n := len(b.Instrs)
		if n < 2 {
			continue
		}
		ret, call := b.Instrs[n-1], b.Instrs[n-2]
		if ret.Op != OpRet || call.Op != OpCall {
			continue
		}
		if call.Callee.Sig.Ret != f.Sig.Ret {
			continue
		}
		if f.Sig.Ret == Void || (len(ret.Args) == 1 && ret.Args[0] == call.ret) {
			call.Tail = true
		}
	}
}

// jumpThreading removes blocks that only forward to another block,
// retargeting their predecessors.
func jumpThreading(f *Func) {
	for changed := true; changed; {
		changed = false
		for n := 1; n < len(f.Blocks); n++ {
			b := f.Blocks[n]
			if len(b.Instrs) != 1 || b.Instrs[0].Op != OpJump {
				continue
			}
			target := b.Instrs[0].Blocks[0]
			if target == b || hasPhiEdgeFrom(f, b) {
				continue
			}
			for _, p := range f.Blocks {
				if t := p.Terminator(); t != nil {
					for m, s := range t.Blocks {
						if s == b {
							t.Blocks[m] = target
						}
					}
				}
			}
			f.Blocks = append(f.Blocks[:n], f.Blocks[n+1:]...)
			for m := n; m < len(f.Blocks); m++ {
				f.Blocks[m].Index = m
			}
			changed = true
			break
		}
	}
}

func hasPhiEdgeFrom(f *Func, b *Block) bool {
	for _, blk := range f.Blocks {
		for _, i := range blk.Instrs {
			if i.Op != OpPhi {
				continue
			}
			for _, in := range i.Incoming {
				if in.Pred == b {
					return true
				}
			}
		}
	}
	return false
}

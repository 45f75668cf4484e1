// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine executes a verified ir.Module. Functions run in an
// interpreter loop over their blocks; built-in natives are bound with
// global mappings, and on supported platforms straight-line integer
// regions can be compiled to machine code ahead of execution.
package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/camny125/yacht/ir"
)

var (
	// ErrInvalidArgumentCount is returned by Run when the argument list
	// does not match the function signature.
	ErrInvalidArgumentCount = errors.New("engine: invalid number of arguments to function")
)

// UndefinedFunctionError is raised when a call reaches a declaration
// with neither a body nor a global mapping.
type UndefinedFunctionError string

func (e UndefinedFunctionError) Error() string {
	return fmt.Sprintf("engine: call to undefined function %q", string(e))
}

// BadFunctionAddressError is raised by indirect calls through a word
// that is not a function address.
type BadFunctionAddressError uint64

func (e BadFunctionAddressError) Error() string {
	return fmt.Sprintf("engine: indirect call through bad address %#x", uint64(e))
}

// NativeFunc is a built-in bound to a declaration via AddGlobalMapping.
// Arguments and result are raw machine words.
type NativeFunc func(args []uint64) uint64

// funcAddrBase tags function addresses so they can never collide with
// heap offsets.
const funcAddrBase = uint64(1) << 32

// Engine executes one module. It is single-threaded; one Engine runs one
// program.
type Engine struct {
	m    *ir.Module
	heap *Heap

	globals   map[*ir.Func]NativeFunc
	funcAddrs []*ir.Func
	addrOf    map[*ir.Func]uint64

	regions map[*ir.Block]*compiledRegion
}

// New binds an engine to a module and heap. The heap is shared with the
// compiler, which allocates method-table storage and string payloads at
// emission time.
func New(m *ir.Module, heap *Heap) *Engine {
	return &Engine{
		m:       m,
		heap:    heap,
		globals: make(map[*ir.Func]NativeFunc),
		addrOf:  make(map[*ir.Func]uint64),
		regions: make(map[*ir.Block]*compiledRegion),
	}
}

// Heap returns the engine's heap arena.
func (e *Engine) Heap() *Heap { return e.heap }

// AddGlobalMapping binds the declaration f to a native implementation.
func (e *Engine) AddGlobalMapping(f *ir.Func, fn NativeFunc) {
	e.globals[f] = fn
}

// FuncAddr returns the stable address of f, for storing into method
// tables and calling back through CallIndirect.
func (e *Engine) FuncAddr(f *ir.Func) uint64 {
	if addr, ok := e.addrOf[f]; ok {
		return addr
	}
	addr := funcAddrBase | uint64(len(e.funcAddrs))
	e.funcAddrs = append(e.funcAddrs, f)
	e.addrOf[f] = addr
	return addr
}

func (e *Engine) funcByAddr(addr uint64) *ir.Func {
	idx := addr - funcAddrBase
	if addr < funcAddrBase || idx >= uint64(len(e.funcAddrs)) {
		panic(BadFunctionAddressError(addr))
	}
	return e.funcAddrs[idx]
}

// EnableNativeBackend compiles eligible straight-line regions of every
// defined function to machine code. Unsupported platforms return an
// error and the engine falls back to interpretation.
func (e *Engine) EnableNativeBackend() error {
	return e.compileNativeRegions()
}

// Run executes f with the given arguments and returns its raw result
// word (0 for void functions).
func (e *Engine) Run(f *ir.Func, args ...uint64) (uint64, error) {
	if len(args) != len(f.Sig.Params) {
		return 0, ErrInvalidArgumentCount
	}
	return e.call(f, args), nil
}

func (e *Engine) call(f *ir.Func, args []uint64) uint64 {
	if nf, ok := e.globals[f]; ok {
		return nf(args)
	}
	if f.Declared() {
		panic(UndefinedFunctionError(f.Name))
	}

	values := make([]uint64, f.NumValues())
	copy(values, args)

	block := f.EntryBlock()
	var prev *ir.Block
	for {
		nphi := 0
		for nphi < len(block.Instrs) && block.Instrs[nphi].Op == ir.OpPhi {
			nphi++
		}
		if nphi > 0 {
			// Phis read their incoming values together before any
			// of them is written.
			tmp := make([]uint64, nphi)
			for k := 0; k < nphi; k++ {
				for _, in := range block.Instrs[k].Incoming {
					if in.Pred == prev {
						tmp[k] = values[in.Val]
						break
					}
				}
			}
			for k := 0; k < nphi; k++ {
				values[block.Instrs[k].Result()] = tmp[k]
			}
		}

		var next *ir.Block
		region := e.regions[block]
		for at := nphi; at < len(block.Instrs); {
			if region != nil && region.start == at {
				region.run(e, values)
				at = region.end
				continue
			}
			if n, ret, done := e.step(f, block.Instrs[at], values); done {
				return ret
			} else if n != nil {
				next = n
				break
			}
			at++
		}
		prev, block = block, next
	}
}

// step executes one non-phi instruction. It returns the next block for
// terminators, or done=true with the return word for returns.
func (e *Engine) step(f *ir.Func, i *ir.Instr, values []uint64) (next *ir.Block, ret uint64, done bool) {
	arg := func(n int) uint64 { return values[i.Args[n]] }
	set := func(v uint64) { values[i.Result()] = v }

	switch i.Op {
	case ir.OpIconst:
		set(maskVal(i.Ty, uint64(i.I64)))
	case ir.OpFconst:
		set(math.Float64bits(i.F64))
	case ir.OpPconst:
		set(uint64(i.I64))
	case ir.OpFaddr:
		set(e.FuncAddr(i.Callee))
	case ir.OpAlloca:
		set(e.heap.Alloc(wordSize))
	case ir.OpLoad:
		p := arg(0)
		switch i.Ty {
		case ir.I8:
			set(uint64(e.heap.Byte(p)))
		case ir.I32:
			set(uint64(e.heap.Uint32(p)))
		default:
			set(e.heap.Word(p))
		}
	case ir.OpStore:
		p, v := arg(0), arg(1)
		switch f.ValueType(i.Args[1]) {
		case ir.I8:
			e.heap.SetByte(p, byte(v))
		case ir.I32:
			e.heap.SetUint32(p, uint32(v))
		default:
			e.heap.SetWord(p, v)
		}
	case ir.OpPtrAdd:
		set(arg(0) + arg(1))

	case ir.OpIadd:
		set(maskVal(i.Ty, arg(0)+arg(1)))
	case ir.OpIsub:
		set(maskVal(i.Ty, arg(0)-arg(1)))
	case ir.OpImul:
		set(maskVal(i.Ty, arg(0)*arg(1)))
	case ir.OpSdiv:
		set(maskVal(i.Ty, uint64(sextVal(i.Ty, arg(0))/sextVal(i.Ty, arg(1)))))
	case ir.OpSrem:
		set(maskVal(i.Ty, uint64(sextVal(i.Ty, arg(0))%sextVal(i.Ty, arg(1)))))
	case ir.OpUrem:
		set(maskVal(i.Ty, arg(0)%arg(1)))
	case ir.OpXor:
		set(arg(0) ^ arg(1))
	case ir.OpShl:
		set(maskVal(i.Ty, arg(0)<<shiftAmt(i.Ty, arg(1))))
	case ir.OpAshr:
		set(maskVal(i.Ty, uint64(sextVal(i.Ty, arg(0))>>shiftAmt(i.Ty, arg(1)))))
	case ir.OpLshr:
		set(arg(0) >> shiftAmt(i.Ty, arg(1)))
	case ir.OpIneg:
		set(maskVal(i.Ty, -arg(0)))

	case ir.OpFadd:
		setF(set, fval(arg(0))+fval(arg(1)))
	case ir.OpFsub:
		setF(set, fval(arg(0))-fval(arg(1)))
	case ir.OpFmul:
		setF(set, fval(arg(0))*fval(arg(1)))
	case ir.OpFdiv:
		setF(set, fval(arg(0))/fval(arg(1)))
	case ir.OpFrem:
		setF(set, math.Mod(fval(arg(0)), fval(arg(1))))
	case ir.OpFneg:
		setF(set, -fval(arg(0)))

	case ir.OpIcmp:
		set(boolWord(icmp(i.Pred, f.ValueType(i.Args[0]), arg(0), arg(1))))
	case ir.OpFcmp:
		set(boolWord(fcmp(i.Pred, fval(arg(0)), fval(arg(1)))))

	case ir.OpZext:
		set(arg(0))
	case ir.OpSext:
		set(maskVal(i.Ty, uint64(sextVal(f.ValueType(i.Args[0]), arg(0)))))
	case ir.OpTrunc:
		set(maskVal(i.Ty, arg(0)))
	case ir.OpSiToFp:
		setF(set, float64(sextVal(f.ValueType(i.Args[0]), arg(0))))
	case ir.OpUiToFp:
		setF(set, float64(arg(0)))
	case ir.OpFpToSi:
		set(maskVal(i.Ty, uint64(int64(fval(arg(0))))))
	case ir.OpPtrToInt:
		set(maskVal(i.Ty, arg(0)))
	case ir.OpIntToPtr, ir.OpBitcast:
		set(arg(0))

	case ir.OpCall:
		argv := make([]uint64, len(i.Args))
		for n := range i.Args {
			argv[n] = arg(n)
		}
		r := e.call(i.Callee, argv)
		if i.Result() != ir.ValueInvalid {
			set(r)
		}
	case ir.OpCallIndirect:
		callee := e.funcByAddr(arg(0))
		argv := make([]uint64, len(i.Args)-1)
		for n := 1; n < len(i.Args); n++ {
			argv[n-1] = arg(n)
		}
		r := e.call(callee, argv)
		if i.Result() != ir.ValueInvalid {
			set(r)
		}

	case ir.OpJump:
		return i.Blocks[0], 0, false
	case ir.OpCondBr:
		if arg(0) != 0 {
			return i.Blocks[0], 0, false
		}
		return i.Blocks[1], 0, false
	case ir.OpRet:
		if len(i.Args) == 1 {
			return nil, arg(0), true
		}
		return nil, 0, true

	default:
		panic(fmt.Sprintf("engine: unhandled opcode %s", i.Op))
	}
	return nil, 0, false
}

func maskVal(ty ir.Type, v uint64) uint64 {
	switch ty {
	case ir.I8:
		return v & 0xff
	case ir.I32:
		return v & 0xffffffff
	}
	return v
}

func sextVal(ty ir.Type, v uint64) int64 {
	switch ty {
	case ir.I8:
		return int64(int8(v))
	case ir.I32:
		return int64(int32(v))
	}
	return int64(v)
}

func shiftAmt(ty ir.Type, v uint64) uint64 {
	return v & (uint64(ty.Bits()) - 1)
}

func fval(v uint64) float64 { return math.Float64frombits(v) }

func setF(set func(uint64), f float64) { set(math.Float64bits(f)) }

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func icmp(p ir.Pred, ty ir.Type, x, y uint64) bool {
	sx, sy := sextVal(ty, x), sextVal(ty, y)
	switch p {
	case ir.PredEq:
		return x == y
	case ir.PredNe:
		return x != y
	case ir.PredSlt:
		return sx < sy
	case ir.PredSle:
		return sx <= sy
	case ir.PredSgt:
		return sx > sy
	case ir.PredSge:
		return sx >= sy
	case ir.PredUlt:
		return x < y
	case ir.PredUle:
		return x <= y
	case ir.PredUgt:
		return x > y
	case ir.PredUge:
		return x >= y
	}
	panic(fmt.Sprintf("engine: unhandled predicate %s", p))
}

// fcmp implements the ordered float predicates: false whenever either
// operand is NaN.
func fcmp(p ir.Pred, x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch p {
	case ir.PredEq:
		return x == y
	case ir.PredNe:
		return x != y
	case ir.PredSlt, ir.PredUlt:
		return x < y
	case ir.PredSle, ir.PredUle:
		return x <= y
	case ir.PredSgt, ir.PredUgt:
		return x > y
	case ir.PredSge, ir.PredUge:
		return x >= y
	}
	panic(fmt.Sprintf("engine: unhandled predicate %s", p))
}

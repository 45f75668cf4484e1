// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cil describes CIL (ECMA-335) instructions in their decoded form.
// The metadata reader hands method bodies to the JIT as []Instruction;
// branch targets are absolute indices into that slice, not byte offsets.
package cil

import "fmt"

// Op identifies a CIL operation.
type Op uint8

const (
	Nop Op = iota
	Ldnull
	Ldstr
	LdcI4M1
	LdcI40
	LdcI41
	LdcI42
	LdcI43
	LdcI44
	LdcI45
	LdcI46
	LdcI47
	LdcI48
	LdcI4S
	LdcI4
	LdcR8
	Ldloc0
	Ldloc1
	Ldloc2
	Ldloc3
	LdlocS
	Stloc0
	Stloc1
	Stloc2
	Stloc3
	StlocS
	Ldarg0
	Ldarg1
	Ldarg2
	Ldarg3
	LdargS
	StargS
	Ldfld
	Stfld
	LdelemU1
	LdelemI1
	LdelemI4
	LdelemRef
	StelemI1
	StelemI4
	StelemRef
	Ldlen
	ConvI4
	ConvI8
	ConvR8
	ConvRUn
	Pop
	Dup
	Call
	CallVirt
	Box
	Newobj
	Newarr
	Add
	Sub
	Mul
	Div
	Rem
	RemUn
	Xor
	Shl
	Shr
	ShrUn
	Neg
	Ret
	Br
	Brfalse
	Brtrue
	Beq
	Bge
	BgeUn
	Bgt
	Ble
	BleUn
	Blt
	BneUn
	Ceq
	Cgt
	Clt

	opCount
)

var opNames = [opCount]string{
	Nop:       "nop",
	Ldnull:    "ldnull",
	Ldstr:     "ldstr",
	LdcI4M1:   "ldc.i4.m1",
	LdcI40:    "ldc.i4.0",
	LdcI41:    "ldc.i4.1",
	LdcI42:    "ldc.i4.2",
	LdcI43:    "ldc.i4.3",
	LdcI44:    "ldc.i4.4",
	LdcI45:    "ldc.i4.5",
	LdcI46:    "ldc.i4.6",
	LdcI47:    "ldc.i4.7",
	LdcI48:    "ldc.i4.8",
	LdcI4S:    "ldc.i4.s",
	LdcI4:     "ldc.i4",
	LdcR8:     "ldc.r8",
	Ldloc0:    "ldloc.0",
	Ldloc1:    "ldloc.1",
	Ldloc2:    "ldloc.2",
	Ldloc3:    "ldloc.3",
	LdlocS:    "ldloc.s",
	Stloc0:    "stloc.0",
	Stloc1:    "stloc.1",
	Stloc2:    "stloc.2",
	Stloc3:    "stloc.3",
	StlocS:    "stloc.s",
	Ldarg0:    "ldarg.0",
	Ldarg1:    "ldarg.1",
	Ldarg2:    "ldarg.2",
	Ldarg3:    "ldarg.3",
	LdargS:    "ldarg.s",
	StargS:    "starg.s",
	Ldfld:     "ldfld",
	Stfld:     "stfld",
	LdelemU1:  "ldelem.u1",
	LdelemI1:  "ldelem.i1",
	LdelemI4:  "ldelem.i4",
	LdelemRef: "ldelem.ref",
	StelemI1:  "stelem.i1",
	StelemI4:  "stelem.i4",
	StelemRef: "stelem.ref",
	Ldlen:     "ldlen",
	ConvI4:    "conv.i4",
	ConvI8:    "conv.i8",
	ConvR8:    "conv.r8",
	ConvRUn:   "conv.r.un",
	Pop:       "pop",
	Dup:       "dup",
	Call:      "call",
	CallVirt:  "callvirt",
	Box:       "box",
	Newobj:    "newobj",
	Newarr:    "newarr",
	Add:       "add",
	Sub:       "sub",
	Mul:       "mul",
	Div:       "div",
	Rem:       "rem",
	RemUn:     "rem.un",
	Xor:       "xor",
	Shl:       "shl",
	Shr:       "shr",
	ShrUn:     "shr.un",
	Neg:       "neg",
	Ret:       "ret",
	Br:        "br",
	Brfalse:   "brfalse",
	Brtrue:    "brtrue",
	Beq:       "beq",
	Bge:       "bge",
	BgeUn:     "bge.un",
	Bgt:       "bgt",
	Ble:       "ble",
	BleUn:     "ble.un",
	Blt:       "blt",
	BneUn:     "bne.un",
	Ceq:       "ceq",
	Cgt:       "cgt",
	Clt:       "clt",
}

func (op Op) String() string {
	if op < opCount && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("<unknown op 0x%x>", uint8(op))
}

// IsCondBranch reports whether op is a two-destination branch.
func (op Op) IsCondBranch() bool {
	switch op {
	case Brfalse, Brtrue, Beq, Bge, BgeUn, Bgt, Ble, BleUn, Blt, BneUn:
		return true
	}
	return false
}

// IsBranch reports whether op transfers control to an explicit target.
func (op Op) IsBranch() bool {
	return op == Br || op.IsCondBranch()
}

// Instruction is one decoded CIL instruction. Which immediate fields are
// meaningful depends on Op:
//
//	ldc.i4.s, ldc.i4, ldloc.s, stloc.s, ldarg.s, starg.s  -> I32
//	ldc.r8                                                -> F64
//	br and the b* family                                  -> Target
//	call, callvirt, newobj, newarr, box, ldfld, stfld     -> Token
//	ldstr                                                 -> US
type Instruction struct {
	Op     Op
	I32    int32
	F64    float64
	Target int
	Token  Token
	US     uint32 // user-string heap offset
}

func (i Instruction) String() string {
	switch {
	case i.Op.IsBranch():
		return fmt.Sprintf("%s %d", i.Op, i.Target)
	case i.Op == LdcI4 || i.Op == LdcI4S:
		return fmt.Sprintf("%s %d", i.Op, i.I32)
	case i.Op == LdcR8:
		return fmt.Sprintf("%s %g", i.Op, i.F64)
	case i.Op == Ldstr:
		return fmt.Sprintf("%s us:%d", i.Op, i.US)
	case i.Op == Call || i.Op == CallVirt || i.Op == Newobj ||
		i.Op == Newarr || i.Op == Box || i.Op == Ldfld || i.Op == Stfld:
		return fmt.Sprintf("%s %v", i.Op, i.Token)
	}
	return i.Op.String()
}

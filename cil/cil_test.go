// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	for _, tok := range []Token{
		{Table: TableMethodDef, Row: 1},
		{Table: TableMemberRef, Row: 0x00ffffff},
		{Table: TableTypeRef, Row: 42},
		{Table: TableField, Row: 7},
	} {
		require.Equal(t, tok, DecodeToken(tok.Encode()), "token %v", tok)
	}
}

func TestTokenNull(t *testing.T) {
	require.True(t, Token{Table: TableTypeDef}.IsNull())
	require.False(t, Token{Table: TableTypeDef, Row: 1}.IsNull())
}

func TestOpString(t *testing.T) {
	for _, tc := range []struct {
		op   Op
		want string
	}{
		{LdcI4M1, "ldc.i4.m1"},
		{LdcI4S, "ldc.i4.s"},
		{BneUn, "bne.un"},
		{ConvRUn, "conv.r.un"},
		{StelemRef, "stelem.ref"},
		{CallVirt, "callvirt"},
	} {
		require.Equal(t, tc.want, tc.op.String())
	}
}

func TestOpBranchClasses(t *testing.T) {
	cond := []Op{Brfalse, Brtrue, Beq, Bge, BgeUn, Bgt, Ble, BleUn, Blt, BneUn}
	for _, op := range cond {
		require.True(t, op.IsCondBranch(), "%s", op)
		require.True(t, op.IsBranch(), "%s", op)
	}
	require.True(t, Br.IsBranch())
	require.False(t, Br.IsCondBranch())
	for _, op := range []Op{Add, Ret, Call, Ldloc0, Ceq} {
		require.False(t, op.IsBranch(), "%s", op)
	}
}

func TestInstructionString(t *testing.T) {
	require.Equal(t, "br 12", Instruction{Op: Br, Target: 12}.String())
	require.Equal(t, "ldc.i4 -3", Instruction{Op: LdcI4, I32: -3}.String())
	require.Equal(t, "call MethodDef[2]",
		Instruction{Op: Call, Token: Token{Table: TableMethodDef, Row: 2}}.String())
}

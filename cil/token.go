// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cil

import "fmt"

// TableKind identifies a metadata table (ECMA-335 II.22).
type TableKind uint8

const (
	TableModule      TableKind = 0x00
	TableTypeRef     TableKind = 0x01
	TableTypeDef     TableKind = 0x02
	TableField       TableKind = 0x04
	TableMethodDef   TableKind = 0x06
	TableMemberRef   TableKind = 0x0a
	TableAssemblyRef TableKind = 0x23
	TableMethodSpec  TableKind = 0x2b
)

var tableKindStrMap = map[TableKind]string{
	TableModule:      "Module",
	TableTypeRef:     "TypeRef",
	TableTypeDef:     "TypeDef",
	TableField:       "Field",
	TableMethodDef:   "MethodDef",
	TableMemberRef:   "MemberRef",
	TableAssemblyRef: "AssemblyRef",
	TableMethodSpec:  "MethodSpec",
}

func (k TableKind) String() string {
	if s, ok := tableKindStrMap[k]; ok {
		return s
	}
	return fmt.Sprintf("<table 0x%02x>", uint8(k))
}

// Token identifies a row of a metadata table. Rows are 1-based; a zero Row
// is the null token of that table.
type Token struct {
	Table TableKind
	Row   uint32
}

// DecodeToken splits a raw 32-bit metadata token into its table kind and
// 1-based row index.
func DecodeToken(raw uint32) Token {
	return Token{Table: TableKind(raw >> 24), Row: raw & 0x00ffffff}
}

// Encode packs the token back into its 32-bit on-disk form.
func (t Token) Encode() uint32 {
	return uint32(t.Table)<<24 | t.Row&0x00ffffff
}

// IsNull reports whether the token addresses no row.
func (t Token) IsNull() bool { return t.Row == 0 }

func (t Token) String() string {
	return fmt.Sprintf("%v[%d]", t.Table, t.Row)
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"strings"
)

// Format renders the module for debugging.
func (m *Module) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s\n", m.Name)
	for _, f := range m.Funcs {
		sb.WriteString(f.Format())
	}
	return sb.String()
}

// Format renders the function for debugging and verifier dumps.
func (f *Func) Format() string {
	var sb strings.Builder
	params := make([]string, len(f.Sig.Params))
	for i, p := range f.Sig.Params {
		params[i] = fmt.Sprintf("v%d:%s", i, p)
	}
	kind := "func"
	if f.Declared() {
		kind = "declare"
	}
	fmt.Fprintf(&sb, "%s %s(%s) %s\n", kind, f.Name, strings.Join(params, ", "), f.Sig.Ret)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b)
		for _, i := range b.Instrs {
			fmt.Fprintf(&sb, "\t%s\n", f.formatInstr(i))
		}
	}
	return sb.String()
}

func (f *Func) formatInstr(i *Instr) string {
	var sb strings.Builder
	if i.ret != ValueInvalid {
		fmt.Fprintf(&sb, "v%d:%s = ", i.ret, i.Ty)
	}
	sb.WriteString(i.Op.String())
	switch i.Op {
	case OpIconst, OpPconst:
		fmt.Fprintf(&sb, " %d", i.I64)
	case OpFconst:
		fmt.Fprintf(&sb, " %g", i.F64)
	case OpFaddr, OpCall:
		fmt.Fprintf(&sb, " %s", i.Callee.Name)
	case OpIcmp, OpFcmp:
		fmt.Fprintf(&sb, " %s", i.Pred)
	case OpPhi:
		for n, in := range i.Incoming {
			if n > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, " [v%d, %s]", in.Val, in.Pred)
		}
	}
	for _, a := range i.Args {
		fmt.Fprintf(&sb, " v%d", a)
	}
	for _, b := range i.Blocks {
		fmt.Fprintf(&sb, " %s", b)
	}
	if i.Tail {
		sb.WriteString(" tail")
	}
	return sb.String()
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

import "github.com/camny125/yacht/cil"

// MethodInfo is either a method defined in some loaded assembly
// (*MethodDef) or a reference to one resolved through the method
// registry (*MethodRef).
type MethodInfo interface {
	MethodName() string
	MethodType() *Type // always a fnptr type
	MethodClass() *ClassInfo
}

// MethodDef is a method with a body in a loaded assembly. RVA is its
// stable identifier within the assembly.
type MethodDef struct {
	RVA        uint32
	Name       string
	Ty         *Type // fnptr
	Class      *ClassInfo
	Body       []cil.Instruction
	LocalTypes []*Type
}

func (m *MethodDef) MethodName() string      { return m.Name }
func (m *MethodDef) MethodType() *Type       { return m.Ty }
func (m *MethodDef) MethodClass() *ClassInfo { return m.Class }

// MethodRef names a method of a class in another scope; it carries no
// body and resolves through the method registry.
type MethodRef struct {
	Name  string
	Ty    *Type // fnptr
	Class *ClassInfo
}

func (m *MethodRef) MethodName() string      { return m.Name }
func (m *MethodRef) MethodType() *Type       { return m.Ty }
func (m *MethodRef) MethodClass() *ClassInfo { return m.Class }

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

import "fmt"

// TypePath names a type across assemblies: (assembly, namespace, type name).
type TypePath struct {
	Assembly  string
	Namespace string
	TypeName  string
}

func (p TypePath) String() string {
	return fmt.Sprintf("[%s]%s.%s", p.Assembly, p.Namespace, p.TypeName)
}

// MethodPath extends a TypePath with a method name.
type MethodPath struct {
	TypePath
	MethodName string
}

// WithMethodName returns the MethodPath for a method of this type.
func (p TypePath) WithMethodName(name string) MethodPath {
	return MethodPath{TypePath: p, MethodName: name}
}

// ClassField is one instance field: its name and declared type. The order
// of fields in ClassInfo.Fields is the authoritative ABI order.
type ClassField struct {
	Name string
	Ty   *Type
}

// ClassInfo describes one class. MethodTable lists the class's virtual
// slots in v-table order, ECMA-335 layout rules applied (inherited slots
// first, overrides in place).
type ClassInfo struct {
	Namespace       string
	Name            string
	ResolutionScope string // name of the defining assembly
	Fields          []ClassField
	MethodTable     []MethodInfo
	Parent          *ClassInfo
	IsEnum          bool
}

// Path returns the class's TypePath.
func (c *ClassInfo) Path() TypePath {
	return TypePath{Assembly: c.ResolutionScope, Namespace: c.Namespace, TypeName: c.Name}
}

// FieldIndex returns the position of the named field in ABI order.
func (c *ClassInfo) FieldIndex(name string) (int, bool) {
	for i, f := range c.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Field returns the named field.
func (c *ClassInfo) Field(name string) (ClassField, bool) {
	if i, ok := c.FieldIndex(name); ok {
		return c.Fields[i], true
	}
	return ClassField{}, false
}

// MethodIndex returns the v-table slot of the named method.
func (c *ClassInfo) MethodIndex(name string) (int, bool) {
	for i, m := range c.MethodTable {
		if m.MethodName() == name {
			return i, true
		}
	}
	return 0, false
}

func (c *ClassInfo) String() string {
	return c.Namespace + "." + c.Name
}

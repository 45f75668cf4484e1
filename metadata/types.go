// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metadata models the parts of a CLI image the execution core
// consumes: element types, classes, method info and the Image lookup
// service. The PE/CLI reader producing these values is a separate
// subsystem; see Image.
package metadata

import (
	"fmt"
	"strings"
)

// ElementType is the kind tag of a Type (ECMA-335 II.23.1.16).
type ElementType uint8

const (
	ElemVoid ElementType = iota
	ElemBoolean
	ElemChar
	ElemI4
	ElemU4
	ElemI8
	ElemR8
	ElemString
	ElemObject
	ElemSzArray
	ElemClass
	ElemValueType
	ElemPtr
	ElemFnPtr
)

var elementTypeStrMap = map[ElementType]string{
	ElemVoid:      "void",
	ElemBoolean:   "bool",
	ElemChar:      "char",
	ElemI4:        "i4",
	ElemU4:        "u4",
	ElemI8:        "i8",
	ElemR8:        "r8",
	ElemString:    "string",
	ElemObject:    "object",
	ElemSzArray:   "szarray",
	ElemClass:     "class",
	ElemValueType: "valuetype",
	ElemPtr:       "ptr",
	ElemFnPtr:     "fnptr",
}

func (e ElementType) String() string {
	if s, ok := elementTypeStrMap[e]; ok {
		return s
	}
	return fmt.Sprintf("<unknown element_type %d>", uint8(e))
}

// MethodSig is the signature carried by a fnptr type: the instance flag,
// the parameter types and the return type.
type MethodSig struct {
	HasThis bool
	Params  []*Type
	Ret     *Type
}

// Type is a tagged variant over element kinds. Leaf kinds use only Kind;
// szarray and ptr set Elem, class and valuetype set Class, fnptr sets Fn.
// Types are immutable once built and are shared freely.
type Type struct {
	Kind  ElementType
	Elem  *Type
	Class *ClassInfo
	Fn    *MethodSig
}

// Shared leaf types. Composite types come from SzArray, ClassT, ValueT,
// Ptr and FnPtr.
var (
	Void    = &Type{Kind: ElemVoid}
	Boolean = &Type{Kind: ElemBoolean}
	Char    = &Type{Kind: ElemChar}
	I4      = &Type{Kind: ElemI4}
	U4      = &Type{Kind: ElemU4}
	I8      = &Type{Kind: ElemI8}
	R8      = &Type{Kind: ElemR8}
	String  = &Type{Kind: ElemString}
	Object  = &Type{Kind: ElemObject}
)

// SzArray returns the single-dimensional zero-based array type over elem.
func SzArray(elem *Type) *Type { return &Type{Kind: ElemSzArray, Elem: elem} }

// Ptr returns the unmanaged pointer type over elem.
func Ptr(elem *Type) *Type { return &Type{Kind: ElemPtr, Elem: elem} }

// ClassT returns the reference type of class.
func ClassT(class *ClassInfo) *Type { return &Type{Kind: ElemClass, Class: class} }

// ValueT returns the value type of class.
func ValueT(class *ClassInfo) *Type { return &Type{Kind: ElemValueType, Class: class} }

// FnPtr returns a function-pointer type with the given signature.
func FnPtr(sig *MethodSig) *Type { return &Type{Kind: ElemFnPtr, Fn: sig} }

// Equal reports structural equality. Class and valuetype compare by class
// identity; fnptr compares the has-this flag, parameters and return type.
func (t *Type) Equal(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil || t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case ElemSzArray, ElemPtr:
		return t.Elem.Equal(u.Elem)
	case ElemClass, ElemValueType:
		return t.Class == u.Class
	case ElemFnPtr:
		a, b := t.Fn, u.Fn
		if a.HasThis != b.HasThis || len(a.Params) != len(b.Params) || !a.Ret.Equal(b.Ret) {
			return false
		}
		for i := range a.Params {
			if !a.Params[i].Equal(b.Params[i]) {
				return false
			}
		}
		return true
	}
	return true
}

// IsInt reports whether the type belongs to the integer category
// (including bool and char, which load as integers).
func (t *Type) IsInt() bool {
	switch t.Kind {
	case ElemBoolean, ElemChar, ElemI4, ElemU4, ElemI8:
		return true
	case ElemValueType:
		return t.Class != nil && t.Class.IsEnum
	}
	return false
}

// IsFloat reports whether the type belongs to the float category.
func (t *Type) IsFloat() bool { return t.Kind == ElemR8 }

// IsVoid reports whether the type is void.
func (t *Type) IsVoid() bool { return t.Kind == ElemVoid }

// IsUnsigned reports whether integer comparisons on the type use the
// unsigned predicates.
func (t *Type) IsUnsigned() bool {
	return t.Kind == ElemU4 || t.Kind == ElemChar || t.Kind == ElemBoolean
}

// AsFnPtr returns the signature of a fnptr type, or nil.
func (t *Type) AsFnPtr() *MethodSig {
	if t.Kind == ElemFnPtr {
		return t.Fn
	}
	return nil
}

// AsClass returns the class handle of a class or valuetype type, or nil.
func (t *Type) AsClass() *ClassInfo {
	if t.Kind == ElemClass || t.Kind == ElemValueType {
		return t.Class
	}
	return nil
}

// AsSzArrayElem returns the element type of a szarray type, or nil.
func (t *Type) AsSzArrayElem() *Type {
	if t.Kind == ElemSzArray {
		return t.Elem
	}
	return nil
}

func (t *Type) String() string {
	switch t.Kind {
	case ElemSzArray:
		return t.Elem.String() + "[]"
	case ElemPtr:
		return t.Elem.String() + "*"
	case ElemClass, ElemValueType:
		return fmt.Sprintf("%s(%s.%s)", t.Kind, t.Class.Namespace, t.Class.Name)
	case ElemFnPtr:
		params := make([]string, len(t.Fn.Params))
		for i, p := range t.Fn.Params {
			params[i] = p.String()
		}
		this := ""
		if t.Fn.HasThis {
			this = "this; "
		}
		return fmt.Sprintf("fnptr %s(%s%s)", t.Fn.Ret, this, strings.Join(params, ", "))
	}
	return t.Kind.String()
}

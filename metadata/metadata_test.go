// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func classPair() (*ClassInfo, *ClassInfo) {
	a := &ClassInfo{Namespace: "N", Name: "A", ResolutionScope: "asm"}
	b := &ClassInfo{Namespace: "N", Name: "B", ResolutionScope: "asm"}
	return a, b
}

func TestTypeEqualStructural(t *testing.T) {
	a, b := classPair()
	sig := &MethodSig{HasThis: true, Params: []*Type{I4, String}, Ret: Void}

	for _, tc := range []struct {
		name string
		x, y *Type
		want bool
	}{
		{"leaf equal", I4, I4, true},
		{"leaf distinct pointers", I4, &Type{Kind: ElemI4}, true},
		{"leaf unequal", I4, I8, false},
		{"szarray equal", SzArray(I4), SzArray(I4), true},
		{"szarray elem unequal", SzArray(I4), SzArray(R8), false},
		{"class identity", ClassT(a), ClassT(a), true},
		{"class unequal", ClassT(a), ClassT(b), false},
		{"class vs valuetype", ClassT(a), ValueT(a), false},
		{"ptr", Ptr(Char), Ptr(Char), true},
		{"fnptr equal", FnPtr(sig), FnPtr(&MethodSig{HasThis: true, Params: []*Type{I4, String}, Ret: Void}), true},
		{"fnptr has-this", FnPtr(sig), FnPtr(&MethodSig{Params: []*Type{I4, String}, Ret: Void}), false},
		{"fnptr ret", FnPtr(sig), FnPtr(&MethodSig{HasThis: true, Params: []*Type{I4, String}, Ret: I4}), false},
	} {
		require.Equal(t, tc.want, tc.x.Equal(tc.y), tc.name)
		require.Equal(t, tc.want, tc.y.Equal(tc.x), tc.name+" (sym)")
	}
}

// Interning is idempotent, and two types share a TypeID iff they are
// structurally equal.
func TestTypeArenaInterning(t *testing.T) {
	a, _ := classPair()
	arena := NewTypeArena()

	types := []*Type{
		Void, Boolean, Char, I4, U4, I8, R8, String, Object,
		SzArray(I4), SzArray(Object), Ptr(Char), ClassT(a), ValueT(a),
		FnPtr(&MethodSig{Params: []*Type{I4}, Ret: Void}),
	}

	ids := make([]TypeID, len(types))
	for i, ty := range types {
		ids[i] = arena.Intern(ty)
	}
	for i, ty := range types {
		require.Equal(t, ids[i], arena.Intern(ty), "re-interning %s", ty)
	}
	require.Equal(t, len(types), arena.Len())

	for i := range types {
		for j := range types {
			require.Equal(t, types[i].Equal(types[j]), ids[i] == ids[j],
				"%s vs %s", types[i], types[j])
		}
	}

	// Structurally equal values built separately intern to the same id.
	require.Equal(t, arena.Intern(SzArray(I4)), arena.Intern(&Type{Kind: ElemSzArray, Elem: I4}))

	for i, id := range ids {
		require.True(t, arena.Get(id).Equal(types[i]))
	}
}

func TestClassLookups(t *testing.T) {
	a, _ := classPair()
	a.Fields = []ClassField{
		{Name: "x", Ty: I4},
		{Name: "y", Ty: R8},
	}
	speak := &MethodRef{Name: "Speak", Ty: FnPtr(&MethodSig{HasThis: true, Ret: Void}), Class: a}
	a.MethodTable = []MethodInfo{speak}

	i, ok := a.FieldIndex("y")
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = a.FieldIndex("z")
	require.False(t, ok)

	m, ok := a.MethodIndex("Speak")
	require.True(t, ok)
	require.Equal(t, 0, m)
	_, ok = a.MethodIndex("Listen")
	require.False(t, ok)

	require.Equal(t, TypePath{Assembly: "asm", Namespace: "N", TypeName: "A"}, a.Path())
}

func TestTypeCategories(t *testing.T) {
	enum := &ClassInfo{Name: "Color", IsEnum: true}
	require.True(t, ValueT(enum).IsInt())
	require.True(t, I4.IsInt())
	require.True(t, Char.IsInt())
	require.False(t, R8.IsInt())
	require.True(t, R8.IsFloat())
	require.False(t, Object.IsInt())
	require.True(t, Void.IsVoid())
	require.True(t, U4.IsUnsigned())
	require.False(t, I4.IsUnsigned())
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metatest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camny125/yacht/cil"
	"github.com/camny125/yacht/metadata"
)

func TestHeapsIntern(t *testing.T) {
	im := NewImage("test")

	a := im.InternString("Speak")
	require.Equal(t, a, im.InternString("Speak"))
	require.NotEqual(t, a, im.InternString("Listen"))
	require.Equal(t, "Speak", im.String(a))

	u := im.InternUserString("héllo")
	require.Equal(t, u, im.InternUserString("héllo"))
	require.Equal(t, "héllo", string(utf16Decode(im.UserString(u))))
}

func utf16Decode(u []uint16) []rune {
	out := make([]rune, len(u))
	for i, c := range u {
		out[i] = rune(c)
	}
	return out
}

func TestTableLookups(t *testing.T) {
	im := NewImage("test")

	class := &metadata.ClassInfo{Name: "C", ResolutionScope: "test"}
	tok := cil.Token{Table: cil.TableTypeDef, Row: 1}
	im.AddClass(tok, class)
	got, ok := im.Class(tok)
	require.True(t, ok)
	require.Equal(t, class, got)

	_, err := im.TableEntry(cil.Token{Table: cil.TableMemberRef, Row: 9})
	require.Error(t, err)

	def := &metadata.MethodDef{RVA: 0x10, Name: "M",
		Ty: metadata.FnPtr(&metadata.MethodSig{Ret: metadata.Void}), Class: class}
	mtok := im.AddMethod(1, def)
	row, err := im.TableEntry(mtok)
	require.NoError(t, err)
	require.Equal(t, metadata.MethodDefRow{RVA: 0x10}, row)

	m, ok := im.MethodByRVA(0x10)
	require.True(t, ok)
	require.Equal(t, def, m)

	_, err = im.EntryMethod()
	require.ErrorIs(t, err, metadata.ErrNoEntryMethod)
	im.SetEntry(0x10)
	entry, err := im.EntryMethod()
	require.NoError(t, err)
	require.Equal(t, def, entry)
}

func TestCollectReachableAssemblies(t *testing.T) {
	lib := NewImage("lib")
	app := NewImage("app")
	app.AddAssemblyRef(lib.Assembly())

	asms := make(map[string]*metadata.Assembly)
	app.CollectReachableAssemblies(asms)
	require.Len(t, asms, 2)
	require.Contains(t, asms, "app")
	require.Contains(t, asms, "lib")
}

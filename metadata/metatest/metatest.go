// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metatest provides an in-memory metadata.Image for tests and
// embedders. It implements the same lookup surface a PE/CLI reader
// produces, with builder methods in place of a binary format.
package metatest

import (
	"unicode/utf16"

	"github.com/camny125/yacht/cil"
	"github.com/camny125/yacht/metadata"
)

// Image is an in-memory metadata.Image. The zero value is not usable;
// call NewImage.
type Image struct {
	assemblyName string
	entryRVA     uint32
	hasEntry     bool

	methods     map[uint32]*metadata.MethodDef
	strings     map[uint32]string
	stringIDs   map[string]uint32
	userStrings map[uint32][]uint16
	usIDs       map[string]uint32
	rows        map[cil.Token]metadata.Row
	classes     map[cil.Token]*metadata.ClassInfo
	refPaths    map[metadata.TypeRefRow]metadata.TypePath
	sigs        map[uint32]*metadata.Type
	refs        []*metadata.Assembly

	nextString uint32
	nextUS     uint32
	nextSig    uint32
}

var _ metadata.Image = (*Image)(nil)

// NewImage returns an empty image for the named assembly.
func NewImage(assemblyName string) *Image {
	return &Image{
		assemblyName: assemblyName,
		methods:      make(map[uint32]*metadata.MethodDef),
		strings:      make(map[uint32]string),
		stringIDs:    make(map[string]uint32),
		userStrings:  make(map[uint32][]uint16),
		usIDs:        make(map[string]uint32),
		rows:         make(map[cil.Token]metadata.Row),
		classes:      make(map[cil.Token]*metadata.ClassInfo),
		refPaths:     make(map[metadata.TypeRefRow]metadata.TypePath),
		sigs:         make(map[uint32]*metadata.Type),
		nextString:   1,
		nextUS:       1,
		nextSig:      1,
	}
}

// Assembly wraps the image in a metadata.Assembly.
func (im *Image) Assembly() *metadata.Assembly {
	return &metadata.Assembly{Name: im.assemblyName, Image: im}
}

// InternString adds s to the #Strings heap and returns its offset.
func (im *Image) InternString(s string) uint32 {
	if off, ok := im.stringIDs[s]; ok {
		return off
	}
	off := im.nextString
	im.nextString += uint32(len(s)) + 1
	im.strings[off] = s
	im.stringIDs[s] = off
	return off
}

// InternUserString adds s to the #US heap as UTF-16 and returns its offset.
func (im *Image) InternUserString(s string) uint32 {
	if off, ok := im.usIDs[s]; ok {
		return off
	}
	u := utf16.Encode([]rune(s))
	off := im.nextUS
	im.nextUS += uint32(2*len(u)) + 1
	im.userStrings[off] = u
	im.usIDs[s] = off
	return off
}

// AddMethod registers a method body under its RVA and, when row is
// nonzero, a MethodDef table row addressing it.
func (im *Image) AddMethod(row uint32, def *metadata.MethodDef) cil.Token {
	im.methods[def.RVA] = def
	tok := cil.Token{Table: cil.TableMethodDef, Row: row}
	if row != 0 {
		im.rows[tok] = metadata.MethodDefRow{RVA: def.RVA}
	}
	return tok
}

// SetEntry marks the method at rva as the image's entry point.
func (im *Image) SetEntry(rva uint32) {
	im.entryRVA = rva
	im.hasEntry = true
}

// AddClass registers class under tok (a TypeDef or TypeRef token).
func (im *Image) AddClass(tok cil.Token, class *metadata.ClassInfo) {
	im.classes[tok] = class
	if tok.Table == cil.TableTypeDef {
		im.rows[tok] = metadata.TypeDefRow{
			Name:      im.InternString(class.Name),
			Namespace: im.InternString(class.Namespace),
		}
	}
}

// AddTypeRef registers a TypeRef row resolving to path, and binds class
// (which may live in another assembly) to the token.
func (im *Image) AddTypeRef(row uint32, path metadata.TypePath, class *metadata.ClassInfo) cil.Token {
	tok := cil.Token{Table: cil.TableTypeRef, Row: row}
	r := metadata.TypeRefRow{
		Name:      im.InternString(path.TypeName),
		Namespace: im.InternString(path.Namespace),
	}
	im.rows[tok] = r
	im.refPaths[r] = path
	if class != nil {
		im.classes[tok] = class
	}
	return tok
}

// AddSig registers a method signature blob and returns its index.
func (im *Image) AddSig(ty *metadata.Type) uint32 {
	idx := im.nextSig
	im.nextSig++
	im.sigs[idx] = ty
	return idx
}

// AddMemberRef registers a MemberRef row for the named member of the
// class addressed by classTok.
func (im *Image) AddMemberRef(row uint32, classTok cil.Token, name string, sig uint32) cil.Token {
	tok := cil.Token{Table: cil.TableMemberRef, Row: row}
	im.rows[tok] = metadata.MemberRefRow{
		Class:     classTok,
		Name:      im.InternString(name),
		Signature: sig,
	}
	return tok
}

// AddFieldRow registers a Field row for the named field.
func (im *Image) AddFieldRow(row uint32, name string) cil.Token {
	tok := cil.Token{Table: cil.TableField, Row: row}
	im.rows[tok] = metadata.FieldRow{Name: im.InternString(name)}
	return tok
}

// AddAssemblyRef marks asm as reachable from this image.
func (im *Image) AddAssemblyRef(asm *metadata.Assembly) {
	im.refs = append(im.refs, asm)
}

// EntryMethod implements metadata.Image.
func (im *Image) EntryMethod() (*metadata.MethodDef, error) {
	if !im.hasEntry {
		return nil, metadata.ErrNoEntryMethod
	}
	m, ok := im.methods[im.entryRVA]
	if !ok {
		return nil, metadata.ErrNoEntryMethod
	}
	return m, nil
}

// MethodByRVA implements metadata.Image.
func (im *Image) MethodByRVA(rva uint32) (*metadata.MethodDef, bool) {
	m, ok := im.methods[rva]
	return m, ok
}

// TableEntry implements metadata.Image.
func (im *Image) TableEntry(tok cil.Token) (metadata.Row, error) {
	r, ok := im.rows[tok]
	if !ok {
		return nil, metadata.UnknownTokenError(tok)
	}
	return r, nil
}

// String implements metadata.Image.
func (im *Image) String(off uint32) string { return im.strings[off] }

// UserString implements metadata.Image.
func (im *Image) UserString(off uint32) []uint16 { return im.userStrings[off] }

// Class implements metadata.Image.
func (im *Image) Class(tok cil.Token) (*metadata.ClassInfo, bool) {
	c, ok := im.classes[tok]
	return c, ok
}

// PathFromTypeRef implements metadata.Image.
func (im *Image) PathFromTypeRef(row metadata.TypeRefRow) metadata.TypePath {
	return im.refPaths[row]
}

// MethodRefSig implements metadata.Image.
func (im *Image) MethodRefSig(blobIdx uint32) *metadata.Type {
	return im.sigs[blobIdx]
}

// Classes implements metadata.Image.
func (im *Image) Classes() map[cil.Token]*metadata.ClassInfo { return im.classes }

// Methods implements metadata.Image.
func (im *Image) Methods() map[uint32]*metadata.MethodDef { return im.methods }

// CollectReachableAssemblies implements metadata.Image.
func (im *Image) CollectReachableAssemblies(m map[string]*metadata.Assembly) {
	if _, ok := m[im.assemblyName]; ok {
		return
	}
	m[im.assemblyName] = im.Assembly()
	for _, ref := range im.refs {
		if _, ok := m[ref.Name]; !ok {
			ref.Image.CollectReachableAssemblies(m)
		}
	}
}

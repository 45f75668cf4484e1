// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

import (
	"errors"
	"fmt"

	"github.com/camny125/yacht/cil"
)

var (
	// ErrNoImageReader is returned by Open when no PE/CLI metadata
	// reader has been registered.
	ErrNoImageReader = errors.New("metadata: no image reader registered")
	// ErrNoEntryMethod is returned by images whose CLI header carries
	// no entry-point token.
	ErrNoEntryMethod = errors.New("metadata: image has no entry method")
)

// UnknownTokenError is returned by Image lookups for a token that
// addresses no row.
type UnknownTokenError cil.Token

func (e UnknownTokenError) Error() string {
	return fmt.Sprintf("metadata: unknown token %v", cil.Token(e))
}

// Row is a decoded metadata table row. The concrete types below cover the
// rows the execution core consumes; anything else is a development-time
// failure at the use site.
type Row interface {
	isRow()
}

// MethodDefRow addresses a method defined in this assembly by RVA.
type MethodDefRow struct {
	RVA uint32
}

// MemberRefRow references a member of a class in some scope. Class is a
// TypeRef or TypeDef token; Name is a #Strings heap offset; Signature is
// a #Blob heap index.
type MemberRefRow struct {
	Class     cil.Token
	Name      uint32
	Signature uint32
}

// TypeRefRow references a type in another scope.
type TypeRefRow struct {
	ResolutionScope uint32 // AssemblyRef row
	Name            uint32 // #Strings offset
	Namespace       uint32 // #Strings offset
}

// TypeDefRow declares a type in this assembly.
type TypeDefRow struct {
	Name      uint32
	Namespace uint32
}

// FieldRow declares an instance field; Name is a #Strings heap offset.
type FieldRow struct {
	Name uint32
}

func (MethodDefRow) isRow() {}
func (MemberRefRow) isRow() {}
func (TypeRefRow) isRow()   {}
func (TypeDefRow) isRow()   {}
func (FieldRow) isRow()     {}

// Image is the metadata lookup service of one loaded CLI image. It is
// produced by the loader subsystem; the execution core only consumes it.
// All lookups are infallible for well-formed tokens; a failed lookup
// returns the zero value plus false, or an UnknownTokenError where noted.
type Image interface {
	// EntryMethod returns the method named by the CLI header's
	// entry-point token.
	EntryMethod() (*MethodDef, error)

	// MethodByRVA resolves a method of this assembly by its RVA.
	MethodByRVA(rva uint32) (*MethodDef, bool)

	// TableEntry decodes the row a token addresses.
	TableEntry(tok cil.Token) (Row, error)

	// String reads a name from the #Strings heap.
	String(off uint32) string

	// UserString reads a UTF-16 literal from the #US heap.
	UserString(off uint32) []uint16

	// Class resolves a TypeDef/TypeRef token to its class.
	Class(tok cil.Token) (*ClassInfo, bool)

	// PathFromTypeRef resolves a TypeRef row to the full path of the
	// type it references.
	PathFromTypeRef(row TypeRefRow) TypePath

	// MethodRefSig parses a MemberRef signature blob into a fnptr type.
	MethodRefSig(blobIdx uint32) *Type

	// Classes lists every class declared by or referenced from this
	// image, keyed by its declaring token.
	Classes() map[cil.Token]*ClassInfo

	// Methods lists every method defined in this assembly, keyed by RVA.
	Methods() map[uint32]*MethodDef

	// CollectReachableAssemblies adds this image's assembly and every
	// assembly reachable from its AssemblyRef table to m, keyed by
	// assembly name.
	CollectReachableAssemblies(m map[string]*Assembly)
}

// Assembly pairs an assembly name with its image.
type Assembly struct {
	Name  string
	Image Image
}

// imageReader is installed by the loader subsystem (see RegisterReader).
var imageReader func(path string) (*Assembly, error)

// RegisterReader installs the PE/CLI metadata reader used by Open. The
// reader is a separate subsystem; linking one in and registering it at
// init time is what turns the yacht command into a full runtime.
func RegisterReader(read func(path string) (*Assembly, error)) {
	if imageReader != nil {
		panic("metadata: image reader registered twice")
	}
	imageReader = read
}

// Open loads the CLI executable at path through the registered reader.
func Open(path string) (*Assembly, error) {
	if imageReader == nil {
		return nil, ErrNoImageReader
	}
	return imageReader(path)
}

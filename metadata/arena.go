// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

// TypeID is a stable index into a TypeArena. Two types intern to the same
// TypeID iff they are structurally equal.
type TypeID int

// InvalidTypeID is never returned by Intern.
const InvalidTypeID TypeID = -1

// TypeArena interns types for the life of the process. The arena is not
// safe for concurrent use; the runtime is single-threaded.
type TypeArena struct {
	types []*Type
}

// NewTypeArena returns an empty arena.
func NewTypeArena() *TypeArena { return &TypeArena{} }

// Intern returns the TypeID of t, allocating a new slot on first sight.
// Interning is idempotent.
func (a *TypeArena) Intern(t *Type) TypeID {
	for id, u := range a.types {
		if u.Equal(t) {
			return TypeID(id)
		}
	}
	a.types = append(a.types, t)
	return TypeID(len(a.types) - 1)
}

// Get returns the type stored at id. id must come from Intern.
func (a *TypeArena) Get(id TypeID) *Type {
	return a.types[id]
}

// Len returns the number of distinct types interned so far.
func (a *TypeArena) Len() int { return len(a.types) }

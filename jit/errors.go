// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"fmt"

	"github.com/camny125/yacht/cil"
	"github.com/camny125/yacht/metadata"
)

// Lowering failures indicate malformed input or unimplemented surface;
// they are development-time failures and abort via panic, audited before
// the offending stack operation (never after).

// StackUnderflowError is raised when an opcode needs more operands than
// the evaluation stack holds.
type StackUnderflowError struct {
	Op cil.Op
}

func (e StackUnderflowError) Error() string {
	return fmt.Sprintf("jit: operand stack underflow at %s", e.Op)
}

// PhiMergeError is raised when predecessor stacks disagree at a join.
type PhiMergeError struct {
	Dest     int
	Position int
	Msg      string
}

func (e PhiMergeError) Error() string {
	return fmt.Sprintf("jit: phi merge at offset %d, position %d: %s", e.Dest, e.Position, e.Msg)
}

// UnsupportedError is raised for opcodes, table rows and signature kinds
// outside the implemented surface.
type UnsupportedError struct {
	What string
}

func (e UnsupportedError) Error() string {
	return "jit: unsupported " + e.What
}

func unsupported(format string, args ...interface{}) UnsupportedError {
	return UnsupportedError{What: fmt.Sprintf(format, args...)}
}

// UnknownMemberError is raised when a token names a class, field or
// method that resolves to nothing.
type UnknownMemberError struct {
	Path metadata.MethodPath
}

func (e UnknownMemberError) Error() string {
	return fmt.Sprintf("jit: unknown member %s.%s", e.Path.TypePath, e.Path.MethodName)
}

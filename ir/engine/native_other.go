// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64 || appengine

package engine

import "errors"

// ErrNativeBackendUnsupported is returned by EnableNativeBackend on
// platforms with no native backend; the interpreter still runs
// everything.
var ErrNativeBackendUnsupported = errors.New("engine: native backend unsupported on this platform")

func (e *Engine) compileNativeRegions() error {
	return ErrNativeBackendUnsupported
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camny125/yacht/metadata"
)

func TestRunWithoutReaderFails(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, "testdata/missing.exe")
	require.ErrorIs(t, err, metadata.ErrNoImageReader)
	require.Empty(t, out.String(), "stdout is reserved for Console output")
}

// Copyright 2019 The yacht Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command yacht runs a CIL executable: it loads the assembly, JITs the
// entry method and everything reachable from it, and executes it.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/camny125/yacht/jit"
	"github.com/camny125/yacht/metadata"
)

const versionStr = "0.1.0"

func main() {
	log.SetPrefix("yacht: ")
	log.SetFlags(0)

	verbose := flag.Bool("v", false, "enable/disable verbose mode")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("yacht %s\n", versionStr)
		return
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	metadata.SetDebugMode(*verbose)
	jit.SetDebugMode(*verbose)

	if err := run(os.Stdout, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errorTag, err)
		os.Exit(1)
	}
}

// errorTag is the bold red prefix for stderr diagnostics.
const errorTag = "\x1b[1;31merror\x1b[0m"

func run(w io.Writer, fname string) error {
	asm, err := metadata.Open(fname)
	if err != nil {
		return err
	}
	method, err := asm.Image.EntryMethod()
	if err != nil {
		return err
	}

	env, err := jit.NewSharedEnvironment()
	if err != nil {
		return err
	}
	env.SetOutput(w)

	compiler := jit.NewCompiler(asm, env)
	entry := compiler.GenerateMain(method)
	return compiler.RunMain(entry)
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipe

import (
	"os"

	"github.com/google/uuid"

	"forgekit.sh/internal/sandboxerr"
)

// Direction distinguishes which end of a Pair the parent keeps for async
// I/O and which end is handed to the child for inheritance.
type Direction int

const (
	// ParentWritesAsync is used for stdin: the parent writes, the child
	// reads synchronously.
	ParentWritesAsync Direction = iota
	// ParentReadsAsync is used for stdout, stderr, report, and the
	// injector control pipe: the child writes synchronously, the parent
	// reads asynchronously.
	ParentReadsAsync
)

// Pair is one inheritable pipe instance. Name carries a random 128-bit
// identifier so pipe instances are distinguishable in logs and diagnostics.
type Pair struct {
	Name      string
	Direction Direction

	// Parent is this process's end: the read end when Direction is
	// ParentReadsAsync, the write end when ParentWritesAsync.
	Parent *os.File

	// Child is handed to the spawned process via its ExtraFiles/Stdin/
	// Stdout/Stderr wiring; it is the opposite end from Parent.
	Child *os.File
}

// NewPair creates an inheritable pipe instance for the given purpose. label
// identifies the stream for diagnostics (e.g. "stdout", "report").
func NewPair(label string, direction Direction) (*Pair, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, sandboxerr.PipeSetupFailed(err)
	}

	name := label + "-" + uuid.NewString()

	p := &Pair{Name: name, Direction: direction}
	switch direction {
	case ParentWritesAsync:
		p.Parent = w
		p.Child = r
	case ParentReadsAsync:
		p.Parent = r
		p.Child = w
	default:
		_ = r.Close()
		_ = w.Close()
		return nil, sandboxerr.PipeSetupFailed(os.ErrInvalid)
	}

	return p, nil
}

// CloseParent closes this process's end. Safe to call once the child has
// exited or the pipe has been fully drained.
func (p *Pair) CloseParent() error {
	return p.Parent.Close()
}

// CloseChild closes the end that was handed to the child. The runner calls
// this immediately after spawning so that the parent's process holds no
// extra reference to the write side -- otherwise the parent's own fd would
// prevent an async reader from ever observing EOF.
func (p *Pair) CloseChild() error {
	return p.Child.Close()
}

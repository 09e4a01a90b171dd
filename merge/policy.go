// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Package merge reconciles a process's redirected output tree back onto its
// declared destinations: declared file outputs and shared/exclusive opaque
// directories, under a configurable double-write policy.
package merge

import "forgekit.sh/internal/sandboxerr"

// DoubleWritePolicy controls what happens when a merge destination already
// exists and the write was not a sanctioned rewrite.
type DoubleWritePolicy int

const (
	// DoubleWritesAreErrors fails the merge outright on an unsanctioned
	// collision.
	DoubleWritesAreErrors DoubleWritePolicy = iota
	// UnsafeFirstDoubleWriteWins keeps whichever content reached the
	// destination first and skips the competing merge, logging the skip at
	// Info.
	UnsafeFirstDoubleWriteWins
)

// Decision is the outcome of evaluating can_merge for one output.
type Decision struct {
	Proceed      bool
	ShouldDelete bool
}

// destinationExists abstracts stat(2) so decide can be unit tested without
// touching a real filesystem.
type destinationExists func(path string) (bool, error)

// decide implements §4.5 step 1: whether and how a merge should happen.
func decide(exists destinationExists, destination string, rewriteCount int, policy DoubleWritePolicy) (Decision, error) {
	present, err := exists(destination)
	if err != nil {
		return Decision{}, err
	}

	if !present {
		return Decision{Proceed: true, ShouldDelete: false}, nil
	}

	if rewriteCount > 1 {
		return Decision{Proceed: true, ShouldDelete: true}, nil
	}

	switch policy {
	case DoubleWritesAreErrors:
		return Decision{}, sandboxerr.ErrDisallowedDoubleWrite
	case UnsafeFirstDoubleWriteWins:
		return Decision{Proceed: false, ShouldDelete: false}, nil
	default:
		return Decision{}, sandboxerr.ErrDisallowedDoubleWrite
	}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package merge

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"forgekit.sh/internal/sandboxerr"
)

// Output is one redirected-to-declared pairing the merger must reconcile.
type Output struct {
	Redirected   string
	Declared     string
	RewriteCount int
}

// IsArtifact reports whether info names a virtualization artifact (tombstone
// or reparse marker) left behind by the redirection filter rather than real
// process output.
type IsArtifact func(redirectedPath string) (bool, error)

// Merger reconciles one process's redirected outputs back onto their
// declared destinations.
type Merger struct {
	policy     DoubleWritePolicy
	isArtifact IsArtifact
	logger     *logrus.Logger

	madeParents map[string]struct{}
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger attaches a logger for double-write and skip diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(m *Merger) { m.logger = l }
}

// WithArtifactDetector overrides the default "never an artifact" detector,
// for platforms whose redirection layer leaves tombstones behind.
func WithArtifactDetector(f IsArtifact) Option {
	return func(m *Merger) { m.isArtifact = f }
}

// New constructs a Merger under policy.
func New(policy DoubleWritePolicy, opts ...Option) *Merger {
	m := &Merger{
		policy:      policy,
		isArtifact:  func(string) (bool, error) { return false, nil },
		logger:      logrus.StandardLogger(),
		madeParents: make(map[string]struct{}),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// MergeDeclaredOutputs processes every declared output, short-circuiting on
// the first failure. Reserves the right to be called before
// MergeOpaqueOutputs, matching §4.5.
func (m *Merger) MergeDeclaredOutputs(outputs []Output) error {
	for _, out := range outputs {
		if err := m.mergeOne(out); err != nil {
			return err
		}
	}
	return nil
}

// MergeOpaqueOutputs processes every file discovered under a shared or
// exclusive opaque directory, each as a rewrite_count=1 merge.
func (m *Merger) MergeOpaqueOutputs(paths []string, declaredFor func(redirected string) string) error {
	for _, redirected := range paths {
		out := Output{
			Redirected:   redirected,
			Declared:     declaredFor(redirected),
			RewriteCount: 1,
		}
		if err := m.mergeOne(out); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) mergeOne(out Output) error {
	// A redirected path the process never produced has nothing to merge.
	if produced, err := statExists(out.Redirected); err != nil {
		return err
	} else if !produced {
		return nil
	}

	artifact, err := m.isArtifact(out.Redirected)
	if err != nil {
		return err
	}
	if artifact {
		if err := os.Remove(out.Redirected); err != nil && !os.IsNotExist(err) {
			return sandboxerr.HardlinkFailed(err)
		}
		return nil
	}

	decision, err := decide(statExists, out.Declared, out.RewriteCount, m.policy)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"declared":   out.Declared,
			"redirected": out.Redirected,
		}).Error("merge: disallowed double write")
		return sandboxerr.DisallowedDoubleWrite(out.Declared, out.Redirected)
	}

	if !decision.Proceed {
		m.logger.WithFields(logrus.Fields{
			"declared":   out.Declared,
			"redirected": out.Redirected,
		}).Info("merge: skipping output, destination already produced by a competing write")
		return nil
	}

	if err := m.ensureParent(out.Declared); err != nil {
		return err
	}

	if decision.ShouldDelete {
		if err := os.Remove(out.Declared); err != nil && !os.IsNotExist(err) {
			return sandboxerr.HardlinkFailed(err)
		}
	}

	if err := unix.Link(out.Redirected, out.Declared); err == nil {
		return nil
	}

	// The first link attempt failed; a competing merger may have raced us
	// to the destination. Re-evaluate before giving up.
	redecision, rerr := decide(statExists, out.Declared, out.RewriteCount, m.policy)
	if rerr != nil {
		if errors.Is(rerr, sandboxerr.ErrDisallowedDoubleWrite) {
			return sandboxerr.DisallowedDoubleWrite(out.Declared, out.Redirected)
		}
		return rerr
	}
	if !redecision.Proceed {
		return nil
	}

	if err := unix.Link(out.Redirected, out.Declared); err != nil {
		return sandboxerr.HardlinkFailed(err)
	}
	return nil
}

func (m *Merger) ensureParent(path string) error {
	dir := filepath.Dir(path)
	if _, ok := m.madeParents[dir]; ok {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sandboxerr.HardlinkFailed(err)
	}

	m.madeParents[dir] = struct{}{}
	return nil
}

func statExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

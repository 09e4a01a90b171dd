// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgekit.sh/broker"
	"forgekit.sh/container"
	"forgekit.sh/merge"
	"forgekit.sh/runner"
	"forgekit.sh/sideband"
)

type noopInjector struct{}

func (noopInjector) Inject(pid uint64) broker.InjectStatus { return broker.InjectSucceeded }

type noopSignaler struct{}

func (noopSignaler) Signal(name string) error { return nil }

func TestRunProducesSummaryWithMergedOutputs(t *testing.T) {
	dir := t.TempDir()

	redirected := filepath.Join(dir, "redirected", "out.txt")
	declared := filepath.Join(dir, "src", "out.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(redirected), 0o755))
	require.NoError(t, os.WriteFile(redirected, []byte("payload"), 0o644))

	sbPath := filepath.Join(dir, "sideband.bin")

	cfg := Config{
		Runner: runner.Config{
			Path:     "/bin/sh",
			Args:     []string{"-c", "true"},
			Injector: noopInjector{},
			Signaler: noopSignaler{},
		},
		Outputs: []Output{
			{Redirected: redirected, Declared: declared, RewriteCount: 1},
		},
		DoubleWrite:      merge.DoubleWritesAreErrors,
		SidebandPath:     sbPath,
		SidebandMetadata: sideband.Metadata{PipDescription: "pip1"},
		RecordedPaths:    []string{"/out/shared.bin"},
	}

	summary, err := Run(cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ExitCode)
	assert.Equal(t, runner.Exited, summary.Status)
	require.Len(t, summary.MergeOutcomes, 1)
	assert.True(t, summary.MergeOutcomes[0].Merged)
	assert.Equal(t, 1, summary.SidebandEntryCount)
	assert.True(t, summary.Succeeded())

	got, err := os.ReadFile(declared)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestRunRecordsDisallowedDoubleWriteAsSkippedOutcome(t *testing.T) {
	dir := t.TempDir()

	redirected := filepath.Join(dir, "redirected", "out.txt")
	declared := filepath.Join(dir, "src", "out.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(redirected), 0o755))
	require.NoError(t, os.WriteFile(redirected, []byte("new"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(declared), 0o755))
	require.NoError(t, os.WriteFile(declared, []byte("old"), 0o644))

	cfg := Config{
		Runner: runner.Config{
			Path:     "/bin/sh",
			Args:     []string{"-c", "true"},
			Injector: noopInjector{},
			Signaler: noopSignaler{},
		},
		Outputs: []Output{
			{Redirected: redirected, Declared: declared, RewriteCount: 1},
		},
		DoubleWrite: merge.DoubleWritesAreErrors,
	}

	summary, err := Run(cfg)
	require.NoError(t, err)

	require.Len(t, summary.MergeOutcomes, 1)
	assert.False(t, summary.MergeOutcomes[0].Merged)
	assert.True(t, summary.MergeOutcomes[0].Skipped)
	assert.False(t, summary.Succeeded())
}

func TestRunResolvesDeclaredOutputThroughContainer(t *testing.T) {
	dir := t.TempDir()

	redirectedRoot := filepath.Join(dir, "redirected", "pip1")
	declared := filepath.Join(dir, "src", "out.txt")

	declaredDir := filepath.Dir(declared)
	// Build's redirected directory is named after the declared directory's
	// leaf atom, matching container.Build's allocation scheme.
	actualRedirected := filepath.Join(redirectedRoot, filepath.Base(declaredDir), "out.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(actualRedirected), 0o755))
	require.NoError(t, os.WriteFile(actualRedirected, []byte("payload"), 0o644))

	cfg := Config{
		Runner: runner.Config{
			Path:     "/bin/sh",
			Args:     []string{"-c", "true"},
			Injector: noopInjector{},
			Signaler: noopSignaler{},
		},
		Outputs: []Output{
			{Declared: declared, RewriteCount: 1},
		},
		Container: &ContainerConfig{
			Isolation:      container.IsolationLevel{IsolateOutputs: true},
			RedirectedRoot: redirectedRoot,
		},
		DoubleWrite: merge.DoubleWritesAreErrors,
	}

	summary, err := Run(cfg)
	require.NoError(t, err)

	require.Len(t, summary.MergeOutcomes, 1)
	assert.True(t, summary.MergeOutcomes[0].Merged)

	got, err := os.ReadFile(declared)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestRunMergesRecordedOpaqueWritesThroughContainer(t *testing.T) {
	dir := t.TempDir()

	sharedRoot := filepath.Join(dir, "src", "shared")
	redirectedRoot := filepath.Join(dir, "redirected", "pip1")

	redirectedShared := filepath.Join(redirectedRoot, filepath.Base(sharedRoot))
	discovered := filepath.Join(redirectedShared, "nested", "out.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(discovered), 0o755))
	require.NoError(t, os.WriteFile(discovered, []byte("dynamic"), 0o644))

	cfg := Config{
		Runner: runner.Config{
			Path:     "/bin/sh",
			Args:     []string{"-c", "true"},
			Injector: noopInjector{},
			Signaler: noopSignaler{},
		},
		Container: &ContainerConfig{
			Isolation: container.IsolationLevel{IsolateSharedOpaques: true},
			OutputDirectories: []OutputDirectory{
				{Root: sharedRoot, Shared: true},
			},
			RedirectedRoot: redirectedRoot,
		},
		RecordedPaths: []string{discovered},
		DoubleWrite:   merge.DoubleWritesAreErrors,
	}

	summary, err := Run(cfg)
	require.NoError(t, err)
	assert.Empty(t, summary.Warnings)

	want := filepath.Join(sharedRoot, "nested", "out.bin")
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "dynamic", string(got))
}

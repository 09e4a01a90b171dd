// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package container

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgekit.sh/internal/pathid"
)

func TestBuildCollapsesNestedDirectories(t *testing.T) {
	table := pathid.New()

	outA := table.Intern(filepath.FromSlash("/src/out/a/file.txt"))
	outB := table.Intern(filepath.FromSlash("/src/out/a/nested/file2.txt"))
	root := table.Intern(filepath.FromSlash("/redirected/pip1"))

	desc := ProcessDescription{
		DeclaredOutputs: []DeclaredOutput{
			{Path: outA, RewriteCount: 1},
			{Path: outB, RewriteCount: 1},
		},
		Isolation:      IsolationLevel{IsolateOutputs: true},
		RedirectedRoot: root,
	}

	cfg := Build(table, desc, nil, true)

	require.True(t, cfg.IsolationEnabled())

	dirs := cfg.OriginalDirs()
	// Parents: /src/out/a and /src/out/a/nested -- the latter is nested in
	// the former and must collapse onto it.
	assert.Len(t, dirs, 2)

	for _, d := range dirs {
		for _, other := range dirs {
			if d == other {
				continue
			}
			assert.False(t, table.IsWithin(d, other) && table.IsWithin(other, d))
		}
	}
}

func TestRedirectedForDeclaredOutputUnambiguous(t *testing.T) {
	table := pathid.New()

	out := table.Intern(filepath.FromSlash("/src/out/file.txt"))
	root := table.Intern(filepath.FromSlash("/redirected/pip1"))

	desc := ProcessDescription{
		DeclaredOutputs: []DeclaredOutput{{Path: out, RewriteCount: 1}},
		Isolation:       IsolationLevel{IsolateOutputs: true},
		RedirectedRoot:  root,
	}

	cfg := Build(table, desc, nil, true)

	result := cfg.RedirectedForDeclaredOutput(out)
	require.Equal(t, LookupOK, result.Status)
	assert.Equal(t, "file.txt", table.Leaf(result.Redirected))
	assert.True(t, table.IsWithin(result.Redirected, root))
}

func TestRedirectedForDeclaredOutputNotIsolated(t *testing.T) {
	table := pathid.New()
	out := table.Intern(filepath.FromSlash("/src/out/file.txt"))
	elsewhere := table.Intern(filepath.FromSlash("/other/file.txt"))
	root := table.Intern(filepath.FromSlash("/redirected/pip1"))

	desc := ProcessDescription{
		DeclaredOutputs: []DeclaredOutput{{Path: out, RewriteCount: 1}},
		Isolation:       IsolationLevel{IsolateOutputs: true},
		RedirectedRoot:  root,
	}

	cfg := Build(table, desc, nil, true)

	result := cfg.RedirectedForDeclaredOutput(elsewhere)
	assert.Equal(t, LookupNotIsolated, result.Status)
}

func TestAllocateRedirectedDirsDisambiguatesCollisions(t *testing.T) {
	table := pathid.New()

	// Two distinct original directories sharing a leaf name ("bin") under
	// different parents must not collide in the redirected root.
	outA := table.Intern(filepath.FromSlash("/src/one/bin/a.txt"))
	outB := table.Intern(filepath.FromSlash("/src/two/bin/b.txt"))
	root := table.Intern(filepath.FromSlash("/redirected/pip1"))

	desc := ProcessDescription{
		DeclaredOutputs: []DeclaredOutput{
			{Path: outA, RewriteCount: 1},
			{Path: outB, RewriteCount: 1},
		},
		Isolation:      IsolationLevel{IsolateOutputs: true},
		RedirectedRoot: root,
	}

	cfg := Build(table, desc, nil, true)

	rA := cfg.RedirectedForDeclaredOutput(outA)
	rB := cfg.RedirectedForDeclaredOutput(outB)

	require.Equal(t, LookupOK, rA.Status)
	require.Equal(t, LookupOK, rB.Status)
	assert.NotEqual(t, table.Parent(rA.Redirected), table.Parent(rB.Redirected))
}

func TestRedirectedForOpaqueOutput(t *testing.T) {
	table := pathid.New()

	sharedRoot := table.Intern(filepath.FromSlash("/src/shared"))
	redirectedRoot := table.Intern(filepath.FromSlash("/redirected/pip1"))
	discovered := table.Intern(filepath.FromSlash("/src/shared/nested/out.bin"))

	desc := ProcessDescription{
		OutputDirectories: []OutputDirectory{{Root: sharedRoot, Shared: true}},
		Isolation:         IsolationLevel{IsolateSharedOpaques: true},
		RedirectedRoot:    redirectedRoot,
	}

	cfg := Build(table, desc, nil, true)

	result := cfg.RedirectedForOpaqueOutput(sharedRoot, discovered)
	require.Equal(t, LookupOK, result.Status)
	assert.True(t, table.IsWithin(result.Redirected, redirectedRoot))
	assert.Equal(t, "out.bin", table.Leaf(result.Redirected))
}

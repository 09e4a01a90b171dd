// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pathid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIsStable(t *testing.T) {
	tbl := New()

	a := tbl.Intern(filepath.FromSlash("/tmp/out/a.txt"))
	b := tbl.Intern(filepath.FromSlash("/tmp/out/a.txt"))
	c := tbl.Intern(filepath.FromSlash("/tmp/out/b.txt"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, Invalid, a)
}

func TestParentAndLeaf(t *testing.T) {
	tbl := New()
	id := tbl.Intern(filepath.FromSlash("/tmp/out/a.txt"))

	parent := tbl.Parent(id)
	require.NotEqual(t, Invalid, parent)
	assert.Equal(t, filepath.FromSlash("/tmp/out"), tbl.String(parent))
	assert.Equal(t, "a.txt", tbl.Leaf(id))
}

func TestCombine(t *testing.T) {
	tbl := New()
	dir := tbl.Intern(filepath.FromSlash("/tmp/out"))
	combined := tbl.Combine(dir, "a.txt")

	assert.Equal(t, filepath.FromSlash("/tmp/out/a.txt"), tbl.String(combined))
}

func TestIsWithin(t *testing.T) {
	tbl := New()
	root := tbl.Intern(filepath.FromSlash("/tmp/out"))
	inside := tbl.Intern(filepath.FromSlash("/tmp/out/nested/a.txt"))
	sibling := tbl.Intern(filepath.FromSlash("/tmp/other/a.txt"))
	lookalike := tbl.Intern(filepath.FromSlash("/tmp/out2/a.txt"))

	assert.True(t, tbl.IsWithin(root, root))
	assert.True(t, tbl.IsWithin(inside, root))
	assert.False(t, tbl.IsWithin(sibling, root))
	assert.False(t, tbl.IsWithin(lookalike, root))
}

func TestRelocate(t *testing.T) {
	tbl := New()
	fromRoot := tbl.Intern(filepath.FromSlash("/tmp/original"))
	toRoot := tbl.Intern(filepath.FromSlash("/tmp/redirected"))
	file := tbl.Intern(filepath.FromSlash("/tmp/original/nested/a.txt"))

	relocated := tbl.Relocate(file, fromRoot, toRoot)
	require.NotEqual(t, Invalid, relocated)
	assert.Equal(t, filepath.FromSlash("/tmp/redirected/nested/a.txt"), tbl.String(relocated))

	outside := tbl.Intern(filepath.FromSlash("/tmp/elsewhere/a.txt"))
	assert.Equal(t, Invalid, tbl.Relocate(outside, fromRoot, toRoot))
}

func TestRelocateRootItself(t *testing.T) {
	tbl := New()
	fromRoot := tbl.Intern(filepath.FromSlash("/tmp/original"))
	toRoot := tbl.Intern(filepath.FromSlash("/tmp/redirected"))

	relocated := tbl.Relocate(fromRoot, fromRoot, toRoot)
	assert.Equal(t, toRoot, relocated)
}

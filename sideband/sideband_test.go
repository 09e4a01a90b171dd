// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package sideband

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterDoesNotCreateFileWithoutARecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sideband.bin")

	w := New(Metadata{PipDescription: "pip1"}, path, nil)
	require.NoError(t, w.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriterRecordDeduplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sideband.bin")

	w := New(Metadata{PipDescription: "pip1"}, path, nil)

	ok, err := w.Record("/out/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Record("/out/a.txt")
	require.NoError(t, err)
	assert.False(t, ok, "second record of the same path must report false")

	require.NoError(t, w.Close())
}

func TestWriterFiltersByRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sideband.bin")

	w := New(Metadata{PipDescription: "pip1"}, path, []string{"/allowed"})

	ok, err := w.Record("/allowed/nested/file.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Record("/elsewhere/file.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Close())
}

func TestRoundTripReadSequence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sideband.bin")

	w := New(Metadata{PipDescription: "pip1", StaticPipHash: 42}, path, nil)
	_, err := w.Record("/out/a.txt")
	require.NoError(t, err)
	_, err = w.Record("/out/b.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ReadHeader(false))

	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, "pip1", meta.PipDescription)
	assert.EqualValues(t, 42, meta.StaticPipHash)

	paths, err := r.ReadAllRecordedPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/a.txt", "/out/b.txt"}, paths)
}

func TestReadMetadataOutOfSequencePanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sideband.bin")

	w := New(Metadata{PipDescription: "pip1"}, path, nil)
	_, err := w.Record("/out/a.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Panics(t, func() {
		_, _ = r.ReadMetadata()
	})
}

func TestReadRecordedPathsToleratesTruncation(t *testing.T) {
	dir := t.TempDir()
	fullPath := filepath.Join(dir, "full.bin")
	truncPath := filepath.Join(dir, "trunc.bin")

	w := New(Metadata{PipDescription: "pip1"}, fullPath, nil)
	_, err := w.Record("/out/a.txt")
	require.NoError(t, err)
	_, err = w.Record("/out/b.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	full, err := os.ReadFile(fullPath)
	require.NoError(t, err)

	// Truncate mid-way through the final length-prefixed record, as if the
	// writer's process was killed mid-write.
	require.NoError(t, os.WriteFile(truncPath, full[:len(full)-2], 0o644))

	r, err := Open(truncPath)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ReadHeader(true))
	_, err = r.ReadMetadata()
	require.NoError(t, err)

	paths, err := r.ReadAllRecordedPaths()
	require.NoError(t, err, "a truncated final entry must terminate cleanly, not error")
	assert.Equal(t, []string{"/out/a.txt"}, paths)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a sideband file"), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	err = r.ReadHeader(true)
	assert.Error(t, err)
}

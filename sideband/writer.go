// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package sideband

import (
	"os"
	"path/filepath"
	"strings"
)

// Writer records every accepted path to a sideband file. A Writer is
// instance-owned and not safe for concurrent use: callers must serialize
// writes to a single pip's writer.
type Writer struct {
	path     string
	roots    []string // nil means "record everything"
	metadata Metadata

	file    *os.File
	written map[string]struct{}
}

// New constructs a Writer. The underlying file is not created until the
// first accepted Record call, or until EnsureHeaderWritten is called
// explicitly.
func New(metadata Metadata, logFilePath string, rootDirs []string) *Writer {
	return &Writer{
		path:     logFilePath,
		roots:    rootDirs,
		metadata: metadata,
		written:  make(map[string]struct{}),
	}
}

// EnsureHeaderWritten forces the backing file and its envelope/metadata
// header to exist, even if no path is ever recorded.
func (w *Writer) EnsureHeaderWritten() error {
	if w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}

	if err := writeEnvelope(f, newEnvelope()); err != nil {
		f.Close()
		return err
	}
	if err := writeMetadata(f, w.metadata); err != nil {
		f.Close()
		return err
	}

	w.file = f
	return nil
}

// Record appends path if it is under one of the writer's roots (or the
// writer has no roots configured) and has not already been recorded. It
// reports whether the path was newly accepted.
func (w *Writer) Record(path string) (bool, error) {
	if w.roots != nil && !withinAnyRoot(path, w.roots) {
		return false, nil
	}

	if _, ok := w.written[path]; ok {
		return false, nil
	}

	if err := w.EnsureHeaderWritten(); err != nil {
		return false, err
	}

	if err := writeNullableString(w.file, path, true); err != nil {
		return false, err
	}
	if err := w.file.Sync(); err != nil {
		return false, err
	}

	w.written[path] = struct{}{}
	return true, nil
}

// Close closes the file. It computes no checksum: the envelope keeps the
// zero checksum written with the header. If the header was never written,
// Close does nothing -- it must not create or truncate a file some
// concurrent writer may still be populating at the same path.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	// The checksum fixup is a placeholder: this implementation does not
	// compute a real digest over the file body, matching the envelope's
	// checksum field being advisory rather than load-bearing for reads
	// that pass ignore_checksum=true.
	return w.file.Close()
}

func withinAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "") {
			return true
		}
	}
	return false
}

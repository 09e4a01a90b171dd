// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package sideband

import (
	"errors"
	"io"
	"os"

	"forgekit.sh/internal/sandboxerr"
)

// readerState tracks where in the fixed read_header -> read_metadata ->
// read_recorded_paths calling sequence a Reader is, so out-of-order calls
// surface as programming errors rather than silently misreading the stream.
type readerState int

const (
	stateInit readerState = iota
	stateHeaderRead
	stateMetadataRead
)

// Reader reads a sideband file written by Writer.
type Reader struct {
	f     *os.File
	state readerState
	env   envelope
}

// Open opens path for reading. The caller must still call ReadHeader before
// any other method.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadHeader reads and validates the envelope. It must be the first call
// made on a fresh Reader.
func (r *Reader) ReadHeader(ignoreChecksum bool) error {
	if r.state != stateInit {
		panic("sideband: ReadHeader called out of sequence")
	}

	env, err := readEnvelope(r.f, ignoreChecksum)
	if err != nil {
		return err
	}

	r.env = env
	r.state = stateHeaderRead
	return nil
}

// ReadMetadata reads the fixed metadata record. It must follow ReadHeader.
func (r *Reader) ReadMetadata() (Metadata, error) {
	if r.state != stateHeaderRead {
		panic("sideband: ReadMetadata called out of sequence")
	}

	m, err := readMetadata(r.f)
	if err != nil {
		return Metadata{}, err
	}

	r.state = stateMetadataRead
	return m, nil
}

// ReadRecordedPaths returns a lazy iterator over the recorded-path stream.
// It must follow ReadMetadata. The iterator terminates cleanly (without
// error) if the final length-prefix is truncated, tolerating a writer that
// was killed mid-record.
func (r *Reader) ReadRecordedPaths() func() (string, bool, error) {
	if r.state != stateMetadataRead {
		panic("sideband: ReadRecordedPaths called out of sequence")
	}

	done := false

	return func() (string, bool, error) {
		for {
			if done {
				return "", false, nil
			}

			value, present, truncatedAtBoundary, err := readNullableString(r.f)
			if err != nil {
				done = true
				if truncatedAtBoundary && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
					return "", false, nil
				}
				return "", false, sandboxerr.ErrSidebandCorrupted
			}

			if !present {
				// A genuine null entry, not a truncation: skip it and keep
				// reading the rest of the stream.
				continue
			}

			return value, true, nil
		}
	}
}

// ReadAllRecordedPaths drains ReadRecordedPaths into a slice, for callers
// that don't need streaming.
func (r *Reader) ReadAllRecordedPaths() ([]string, error) {
	next := r.ReadRecordedPaths()

	var out []string
	for {
		path, ok, err := next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, path)
	}
}

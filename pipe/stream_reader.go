// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipe

import "io"

// streamReader is the fallback AsyncLineReader strategy: a plain buffered
// read loop with no pinned buffer and no retry budget -- any read error,
// including a transient one, immediately collapses to EOF. Selected over
// the completion-based strategy via configuration (see §9's "dynamic
// dispatch" redesign note: the choice is a config-time decision, not a
// runtime virtual-dispatch hot path).
type streamReader struct {
	*baseReader
	r     io.Reader
	chunk []byte
}

// NewStreamReader returns an AsyncLineReader reading from r in chunkSize
// increments.
func NewStreamReader(r io.Reader, chunkSize int, callback Callback) AsyncLineReader {
	sr := &streamReader{
		r:     r,
		chunk: make([]byte, chunkSize),
	}
	sr.baseReader = newBaseReader(callback, func(*baseReader) { sr.loop() })
	return sr
}

func (sr *streamReader) loop() {
	for {
		if sr.stopping.Load() {
			sr.finish(false, nil)
			return
		}

		n, err := sr.r.Read(sr.chunk)
		if n > 0 {
			sr.decoder.Feed(sr.chunk[:n], sr.deliver)
		}

		if err != nil {
			sr.finish(true, nil)
			return
		}
	}
}

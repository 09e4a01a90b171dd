// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecoderCRLFAcrossChunks(t *testing.T) {
	var lines []string
	emit := func(line string) { lines = append(lines, line) }

	d := &lineDecoder{}
	d.Feed([]byte("abc\r"), emit)
	d.Feed([]byte("\ndef\r\nghi\r"), emit)
	d.Feed([]byte("\n"), emit)
	d.Flush(emit)

	assert.Equal(t, []string{"abc", "def", "ghi"}, lines)
}

func TestDecoderLoneCRInSingleChunk(t *testing.T) {
	var lines []string
	d := &lineDecoder{}
	d.Feed([]byte("a\rb\n"), func(line string) { lines = append(lines, line) })

	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestDecoderPlainLF(t *testing.T) {
	var lines []string
	d := &lineDecoder{}
	d.Feed([]byte("one\ntwo\nthree\n"), func(line string) { lines = append(lines, line) })

	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestDecoderFlushEmitsTrailingPartial(t *testing.T) {
	var lines []string
	d := &lineDecoder{}
	d.Feed([]byte("no-newline-yet"), func(line string) { lines = append(lines, line) })
	assert.Empty(t, lines)

	d.Flush(func(line string) { lines = append(lines, line) })
	assert.Equal(t, []string{"no-newline-yet"}, lines)
}

func TestDecoderByteAtATime(t *testing.T) {
	var lines []string
	d := &lineDecoder{}
	emit := func(line string) { lines = append(lines, line) }

	for _, b := range []byte("abc\r\ndef\r\n") {
		d.Feed([]byte{b}, emit)
	}

	assert.Equal(t, []string{"abc", "def"}, lines)
}

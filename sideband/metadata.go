// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package sideband

import (
	"io"

	"forgekit.sh/tagged"
)

// Metadata is the fixed record written once per sideband file, ahead of the
// variable-length recorded-path stream. It is encoded as a tagged field
// stream rather than a fixed layout so a future field can be added without
// breaking readers built against an older version of this package.
type Metadata struct {
	PipDescription string
	StaticPipHash  uint64
}

const (
	tagPipDescription byte = 1
	tagStaticPipHash  byte = 2
)

func writeMetadata(w io.Writer, m Metadata) error {
	return tagged.EncodeTo(w, []tagged.Field{
		tagged.StringField(tagPipDescription, m.PipDescription),
		tagged.NumberField(tagStaticPipHash, int64(m.StaticPipHash)),
	})
}

func readMetadata(r io.Reader) (Metadata, error) {
	fields, err := tagged.DecodeFrom(r)
	if err != nil {
		return Metadata{}, errTruncated
	}

	var m Metadata
	if f, ok := tagged.Find(fields, tagPipDescription); ok {
		m.PipDescription = f.String
	}
	if f, ok := tagged.Find(fields, tagStaticPipHash); ok {
		m.StaticPipHash = uint64(f.Number)
	}

	return m, nil
}

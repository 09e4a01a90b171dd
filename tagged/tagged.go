// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Package tagged implements the tag-length-value serialization used at the
// remote-execution boundary and embedded in the sideband log's metadata
// record. It is deliberately forward-compatible: a decoder that does not
// recognize a tag still fully parses its body (the type code is always
// known) and simply ignores it, so newer writers can add fields without
// breaking older readers.
package tagged

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Type codes for a record's body.
const (
	TypeNumber byte = 0
	TypeString byte = 1
	TypeMap    byte = 2
)

// TagEnd terminates a field stream. It is reserved and never used as a
// caller-assigned tag.
const TagEnd byte = 0

// Field is one tag/type/value triple. Exactly one of Number, String, or Map
// is meaningful, selected by Type.
type Field struct {
	Tag    byte
	Type   byte
	Number int64
	String string
	Map    []Field
}

// NumberField constructs a Number-typed field.
func NumberField(tag byte, v int64) Field {
	return Field{Tag: tag, Type: TypeNumber, Number: v}
}

// StringField constructs a String-typed field.
func StringField(tag byte, v string) Field {
	return Field{Tag: tag, Type: TypeString, String: v}
}

// MapField constructs a Map-typed field nesting another field stream.
func MapField(tag byte, fields []Field) Field {
	return Field{Tag: tag, Type: TypeMap, Map: fields}
}

// Encode serializes fields followed by the End terminator.
func Encode(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes fields followed by the End terminator to w.
func EncodeTo(w io.Writer, fields []Field) error {
	for _, f := range fields {
		if f.Tag == TagEnd {
			return fmt.Errorf("tagged: field tag 0 is reserved for End")
		}
		if err := writeField(w, f); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, TagEnd)
}

func writeField(w io.Writer, f Field) error {
	if err := binary.Write(w, binary.LittleEndian, f.Tag); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.Type); err != nil {
		return err
	}

	switch f.Type {
	case TypeNumber:
		return binary.Write(w, binary.LittleEndian, f.Number)
	case TypeString:
		return writeString(w, f.String)
	case TypeMap:
		return EncodeTo(w, f.Map)
	default:
		return fmt.Errorf("tagged: unknown type code %d", f.Type)
	}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// Decode parses a field stream previously produced by Encode.
func Decode(data []byte) ([]Field, error) {
	return DecodeFrom(bytes.NewReader(data))
}

// DecodeFrom parses a field stream from r, stopping at the End terminator.
// Fields with tags the caller does not expect are still fully decoded and
// returned -- callers filter by Tag themselves.
func DecodeFrom(r io.Reader) ([]Field, error) {
	var fields []Field

	for {
		var tag byte
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("tagged: truncated stream: missing End tag")
			}
			return nil, err
		}

		if tag == TagEnd {
			return fields, nil
		}

		var typ byte
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, fmt.Errorf("tagged: truncated stream: missing type for tag %d: %w", tag, err)
		}

		f := Field{Tag: tag, Type: typ}

		switch typ {
		case TypeNumber:
			if err := binary.Read(r, binary.LittleEndian, &f.Number); err != nil {
				return nil, fmt.Errorf("tagged: truncated number body for tag %d: %w", tag, err)
			}
		case TypeString:
			s, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("tagged: truncated string body for tag %d: %w", tag, err)
			}
			f.String = s
		case TypeMap:
			nested, err := DecodeFrom(r)
			if err != nil {
				return nil, fmt.Errorf("tagged: truncated map body for tag %d: %w", tag, err)
			}
			f.Map = nested
		default:
			return nil, fmt.Errorf("tagged: unknown type code %d for tag %d", typ, tag)
		}

		fields = append(fields, f)
	}
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

// Find returns the first field with the given tag and whether it was found.
func Find(fields []Field, tag byte) (Field, bool) {
	for _, f := range fields {
		if f.Tag == tag {
			return f, true
		}
	}
	return Field{}, false
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Package sideband implements the durable per-pip record of every absolute
// path a tool wrote under its shared-opaque roots, so a later build can
// reason about a pip's outputs even after an engine crash.
package sideband

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"forgekit.sh/internal/sandboxerr"
)

// magic identifies a sideband file's envelope.
const magic = "SharedOpaqueSidebandState"

// formatVersion is the only envelope version this implementation writes or
// understands.
const formatVersion uint32 = 0

// envelope is the fixed-size header every sideband file begins with.
type envelope struct {
	instanceID uuid.UUID
	checksum   uint64
}

func newEnvelope() envelope {
	return envelope{instanceID: uuid.New()}
}

func writeEnvelope(w io.Writer, e envelope) error {
	if err := writeLenPrefixed(w, []byte(magic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	idBytes, err := e.instanceID.MarshalBinary()
	if err != nil {
		return err
	}
	if len(idBytes) != 16 {
		return fmt.Errorf("sideband: unexpected instance id length %d", len(idBytes))
	}
	if _, err := w.Write(idBytes); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, e.checksum)
}

func readEnvelope(r io.Reader, ignoreChecksum bool) (envelope, error) {
	name, err := readLenPrefixed(r)
	if err != nil {
		return envelope{}, sandboxerr.ErrSidebandCorrupted
	}
	if string(name) != magic {
		return envelope{}, fmt.Errorf("%w: bad magic %q", sandboxerr.ErrSidebandCorrupted, name)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return envelope{}, sandboxerr.ErrSidebandCorrupted
	}
	if version != formatVersion {
		return envelope{}, fmt.Errorf("%w: unsupported version %d", sandboxerr.ErrSidebandCorrupted, version)
	}

	idBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return envelope{}, sandboxerr.ErrSidebandCorrupted
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", sandboxerr.ErrSidebandCorrupted, err)
	}

	var checksum uint64
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return envelope{}, sandboxerr.ErrSidebandCorrupted
	}

	if !ignoreChecksum {
		// The checksum is a placeholder fixup slot (see writer.close);
		// this implementation does not compute a real digest, so there is
		// nothing further to validate beyond having read it successfully.
		_ = checksum
	}

	return envelope{instanceID: id, checksum: checksum}, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeNullableString writes one recorded-path stream entry: a present flag
// followed by an i32 length and the utf8 body when present. A missing
// entry (present=false) carries no length or body at all, reserving the
// wire shape for a future writer that wants to record a tombstone without
// a path.
func writeNullableString(w io.Writer, s string, present bool) error {
	hasValue := uint8(0)
	if present {
		hasValue = 1
	}
	if err := binary.Write(w, binary.LittleEndian, hasValue); err != nil {
		return err
	}
	if !present {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// readNullableString reads one recorded-path stream entry. A genuine absent
// value (hasValue byte zero) gives present=false with a nil error. When a
// read of the flag, the length or the body fails, err is that read error and
// truncatedAtBoundary is true; callers check err for io.EOF or
// io.ErrUnexpectedEOF to tell a truncated stream from another failure.
func readNullableString(r io.Reader) (value string, present bool, truncatedAtBoundary bool, err error) {
	var hasValue uint8
	if err := binary.Read(r, binary.LittleEndian, &hasValue); err != nil {
		return "", false, true, err
	}
	if hasValue == 0 {
		return "", false, false, nil
	}

	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", false, true, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", false, true, err
	}

	return string(buf), true, false, nil
}

var errTruncated = errors.New("sideband: truncated record")

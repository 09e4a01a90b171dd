// SPDX-License-Identifier: BSD-3-Clause
//
// Authors: Alexander Jung <alex@unikraft.io>
//
// Copyright (c) 2022, Unikraft GmbH.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

// Package sandboxerr holds the stable set of error kinds the sandboxed
// process execution core can return, so callers can branch on cause rather
// than message text.
package sandboxerr

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrPipeSetupFailed is returned when an inheritable pipe (or its
	// associated completion/overlapped state) could not be created.
	ErrPipeSetupFailed = errors.New("pipe setup failed")

	// ErrProcessCreationFailed is returned when the underlying OS process
	// could not be started.
	ErrProcessCreationFailed = errors.New("process creation failed")

	// ErrDetoursInjectionFailed is returned when the process-tree injector
	// could not hand its payload to the target process.
	ErrDetoursInjectionFailed = errors.New("detours injection failed")

	// ErrTimeout is returned when a process did not exit before its
	// configured timeout elapsed.
	ErrTimeout = errors.New("timeout")

	// ErrDisallowedDoubleWrite is returned when two processes wrote the
	// same declared output and the active policy forbids it.
	ErrDisallowedDoubleWrite = errors.New("disallowed double write")

	// ErrHardlinkFailed is returned when the output merger could not
	// hardlink a redirected path back to its declared location.
	ErrHardlinkFailed = errors.New("hardlink failed")

	// ErrSidebandCorrupted is returned when a sideband log's envelope or
	// record stream failed validation.
	ErrSidebandCorrupted = errors.New("sideband log corrupted")

	// ErrCanceled is returned when an operation was aborted through its
	// context before completing naturally.
	ErrCanceled = errors.New("canceled")

	// ErrContainerMisconfigured is returned when a declared output or opaque
	// write resolves against more than one redirected directory in the
	// container configuration built for a pip.
	ErrContainerMisconfigured = errors.New("container configuration ambiguous for path")
)

// PipeSetupFailed wraps a native error code observed while creating a pipe.
func PipeSetupFailed(nativeCode error) error {
	return fmt.Errorf("%w: %v", ErrPipeSetupFailed, nativeCode)
}

// ProcessCreationFailed wraps a native error observed while starting a
// process.
func ProcessCreationFailed(nativeCode error) error {
	return fmt.Errorf("%w: %v", ErrProcessCreationFailed, nativeCode)
}

// DetoursInjectionFailed names the phase of the injection handshake that
// failed.
func DetoursInjectionFailed(phase string) error {
	return fmt.Errorf("%w: %s", ErrDetoursInjectionFailed, phase)
}

// DisallowedDoubleWrite names the declared and source paths that collided.
func DisallowedDoubleWrite(declaredPath, sourcePath string) error {
	return fmt.Errorf("%w: declared=%s source=%s", ErrDisallowedDoubleWrite, declaredPath, sourcePath)
}

// HardlinkFailed wraps the status observed while linking a merged output.
func HardlinkFailed(status error) error {
	return fmt.Errorf("%w: %v", ErrHardlinkFailed, status)
}

// Warnings aggregates non-fatal diagnostics (dump-capture failures,
// injector teardown issues) gathered during a single pip's teardown, so none
// are silently dropped even though none of them fail the run.
type Warnings struct {
	err *multierror.Error
}

// Add appends a non-fatal warning. Add is a no-op when err is nil.
func (w *Warnings) Add(err error) {
	if err == nil {
		return
	}
	w.err = multierror.Append(w.err, err)
}

// Err returns the aggregated warnings as a single error, or nil if none were
// added.
func (w *Warnings) Err() error {
	if w.err == nil {
		return nil
	}
	return w.err.ErrorOrNil()
}

func IsPipeSetupFailed(err error) bool       { return errors.Is(err, ErrPipeSetupFailed) }
func IsProcessCreationFailed(err error) bool { return errors.Is(err, ErrProcessCreationFailed) }
func IsDetoursInjectionFailed(err error) bool {
	return errors.Is(err, ErrDetoursInjectionFailed)
}
func IsTimeout(err error) bool                { return errors.Is(err, ErrTimeout) }
func IsDisallowedDoubleWrite(err error) bool   { return errors.Is(err, ErrDisallowedDoubleWrite) }
func IsHardlinkFailed(err error) bool          { return errors.Is(err, ErrHardlinkFailed) }
func IsSidebandCorrupted(err error) bool       { return errors.Is(err, ErrSidebandCorrupted) }
func IsCanceled(err error) bool                { return errors.Is(err, ErrCanceled) }
func IsContainerMisconfigured(err error) bool  { return errors.Is(err, ErrContainerMisconfigured) }

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package runner

import (
	"time"

	"github.com/sirupsen/logrus"

	"forgekit.sh/broker"
)

// Config describes one sandboxed process invocation. A Config is consumed
// by exactly one Runner.
type Config struct {
	Path string
	Args []string
	Env  []string
	Dir  string

	Timeout        time.Duration
	AllowBreakaway bool

	// ReaderStrategy selects the pipe package's reader implementation for
	// stdout/stderr/control ("completion" or "stream").
	ReaderStrategy string

	Injector broker.Injector
	Signaler broker.EventSignaler

	DumpDir      string
	DumpCapturer DumpCapturer

	Logger *logrus.Logger

	OnStdout func(line string)
	OnStderr func(line string)

	// OnExiting is invoked once, under the runner's mutex, after the
	// process has exited or been killed but before stdout/stderr EOF has
	// been awaited. It typically tears down the remaining process tree so
	// the child's write ends of the pipes close.
	OnExiting func()

	// OnExited is invoked once, after the broker has stopped and stdin has
	// not yet been closed.
	OnExited func()
}

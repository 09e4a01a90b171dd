// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package broker

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"forgekit.sh/internal/sandboxerr"
	"forgekit.sh/pipe"
)

// MaxInjectRetries bounds the total number of native injector calls for one
// request, the first call included; only a partial-copy result leads to
// another call.
const MaxInjectRetries = 5

// EventOpenBackoff is the fixed schedule used when a named completion event
// does not yet exist at signaling time.
var EventOpenBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// InjectStatus is the outcome the native injector reports for one attempt.
type InjectStatus int

const (
	InjectSucceeded InjectStatus = iota
	InjectPartialCopy
	InjectFailed
)

// Injector performs the native injection into a running process by pid.
type Injector interface {
	Inject(pid uint64) InjectStatus
}

// EventSignaler signals a named completion event, retrying internally if
// the event does not exist yet is the caller's responsibility via Signal's
// contract: Signal returns an error only when the event could not be
// opened/signaled at all.
type EventSignaler interface {
	Signal(name string) error
}

// Sleeper abstracts time.Sleep so tests can inject a fake clock instead of
// waiting on real wall-clock retries.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// RetryDelay is the 100*n ms schedule used between injector retries.
func RetryDelay(attempt int) time.Duration {
	return time.Duration(100*attempt) * time.Millisecond
}

// Broker is the top-of-tree injection server. One Broker instance owns one
// control pipe's worth of requests for the lifetime of a single sandboxed
// process tree.
type Broker struct {
	injector Injector
	signaler EventSignaler
	sleeper  Sleeper
	logger   *logrus.Logger

	maxRetries int
	backoff    []time.Duration

	mu           sync.Mutex
	shuttingDown bool
	// hasFailed mirrors the original's single global "has injection
	// failed" flag: once any request in this broker's lifetime fails,
	// every subsequent request is rejected without retrying the
	// injector. See the design notes' open question on whether this
	// should instead be tracked per target pid.
	hasFailed bool

	reader pipe.AsyncLineReader
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger attaches a logger; routine handling is logged at Debug,
// protocol violations at Error, and teardown issues at Warn.
func WithLogger(l *logrus.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithSleeper overrides the real-time sleeper, for tests.
func WithSleeper(s Sleeper) Option {
	return func(b *Broker) { b.sleeper = s }
}

// WithMaxRetries overrides MaxInjectRetries.
func WithMaxRetries(n int) Option {
	return func(b *Broker) { b.maxRetries = n }
}

// WithEventOpenBackoff overrides EventOpenBackoff.
func WithEventOpenBackoff(schedule []time.Duration) Option {
	return func(b *Broker) { b.backoff = schedule }
}

// New constructs a Broker. injector performs native injection; signaler
// signals named completion events.
func New(injector Injector, signaler EventSignaler, opts ...Option) *Broker {
	b := &Broker{
		injector:   injector,
		signaler:   signaler,
		sleeper:    realSleeper{},
		logger:     logrus.StandardLogger(),
		maxRetries: MaxInjectRetries,
		backoff:    EventOpenBackoff,
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Listen starts an async line reader over the control pipe's read end,
// handling each request as it arrives. strategy selects the pipe reader
// implementation (see package pipe).
func (b *Broker) Listen(controlPipe io.Reader, strategy string) error {
	reader, err := pipe.New(strategy, controlPipe, func(line string) bool {
		b.handleLine(line)
		return true
	})
	if err != nil {
		return err
	}

	b.reader = reader
	return reader.BeginReadLine()
}

func (b *Broker) handleLine(line string) {
	req, err := ParseLine(line)
	if err != nil {
		// Malformed lines are a protocol bug in our own shim -- fatal as
		// an assertion, but we must not take the reader down with it:
		// log loudly and drop the line.
		b.logger.Errorf("broker: %v", err)
		return
	}

	b.Handle(req)
}

// Handle processes one brokered injection request synchronously. It is
// exported directly so tests can drive it without a real pipe.
func (b *Broker) Handle(req Request) {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return
	}
	if b.hasFailed {
		b.mu.Unlock()
		b.signalWithRetry(req.FailureEvent)
		return
	}
	b.mu.Unlock()

	status := b.injectWithRetry(req.TargetPID)

	if status == InjectSucceeded {
		b.signalWithRetry(req.SuccessEvent)
		return
	}

	b.mu.Lock()
	b.hasFailed = true
	b.mu.Unlock()
	b.signalWithRetry(req.FailureEvent)
}

func (b *Broker) injectWithRetry(pid uint64) InjectStatus {
	var status InjectStatus

	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		status = b.injector.Inject(pid)
		if status != InjectPartialCopy {
			return status
		}
		if attempt < b.maxRetries {
			b.sleeper.Sleep(RetryDelay(attempt))
		}
	}

	return status
}

func (b *Broker) signalWithRetry(name string) {
	if err := b.signaler.Signal(name); err == nil {
		return
	}

	for _, delay := range b.backoff {
		b.sleeper.Sleep(delay)
		if err := b.signaler.Signal(name); err == nil {
			return
		}
	}

	b.logger.Warnf("broker: could not signal event %q after exhausting open-event backoff", name)
}

// HasInjectionFailed reports whether any request handled by this broker has
// ever failed, surfaced by the runner as has_detours_failures.
func (b *Broker) HasInjectionFailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasFailed
}

// Shutdown marks the broker as shutting down: further requests are ignored
// without touching the injector, matching §4.2(a). It does not by itself
// drain the control pipe -- the runner must still await EOF on it per the
// fixed teardown order in §4.2.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.shuttingDown = true
	b.mu.Unlock()
}

// AwaitEOF blocks until the control pipe reader reaches Stopped, after
// Shutdown has been called and the injector's local write handle has been
// released by the caller. Reversing that order deadlocks -- see §4.2.
func (b *Broker) AwaitEOF() pipe.EOFResult {
	if b.reader == nil {
		return pipe.EOFResult{ReachedEOF: true}
	}
	return b.reader.AwaitEOF(true)
}

// DisposeError wraps sandboxerr.ErrDetoursInjectionFailed for a named
// broker-lifecycle phase, for callers that need to distinguish broker setup
// failures from ordinary process-creation failures.
func DisposeError(phase string) error {
	return sandboxerr.DetoursInjectionFailed(phase)
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSleeper struct {
	mu    sync.Mutex
	naps  []time.Duration
}

func (f *fakeSleeper) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.naps = append(f.naps, d)
}

func (f *fakeSleeper) Naps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.naps))
	copy(out, f.naps)
	return out
}

type scriptedInjector struct {
	mu       sync.Mutex
	results  []InjectStatus
	i        int
	attempts int
}

func (s *scriptedInjector) Inject(pid uint64) InjectStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.i >= len(s.results) {
		return s.results[len(s.results)-1]
	}
	r := s.results[s.i]
	s.i++
	return r
}

type recordingSignaler struct {
	mu      sync.Mutex
	signals []string
	fail    map[string]int // number of times to fail before succeeding
}

func (r *recordingSignaler) Signal(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.fail[name]; n > 0 {
		r.fail[name]--
		return assertErr
	}
	r.signals = append(r.signals, name)
	return nil
}

var assertErr = assertError("event not yet signaled")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestParseLine(t *testing.T) {
	req, err := ParseLine("ok-event,fail-event,true,1a2b")
	require.NoError(t, err)
	assert.Equal(t, "ok-event", req.SuccessEvent)
	assert.Equal(t, "fail-event", req.FailureEvent)
	assert.True(t, req.InheritedHandles)
	assert.EqualValues(t, 0x1a2b, req.TargetPID)
}

func TestParseLineRejectsMalformed(t *testing.T) {
	_, err := ParseLine("only,three,fields")
	assert.Error(t, err)
}

func TestBrokerRetriesOnPartialCopy(t *testing.T) {
	injector := &scriptedInjector{results: []InjectStatus{
		InjectPartialCopy, InjectPartialCopy, InjectPartialCopy, InjectSucceeded,
	}}
	signaler := &recordingSignaler{fail: map[string]int{}}
	sleeper := &fakeSleeper{}

	b := New(injector, signaler, WithSleeper(sleeper))
	b.Handle(Request{SuccessEvent: "ok", FailureEvent: "bad", TargetPID: 42})

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}, sleeper.Naps())
	assert.Equal(t, []string{"ok"}, signaler.signals)
	assert.False(t, b.HasInjectionFailed())
}

func TestBrokerStopsRetryingOnHardFailure(t *testing.T) {
	injector := &scriptedInjector{results: []InjectStatus{InjectFailed}}
	signaler := &recordingSignaler{fail: map[string]int{}}
	sleeper := &fakeSleeper{}

	b := New(injector, signaler, WithSleeper(sleeper))
	b.Handle(Request{SuccessEvent: "ok", FailureEvent: "bad", TargetPID: 1})

	assert.Empty(t, sleeper.Naps())
	assert.Equal(t, []string{"bad"}, signaler.signals)
	assert.True(t, b.HasInjectionFailed())
}

func TestBrokerSkipsInjectorAfterPriorFailure(t *testing.T) {
	injector := &scriptedInjector{results: []InjectStatus{InjectFailed}}
	signaler := &recordingSignaler{fail: map[string]int{}}
	sleeper := &fakeSleeper{}

	b := New(injector, signaler, WithSleeper(sleeper))
	b.Handle(Request{SuccessEvent: "ok1", FailureEvent: "bad1", TargetPID: 1})
	b.Handle(Request{SuccessEvent: "ok2", FailureEvent: "bad2", TargetPID: 2})

	assert.Equal(t, 1, injector.attempts)
	assert.Equal(t, []string{"bad1", "bad2"}, signaler.signals)
}

func TestBrokerIgnoresRequestsAfterShutdown(t *testing.T) {
	injector := &scriptedInjector{results: []InjectStatus{InjectSucceeded}}
	signaler := &recordingSignaler{fail: map[string]int{}}
	sleeper := &fakeSleeper{}

	b := New(injector, signaler, WithSleeper(sleeper))
	b.Shutdown()
	b.Handle(Request{SuccessEvent: "ok", FailureEvent: "bad", TargetPID: 1})

	assert.Equal(t, 0, injector.attempts)
	assert.Empty(t, signaler.signals)
}

func TestSignalWithRetryUsesEventOpenBackoff(t *testing.T) {
	injector := &scriptedInjector{results: []InjectStatus{InjectSucceeded}}
	signaler := &recordingSignaler{fail: map[string]int{"ok": 2}}
	sleeper := &fakeSleeper{}

	b := New(injector, signaler, WithSleeper(sleeper))
	b.Handle(Request{SuccessEvent: "ok", FailureEvent: "bad", TargetPID: 1})

	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeper.Naps())
	assert.Equal(t, []string{"ok"}, signaler.signals)
}

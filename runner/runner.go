// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"forgekit.sh/broker"
	"forgekit.sh/internal/sandboxerr"
	"forgekit.sh/internal/waitgroup"
	"forgekit.sh/pipe"
)

// Runner drives one sandboxed process through start, run, and exit. A
// Runner is single-use: Start may be called exactly once, and only before
// Dispose.
type Runner struct {
	cfg Config

	mu       sync.Mutex
	status   Status
	started  bool
	disposed bool

	cmd *exec.Cmd

	stdin  *pipe.Pair
	stdout *pipe.Pair
	stderr *pipe.Pair
	ctrl   *pipe.Pair

	stdoutReader pipe.AsyncLineReader
	stderrReader pipe.AsyncLineReader
	broker       *broker.Broker

	waitDone  chan struct{}
	waitErr   error
	exitCode  int
	dumpTaken bool

	// pending tracks which handles (stdout, stderr, control) are still
	// outstanding, so a timeout can report exactly what it's waiting on.
	pending waitgroup.WaitGroup[string]
}

// New constructs a Runner for cfg. Exactly one of Start/Dispose sequence may
// run on the result.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ReaderStrategy == "" {
		cfg.ReaderStrategy = pipe.StrategyCompletion
	}
	if cfg.DumpCapturer == nil {
		cfg.DumpCapturer = NoopDumpCapturer{}
	}

	return &Runner{cfg: cfg, status: NotStarted}
}

// Status reports the runner's current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start begins the child process: pipes, broker, and the OS process itself,
// per §4.3. It returns once the process has been created and readers are
// running; it does not block for exit.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner: start called more than once")
	}
	if r.disposed {
		r.mu.Unlock()
		return fmt.Errorf("runner: start called after dispose")
	}
	r.started = true
	r.mu.Unlock()

	stdin, err := pipe.NewPair("stdin", pipe.ParentWritesAsync)
	if err != nil {
		return sandboxerr.PipeSetupFailed(err)
	}
	stdout, err := pipe.NewPair("stdout", pipe.ParentReadsAsync)
	if err != nil {
		stdin.CloseParent()
		stdin.CloseChild()
		return sandboxerr.PipeSetupFailed(err)
	}
	stderr, err := pipe.NewPair("stderr", pipe.ParentReadsAsync)
	if err != nil {
		stdin.CloseParent()
		stdin.CloseChild()
		stdout.CloseParent()
		stdout.CloseChild()
		return sandboxerr.PipeSetupFailed(err)
	}
	ctrl, err := pipe.NewPair("control", pipe.ParentReadsAsync)
	if err != nil {
		stdin.CloseParent()
		stdin.CloseChild()
		stdout.CloseParent()
		stdout.CloseChild()
		stderr.CloseParent()
		stderr.CloseChild()
		return sandboxerr.PipeSetupFailed(err)
	}

	r.stdin, r.stdout, r.stderr, r.ctrl = stdin, stdout, stderr, ctrl

	cmd := exec.Command(r.cfg.Path, r.cfg.Args...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = r.cfg.Env
	cmd.Stdin = stdin.Child
	cmd.Stdout = stdout.Child
	cmd.Stderr = stderr.Child
	cmd.ExtraFiles = []*os.File{ctrl.Child}
	// terminate_on_close=true's process-group analogue: the whole tree
	// dies together under Kill, matching fail_critical_errors=false's
	// "don't let a child outlive deliberate teardown" intent.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	r.cfg.Logger.WithFields(logrus.Fields{
		"path": r.cfg.Path,
		"args": r.cfg.Args,
	}).Debug("runner: starting process")

	if err := cmd.Start(); err != nil {
		r.closeAllPipeFiles()
		return sandboxerr.ProcessCreationFailed(err)
	}

	r.cmd = cmd

	// The injector payload's own end of the handles is no longer needed in
	// the parent once the child has inherited them.
	stdin.CloseChild()
	stdout.CloseChild()
	stderr.CloseChild()
	ctrl.CloseChild()

	r.mu.Lock()
	r.status = Running
	r.mu.Unlock()

	r.stdoutReader, err = pipe.New(r.cfg.ReaderStrategy, stdout.Parent, func(line string) bool {
		if r.cfg.OnStdout != nil {
			r.cfg.OnStdout(line)
		}
		return true
	})
	if err != nil {
		return sandboxerr.PipeSetupFailed(err)
	}
	if err := r.stdoutReader.BeginReadLine(); err != nil {
		return err
	}

	r.stderrReader, err = pipe.New(r.cfg.ReaderStrategy, stderr.Parent, func(line string) bool {
		if r.cfg.OnStderr != nil {
			r.cfg.OnStderr(line)
		}
		return true
	})
	if err != nil {
		return sandboxerr.PipeSetupFailed(err)
	}
	if err := r.stderrReader.BeginReadLine(); err != nil {
		return err
	}

	r.broker = broker.New(r.cfg.Injector, r.cfg.Signaler, broker.WithLogger(r.cfg.Logger))
	if err := r.broker.Listen(ctrl.Parent, r.cfg.ReaderStrategy); err != nil {
		return err
	}

	r.pending.Add("stdout")
	r.pending.Add("stderr")
	r.pending.Add("control")

	r.waitDone = make(chan struct{})
	go r.waitForExit()

	return nil
}

func (r *Runner) closeAllPipeFiles() {
	for _, p := range []*pipe.Pair{r.stdin, r.stdout, r.stderr, r.ctrl} {
		if p == nil {
			continue
		}
		p.CloseParent()
		p.CloseChild()
	}
}

// waitForExit registers the OS wait with the configured timeout and drives
// the fixed exit-path sequence documented in §4.3.
func (r *Runner) waitForExit() {
	defer close(r.waitDone)

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		done <- result{err: r.cmd.Wait()}
	}()

	var timedOut bool

	if r.cfg.Timeout > 0 {
		timer := time.NewTimer(r.cfg.Timeout)
		defer timer.Stop()

		select {
		case res := <-done:
			r.waitErr = res.err
		case <-timer.C:
			timedOut = true
			r.captureDumpBestEffort()
			_ = r.killLocked(ExitTimeout)
			res := <-done
			r.waitErr = res.err
		}
	} else {
		res := <-done
		r.waitErr = res.err
	}

	r.mu.Lock()
	if timedOut {
		r.status = TimedOut
	} else if r.status != Killed {
		r.status = Exited
	}
	killedOrTimedOut := r.status == TimedOut || r.status == Killed
	r.mu.Unlock()

	// A killed process's native ProcessState.ExitCode() reflects the signal
	// that brought it down (-1 on this platform for SIGKILL), not a
	// meaningful exit code. Keep the reserved code killLocked already
	// recorded instead of clobbering it with that native value.
	if !killedOrTimedOut && r.cmd.ProcessState != nil {
		r.exitCode = r.cmd.ProcessState.ExitCode()
	}

	// (ii) process_exiting, under the runner's mutex
	if r.cfg.OnExiting != nil {
		r.mu.Lock()
		r.cfg.OnExiting()
		r.mu.Unlock()
	}

	// (iii) await EOF on stdout and stderr
	r.stdoutReader.AwaitEOF(false)
	r.pending.Done("stdout")
	r.stderrReader.AwaitEOF(false)
	r.pending.Done("stderr")

	// (iv) stop broker
	r.broker.Shutdown()
	r.ctrl.CloseParent()
	r.broker.AwaitEOF()
	r.pending.Done("control")

	// (v) process_exited
	if r.cfg.OnExited != nil {
		r.cfg.OnExited()
	}

	// (vi) close stdin
	r.stdin.CloseParent()
}

func (r *Runner) captureDumpBestEffort() {
	r.cfg.Logger.WithField("pending", r.pending.Items()).Warn("runner: timed out waiting on process")

	if r.dumpTaken || r.cfg.DumpDir == "" || r.cmd.Process == nil {
		return
	}
	r.dumpTaken = true

	if err := r.cfg.DumpCapturer.CaptureDump(r.cmd.Process.Pid, r.cfg.DumpDir); err != nil {
		r.cfg.Logger.WithError(err).Warn("runner: dump capture failed, continuing teardown")
	}
}

// Wait blocks until the process has fully exited and the fixed exit-path
// sequence has completed.
func (r *Runner) Wait() error {
	<-r.waitDone
	return r.waitErr
}

// ExitCode returns the child's exit code, valid only after Wait returns.
func (r *Runner) ExitCode() int {
	return r.exitCode
}

// HasInjectionFailed reports whether the broker ever failed to inject into
// a descendant process during this run.
func (r *Runner) HasInjectionFailed() bool {
	if r.broker == nil {
		return false
	}
	return r.broker.HasInjectionFailed()
}

// Kill terminates the process and its process group with exitCode. It is
// idempotent and silently no-ops after Dispose. Kill reads the process
// handle once under the mutex, then issues native calls without holding it,
// so a native call blocked on pipe teardown cannot stall other callers.
func (r *Runner) Kill(exitCode int) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return r.killLocked(exitCode)
}

func (r *Runner) killLocked(exitCode int) error {
	r.mu.Lock()
	proc := r.cmd
	alreadyKilled := r.status == Killed
	r.mu.Unlock()

	if proc == nil || proc.Process == nil || alreadyKilled {
		return nil
	}

	r.mu.Lock()
	if r.status == Running {
		r.status = Killed
	}
	r.mu.Unlock()

	pgid := proc.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		_ = proc.Process.Kill()
	}

	r.exitCode = exitCode
	return nil
}

// Dispose marks the runner as torn down. It is safe to call more than once;
// afterward Kill no-ops and Start returns an error.
func (r *Runner) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
}

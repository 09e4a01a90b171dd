// SPDX-License-Identifier: MIT
//
// Copyright (c) 2019 GitHub Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package iostreams

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"

	"forgekit.sh/utils"
)

// IOStreams bundles the three standard streams of the running process,
// together with everything the renderer needs to know about the terminal
// attached to them: whether it is a TTY, how wide it is and whether it
// supports color.
type IOStreams struct {
	In     io.ReadCloser
	Out    io.Writer
	ErrOut io.Writer

	// originalOut is the unwrapped stdout, used on Windows to toggle
	// virtual terminal processing.
	originalOut io.Writer

	colorEnabled bool
	is256enabled bool
	hasTrueColor bool

	terminalWidthOverride int
	ttySize               func() (int, int, error)

	progressIndicatorEnabled bool
	progressIndicatorMu      sync.Mutex

	stdinTTYOverride  bool
	stdinIsTTY        bool
	stdoutTTYOverride bool
	stdoutIsTTY       bool
	stderrTTYOverride bool
	stderrIsTTY       bool

	pagerCommand string
	pagerProcess *exec.Cmd

	neverPrompt bool
}

// System returns an IOStreams wired to the real os.Stdin/os.Stdout/os.Stderr.
func System() *IOStreams {
	stdoutIsTTY := utils.IsTerminal(os.Stdout)
	stderrIsTTY := utils.IsTerminal(os.Stderr)

	io := &IOStreams{
		In:          os.Stdin,
		originalOut: os.Stdout,
		Out:         colorable.NewColorable(os.Stdout),
		ErrOut:      colorable.NewColorable(os.Stderr),
	}

	if stdoutIsTTY {
		io.colorEnabled = !EnvColorDisabled()
		io.is256enabled = Is256ColorSupported()
		io.hasTrueColor = IsTrueColorSupported()
	} else if EnvColorForced() {
		io.colorEnabled = true
	}

	io.SetStdinTTY(utils.IsTerminal(os.Stdin))
	io.SetStdoutTTY(stdoutIsTTY)
	io.SetStderrTTY(stderrIsTTY)
	io.ttySize = ttySize

	return io
}

// Test returns an IOStreams whose streams are in-memory buffers, for use in
// unit tests that exercise code paths which print to the configured streams.
func Test() (*IOStreams, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	io := &IOStreams{
		In:     io_nopCloser{in},
		Out:    out,
		ErrOut: errOut,
	}
	io.SetStdinTTY(false)
	io.SetStdoutTTY(false)
	io.SetStderrTTY(false)

	return io, in, out, errOut
}

type io_nopCloser struct {
	io.Reader
}

func (io_nopCloser) Close() error { return nil }

func (s *IOStreams) SetStdinTTY(tty bool) {
	s.stdinTTYOverride = true
	s.stdinIsTTY = tty
}

func (s *IOStreams) IsStdinTTY() bool {
	if s.stdinTTYOverride {
		return s.stdinIsTTY
	}
	if stdin, ok := s.In.(*os.File); ok {
		return utils.IsTerminal(stdin)
	}
	return false
}

func (s *IOStreams) SetStdoutTTY(tty bool) {
	s.stdoutTTYOverride = true
	s.stdoutIsTTY = tty
}

func (s *IOStreams) IsStdoutTTY() bool {
	if s.stdoutTTYOverride {
		return s.stdoutIsTTY
	}
	return s.stdoutIsTTY
}

func (s *IOStreams) SetStderrTTY(tty bool) {
	s.stderrTTYOverride = true
	s.stderrIsTTY = tty
}

func (s *IOStreams) IsStderrTTY() bool {
	if s.stderrTTYOverride {
		return s.stderrIsTTY
	}
	return s.stderrIsTTY
}

// ForceTerminal overrides TTY detection with an explicit width, either a
// fixed column count ("72"), a boolean ("true"/"false") or a percentage of
// the measured terminal width ("50%").
func (s *IOStreams) ForceTerminal(spec string) {
	s.SetStdoutTTY(true)

	if spec == "" {
		return
	}

	if w, err := strconv.Atoi(spec); err == nil {
		s.terminalWidthOverride = w
		return
	}

	if strings.HasSuffix(spec, "%") {
		if pct, err := strconv.Atoi(strings.TrimSuffix(spec, "%")); err == nil {
			w, _, _ := s.measureTerminalSize()
			s.terminalWidthOverride = w * pct / 100
			return
		}
	}

	if b, err := strconv.ParseBool(spec); err == nil && !b {
		s.SetStdoutTTY(false)
	}
}

// TerminalWidth reports the number of columns of the attached terminal, or
// 80 if it cannot be measured.
func (s *IOStreams) TerminalWidth() int {
	if s.terminalWidthOverride > 0 {
		return s.terminalWidthOverride
	}

	w, _, err := s.measureTerminalSize()
	if err != nil {
		return 80
	}

	return w
}

func (s *IOStreams) measureTerminalSize() (int, int, error) {
	if s.ttySize != nil {
		return s.ttySize()
	}
	return ttySize()
}

func (s *IOStreams) ColorEnabled() bool {
	return s.colorEnabled
}

func (s *IOStreams) ColorSupport256() bool {
	return s.is256enabled
}

func (s *IOStreams) HasTrueColor() bool {
	return s.hasTrueColor
}

func (s *IOStreams) ColorScheme() *ColorScheme {
	return NewColorScheme(s.colorEnabled, s.is256enabled, s.hasTrueColor)
}

// SetNeverPrompt disables any interactive prompting regardless of TTY state,
// mirroring the Config.NoPrompt setting.
func (s *IOStreams) SetNeverPrompt(v bool) {
	s.neverPrompt = v
}

func (s *IOStreams) CanPrompt() bool {
	if s.neverPrompt {
		return false
	}
	return s.IsStdinTTY() && s.IsStdoutTTY()
}

// StartPager starts the configured pager (PAGER environment variable,
// falling back to "less") and redirects Out to it, when stdout is a TTY.
func (s *IOStreams) StartPager() error {
	if !s.IsStdoutTTY() {
		return nil
	}

	pagerCmd := os.Getenv("PAGER")
	if pagerCmd == "" {
		pagerCmd = "less -FRX"
	}

	pagerArgs, err := shellSplit(pagerCmd)
	if err != nil || len(pagerArgs) == 0 {
		return nil
	}

	s.pagerCommand = pagerCmd

	pagerEnv := os.Environ()
	if _, ok := os.LookupEnv("LESS"); !ok {
		pagerEnv = append(pagerEnv, "LESS=FRX")
	}

	cmd := exec.Command(pagerArgs[0], pagerArgs[1:]...)
	cmd.Env = pagerEnv
	cmd.Stdout = s.Out
	cmd.Stderr = s.ErrOut

	pagerIn, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	s.Out = pagerIn

	if err := cmd.Start(); err != nil {
		return err
	}

	s.pagerProcess = cmd
	return nil
}

// StopPager closes the pager's stdin and waits for it to exit.
func (s *IOStreams) StopPager() {
	if s.pagerProcess == nil {
		return
	}

	if closer, ok := s.Out.(io.Closer); ok {
		_ = closer.Close()
	}

	_ = s.pagerProcess.Wait()
	s.pagerProcess = nil
}

func shellSplit(s string) ([]string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty pager command")
	}
	return fields, nil
}

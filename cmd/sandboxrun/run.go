// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"forgekit.sh/broker"
	"forgekit.sh/cmdfactory"
	"forgekit.sh/config"
	"forgekit.sh/container"
	"forgekit.sh/iostreams"
	"forgekit.sh/merge"
	"forgekit.sh/pipeline"
	"forgekit.sh/runner"
	"forgekit.sh/sideband"
	"forgekit.sh/utils"
)

// Run drives a single sandboxed process through the pipeline manually, for
// ad-hoc testing of the core outside the scheduler.
type Run struct {
	Timeout         int      `long:"timeout" usage:"Kill the process after this many seconds (0 disables the timeout)"`
	DoubleWrite     string   `long:"double-write-policy" usage:"Double-write policy: errors or first-wins" default:"errors"`
	SidebandFile    string   `long:"sideband-file" usage:"Write a sideband log of recorded paths to this file"`
	ReaderStrategy  string   `long:"reader-strategy" usage:"Async line reader strategy: completion or stream"`
	DeclaredOutput  []string `long:"declared-output" usage:"A file the process is expected to produce; repeatable"`
	SharedOpaque    []string `long:"shared-opaque" usage:"A directory the process may write arbitrary files under, merged by recorded path; repeatable"`
	ExclusiveOpaque []string `long:"exclusive-opaque" usage:"A directory this process alone owns, merged by recorded path; repeatable"`
	RedirectedRoot  string   `long:"redirected-root" usage:"Root directory for container path virtualization; enables the container configuration when set"`
	RecordedPath    []string `long:"recorded-path" usage:"A dynamic write discovered under a shared or exclusive opaque directory, for opaque merge and the sideband log; repeatable"`
	BindExclude     []string `long:"bind-exclude" usage:"A path exempt from container bind-mount rewriting; repeatable"`
	EnableWCIFilter bool     `long:"enable-wci-filter" usage:"Attach the container's redirection filter (or bind-mount equivalent) for this process"`

	io     *iostreams.IOStreams
	logger *logrus.Logger
}

func New(cfg *config.ConfigManager[config.Config], io *iostreams.IOStreams, logger *logrus.Logger) *cobra.Command {
	run := &Run{io: io, logger: logger}

	cmd, err := cmdfactory.New(run, cobra.Command{
		Short: "Run a command inside the sandboxed process execution core",
		Use:   "run [FLAGS] -- COMMAND [ARGS...]",
		Long: heredoc.Doc(`
			Run a command inside the sandboxed process execution core and print
			a summary of its outcome: exit code, merge results, and whether any
			detour injection failed.`),
		Example: heredoc.Doc(`
			# Run a command with a five second timeout
			$ sandboxrun --timeout 5 -- sh -c "sleep 10"`),
	})
	if err != nil {
		panic(err)
	}

	cmd.Args = cobra.MinimumNArgs(1)

	run.applyDefaults(cfg.Config)

	return cmd
}

func (opts *Run) applyDefaults(cfg *config.Config) {
	if opts.Timeout == 0 {
		opts.Timeout = cfg.Sandbox.DefaultTimeoutSeconds
	}
	if opts.ReaderStrategy == "" {
		opts.ReaderStrategy = cfg.Sandbox.ReaderStrategy
	}
}

func (opts *Run) Run(cmd *cobra.Command, args []string) error {
	policy := merge.DoubleWritesAreErrors
	if opts.DoubleWrite == "first-wins" {
		policy = merge.UnsafeFirstDoubleWriteWins
	}

	pcfg := pipeline.Config{
		Runner: runner.Config{
			Path:           args[0],
			Args:           args[1:],
			ReaderStrategy: opts.ReaderStrategy,
			Injector:       noopInjector{},
			Signaler:       noopSignaler{},
			Logger:         opts.logger,
			OnStdout: func(line string) {
				fmt.Fprintln(opts.io.Out, line)
			},
			OnStderr: func(line string) {
				fmt.Fprintln(opts.io.ErrOut, line)
			},
		},
		DoubleWrite:   policy,
		Logger:        opts.logger,
		RecordedPaths: opts.RecordedPath,
	}

	for _, declared := range opts.DeclaredOutput {
		pcfg.Outputs = append(pcfg.Outputs, pipeline.Output{Declared: declared, RewriteCount: 1})
	}

	if opts.RedirectedRoot != "" {
		cc := &pipeline.ContainerConfig{
			RedirectedRoot:  opts.RedirectedRoot,
			BindExclusions:  opts.BindExclude,
			EnableWCIFilter: opts.EnableWCIFilter,
			Isolation: container.IsolationLevel{
				IsolateOutputs:          len(opts.DeclaredOutput) > 0,
				IsolateSharedOpaques:    len(opts.SharedOpaque) > 0,
				IsolateExclusiveOpaques: len(opts.ExclusiveOpaque) > 0,
			},
		}
		for _, root := range opts.SharedOpaque {
			cc.OutputDirectories = append(cc.OutputDirectories, pipeline.OutputDirectory{Root: root, Shared: true})
		}
		for _, root := range opts.ExclusiveOpaque {
			cc.OutputDirectories = append(cc.OutputDirectories, pipeline.OutputDirectory{Root: root, Shared: false})
		}
		pcfg.Container = cc
	}

	if opts.Timeout > 0 {
		pcfg.Runner.Timeout = time.Duration(opts.Timeout) * time.Second
	}

	if opts.SidebandFile != "" {
		pcfg.SidebandPath = opts.SidebandFile
		pcfg.SidebandMetadata = sideband.Metadata{
			PipDescription: strings.Join(args, " "),
		}
	}

	summary, err := pipeline.Run(pcfg)
	if err != nil {
		return err
	}

	opts.printSummary(summary)

	if !summary.Succeeded() {
		return fmt.Errorf("sandboxed process did not complete cleanly (exit code %d)", summary.ExitCode)
	}

	return nil
}

func (opts *Run) printSummary(s pipeline.Summary) {
	fmt.Fprintf(opts.io.Out, "\nexit code:   %d\n", s.ExitCode)
	fmt.Fprintf(opts.io.Out, "status:      %s\n", s.Status)
	fmt.Fprintf(opts.io.Out, "duration:    %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(opts.io.Out, "detours ok:  %v\n", !s.InjectionFailed)

	if s.SidebandPath != "" {
		size := sidebandFileSize(s.SidebandPath)
		fmt.Fprintf(opts.io.Out, "sideband:    %s (%s, %d paths)\n",
			filepath.Base(s.SidebandPath), units.HumanSize(float64(size)), s.SidebandEntryCount)
	}

	fmt.Fprintf(opts.io.Out, "outputs:     %s\n", utils.Pluralize(len(s.MergeOutcomes), "output"))

	for _, o := range s.MergeOutcomes {
		switch {
		case o.Merged:
			fmt.Fprintf(opts.io.Out, "  merged   %s\n", o.Declared)
		case o.Skipped:
			fmt.Fprintf(opts.io.Out, "  skipped  %s\n", o.Declared)
		default:
			fmt.Fprintf(opts.io.Out, "  failed   %s: %v\n", o.Declared, o.Err)
		}
	}
}

type noopInjector struct{}

func (noopInjector) Inject(pid uint64) broker.InjectStatus { return broker.InjectSucceeded }

type noopSignaler struct{}

func (noopSignaler) Signal(name string) error { return nil }

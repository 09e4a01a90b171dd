// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"forgekit.sh/container"
	"forgekit.sh/internal/pathid"
	"forgekit.sh/internal/sandboxerr"
	"forgekit.sh/merge"
	"forgekit.sh/runner"
	"forgekit.sh/sideband"
)

// Output describes one declared output to be merged after the process
// exits. Redirected is the location the process actually wrote to; leave it
// empty when Container is set and let the container configuration resolve
// it from Declared instead.
type Output struct {
	Redirected   string
	Declared     string
	RewriteCount int
}

// OutputDirectory is a declared opaque output directory, tagged shared
// (dynamic writes recorded by the caller) or exclusive (the whole
// redirected subtree belongs to this pip).
type OutputDirectory struct {
	Root   string
	Shared bool
}

// ContainerConfig is the subset of a process pip description the container
// component needs to compute a path-virtualization mapping. Leave it nil to
// skip virtualization entirely and merge Outputs' Redirected fields as-is,
// matching a caller that already knows where its process wrote.
type ContainerConfig struct {
	Isolation         container.IsolationLevel
	OutputDirectories []OutputDirectory
	RedirectedRoot    string
	BindExclusions    []string
	EnableWCIFilter   bool
}

// Config assembles everything one pip needs across its full lifecycle.
type Config struct {
	Runner runner.Config

	Outputs       []Output
	Container     *ContainerConfig
	DoubleWrite   merge.DoubleWritePolicy
	ArtifactCheck merge.IsArtifact

	SidebandPath     string
	SidebandMetadata sideband.Metadata
	SidebandRoots    []string
	RecordedPaths    []string // dynamic writes discovered under shared or exclusive opaques

	Logger *logrus.Logger
}

// Run drives Start -> Wait -> Merge -> Finalize for one pip and returns its
// Summary. Run owns the runner it creates and disposes it before returning.
func Run(cfg Config) (Summary, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	start := time.Now()

	r := runner.New(cfg.Runner)
	defer r.Dispose()

	if err := r.Start(); err != nil {
		return Summary{}, err
	}

	waitErr := r.Wait()

	var warnings sandboxerr.Warnings

	outcomes := mergeOutputs(cfg, &warnings)

	sbPath, sbCount, err := finalizeSideband(cfg, &warnings)
	if err != nil {
		warnings.Add(err)
	}

	summary := Summary{
		ExitCode:           r.ExitCode(),
		Status:             r.Status(),
		MergeOutcomes:      outcomes,
		SidebandPath:       sbPath,
		SidebandEntryCount: sbCount,
		InjectionFailed:    r.HasInjectionFailed(),
		Duration:           time.Since(start),
	}

	if w := warnings.Err(); w != nil {
		summary.Warnings = append(summary.Warnings, w)
	}

	return summary, waitErr
}

// resolvedContainer builds the container configuration, and the path table
// it was built against, for cfg. It returns nil, nil when cfg.Container is
// unset, so callers fall back to Outputs' own Redirected fields.
func resolvedContainer(cfg Config) (*container.Config, *pathid.Table) {
	if cfg.Container == nil {
		return nil, nil
	}

	table := pathid.New()
	cc := cfg.Container

	desc := container.ProcessDescription{
		Isolation:      cc.Isolation,
		RedirectedRoot: table.Intern(cc.RedirectedRoot),
	}

	for _, out := range cfg.Outputs {
		desc.DeclaredOutputs = append(desc.DeclaredOutputs, container.DeclaredOutput{
			Path:         table.Intern(out.Declared),
			RewriteCount: out.RewriteCount,
		})
	}

	for _, dir := range cc.OutputDirectories {
		desc.OutputDirectories = append(desc.OutputDirectories, container.OutputDirectory{
			Root:   table.Intern(dir.Root),
			Shared: dir.Shared,
		})
	}

	return container.Build(table, desc, cc.BindExclusions, cc.EnableWCIFilter), table
}

// mergeOutputs resolves every declared output's redirected location (through
// the container configuration when one is wired in, straight from Output
// otherwise) and merges it, then, per §4.5, merges every opaque-directory
// write recorded during the run.
func mergeOutputs(cfg Config, warnings *sandboxerr.Warnings) []MergeOutcome {
	var opts []merge.Option
	opts = append(opts, merge.WithLogger(cfg.Logger))
	if cfg.ArtifactCheck != nil {
		opts = append(opts, merge.WithArtifactDetector(cfg.ArtifactCheck))
	}

	m := merge.New(cfg.DoubleWrite, opts...)

	ccfg, table := resolvedContainer(cfg)

	outcomes := make([]MergeOutcome, 0, len(cfg.Outputs))
	for _, out := range cfg.Outputs {
		redirected := out.Redirected

		if ccfg != nil {
			lookup := ccfg.RedirectedForDeclaredOutput(table.Intern(out.Declared))
			switch lookup.Status {
			case container.LookupOK:
				redirected = table.String(lookup.Redirected)
			case container.LookupNotIsolated:
				// Not every declared output need be virtualized; fall back
				// to whatever the caller supplied directly.
			default:
				err := fmt.Errorf("pipeline: output %q: %w", out.Declared, sandboxerr.ErrContainerMisconfigured)
				warnings.Add(err)
				outcomes = append(outcomes, MergeOutcome{Declared: out.Declared, Err: err})
				continue
			}
		}

		err := m.MergeDeclaredOutputs([]merge.Output{{
			Redirected:   redirected,
			Declared:     out.Declared,
			RewriteCount: out.RewriteCount,
		}})

		outcome := MergeOutcome{Declared: out.Declared, Err: err}
		if err == nil {
			outcome.Merged = true
		} else if sandboxerr.IsDisallowedDoubleWrite(err) {
			outcome.Skipped = true
		} else {
			warnings.Add(err)
		}

		outcomes = append(outcomes, outcome)
	}

	if len(cfg.RecordedPaths) == 0 {
		return outcomes
	}

	declaredFor := func(redirected string) string {
		if ccfg == nil {
			return redirected
		}
		lookup := ccfg.DeclaredForRedirected(table.Intern(redirected))
		if lookup.Status != container.LookupOK {
			return redirected
		}
		return table.String(lookup.Redirected)
	}

	if err := m.MergeOpaqueOutputs(cfg.RecordedPaths, declaredFor); err != nil {
		warnings.Add(err)
		outcomes = append(outcomes, MergeOutcome{Declared: "(opaque)", Err: err})
	}

	return outcomes
}

func finalizeSideband(cfg Config, warnings *sandboxerr.Warnings) (string, int, error) {
	if cfg.SidebandPath == "" {
		return "", 0, nil
	}

	w := sideband.New(cfg.SidebandMetadata, cfg.SidebandPath, cfg.SidebandRoots)
	count := 0
	for _, path := range cfg.RecordedPaths {
		ok, err := w.Record(path)
		if err != nil {
			warnings.Add(err)
			continue
		}
		if ok {
			count++
		}
	}

	if err := w.Close(); err != nil {
		return cfg.SidebandPath, count, err
	}

	return cfg.SidebandPath, count, nil
}

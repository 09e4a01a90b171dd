// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Package container computes a per-process path-virtualization
// configuration: the original-directory-to-redirected-directory mapping a
// sandboxed process's filter driver (or, on this reimplementation, its
// bind-mount equivalent) uses to isolate a process's writes into its own
// directory tree.
package container

import (
	"sort"
	"strconv"
	"strings"

	"forgekit.sh/internal/pathid"
)

// DeclaredOutput is one file a process description promises to produce.
type DeclaredOutput struct {
	Path         pathid.Id
	RewriteCount int
}

// OutputDirectory is a declared output directory root, tagged shared or
// exclusive.
type OutputDirectory struct {
	Root   pathid.Id
	Shared bool
}

// IsolationLevel is the per-pip bitset controlling which output classes are
// virtualized.
type IsolationLevel struct {
	IsolateOutputs          bool
	IsolateSharedOpaques    bool
	IsolateExclusiveOpaques bool
}

// ProcessDescription is the subset of the scheduler's process pip
// description the container component needs. It is consumed, not owned.
type ProcessDescription struct {
	DeclaredOutputs   []DeclaredOutput
	OutputDirectories []OutputDirectory
	Isolation         IsolationLevel
	RedirectedRoot    pathid.Id
}

// Config is the immutable, per-process container configuration. It is safe
// to share by reference once built.
type Config struct {
	table *pathid.Table

	originalToRedirected  map[pathid.Id][]pathid.Id
	redirectedToOriginals map[pathid.Id][]pathid.Id

	bindExclusions   map[string]struct{}
	enableWCIFilter  bool
	isolationEnabled bool
}

// EnableWCIFilter reports whether the kernel reparse-filter (or its
// bind-mount equivalent) should be attached for this process.
func (c *Config) EnableWCIFilter() bool { return c.enableWCIFilter }

// IsolationEnabled reports whether any redirection is configured at all.
func (c *Config) IsolationEnabled() bool { return c.isolationEnabled }

// IsBindExcluded reports whether path is exempt from bind-mount rewriting.
func (c *Config) IsBindExcluded(path string) bool {
	_, ok := c.bindExclusions[path]
	return ok
}

// OriginalDirs returns every original directory key in the configuration,
// for diagnostics and tests. The returned slice is a copy.
func (c *Config) OriginalDirs() []pathid.Id {
	out := make([]pathid.Id, 0, len(c.originalToRedirected))
	for id := range c.originalToRedirected {
		out = append(out, id)
	}
	return out
}

// Build constructs a Config for desc, following §4.4: collect
// output-containing directories, collapse nested directories, allocate one
// redirected directory per collapsed original, then relocate every
// non-collapsed original onto its collapsed target's redirected directory.
func Build(table *pathid.Table, desc ProcessDescription, bindExclusions []string, enableWCIFilter bool) *Config {
	originals := collectOutputContainingDirs(table, desc)

	collapsed, collapsedToOriginals := collapseNestedDirectories(table, originals)

	redirectedForCollapsed := allocateRedirectedDirs(table, desc.RedirectedRoot, collapsed)

	originalToRedirected := make(map[pathid.Id][]pathid.Id, len(originals))
	redirectedToOriginals := make(map[pathid.Id][]pathid.Id, len(originals))

	for _, collapsedOriginal := range collapsed {
		redirectedTarget := redirectedForCollapsed[collapsedOriginal]

		for _, original := range collapsedToOriginals[collapsedOriginal] {
			redirected := table.Relocate(original, collapsedOriginal, redirectedTarget)
			originalToRedirected[original] = []pathid.Id{redirected}
			redirectedToOriginals[redirected] = append(redirectedToOriginals[redirected], original)
		}
	}

	exclusions := make(map[string]struct{}, len(bindExclusions))
	for _, e := range bindExclusions {
		exclusions[e] = struct{}{}
	}

	return &Config{
		table:                 table,
		originalToRedirected:  originalToRedirected,
		redirectedToOriginals: redirectedToOriginals,
		bindExclusions:        exclusions,
		enableWCIFilter:       enableWCIFilter,
		isolationEnabled:      len(originalToRedirected) > 0,
	}
}

func collectOutputContainingDirs(table *pathid.Table, desc ProcessDescription) []pathid.Id {
	seen := make(map[pathid.Id]struct{})
	var dirs []pathid.Id

	add := func(id pathid.Id) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		dirs = append(dirs, id)
	}

	if desc.Isolation.IsolateOutputs {
		for _, out := range desc.DeclaredOutputs {
			add(table.Parent(out.Path))
		}
	}

	for _, dir := range desc.OutputDirectories {
		if dir.Shared && desc.Isolation.IsolateSharedOpaques {
			add(dir.Root)
		}
		if !dir.Shared && desc.Isolation.IsolateExclusiveOpaques {
			add(dir.Root)
		}
	}

	return dirs
}

// collapseNestedDirectories produces originalDir -> collapsedOriginalDir
// such that no two collapsed originals are nested, plus the reverse
// "originals per collapsed" map. Processing shallowest-first guarantees
// that by the time a deeper directory is considered, any ancestor that will
// absorb it has already been accepted as a collapsed root.
func collapseNestedDirectories(table *pathid.Table, dirs []pathid.Id) ([]pathid.Id, map[pathid.Id][]pathid.Id) {
	sorted := make([]pathid.Id, len(dirs))
	copy(sorted, dirs)
	sort.Slice(sorted, func(i, j int) bool {
		return depth(table.String(sorted[i])) < depth(table.String(sorted[j]))
	})

	var collapsedRoots []pathid.Id
	originalToCollapsed := make(map[pathid.Id]pathid.Id, len(sorted))

	for _, d := range sorted {
		assigned := false
		for _, root := range collapsedRoots {
			if table.IsWithin(d, root) {
				originalToCollapsed[d] = root
				assigned = true
				break
			}
		}
		if !assigned {
			collapsedRoots = append(collapsedRoots, d)
			originalToCollapsed[d] = d
		}
	}

	collapsedToOriginals := make(map[pathid.Id][]pathid.Id, len(collapsedRoots))
	for _, d := range dirs {
		root := originalToCollapsed[d]
		collapsedToOriginals[root] = append(collapsedToOriginals[root], d)
	}

	return collapsedRoots, collapsedToOriginals
}

func depth(path string) int {
	return strings.Count(path, "/") + strings.Count(path, "\\")
}

// allocateRedirectedDirs assigns each collapsed original a unique directory
// under redirectedRoot, named by the original's leaf atom, disambiguated
// with _1, _2, ... on collision within this process.
func allocateRedirectedDirs(table *pathid.Table, redirectedRoot pathid.Id, collapsed []pathid.Id) map[pathid.Id]pathid.Id {
	used := make(map[string]int)
	result := make(map[pathid.Id]pathid.Id, len(collapsed))

	for _, original := range collapsed {
		leaf := table.Leaf(original)
		if leaf == "" {
			leaf = "root"
		}

		name := leaf
		if n, ok := used[leaf]; ok {
			n++
			used[leaf] = n
			name = leafWithSuffix(leaf, n)
		} else {
			used[leaf] = 0
		}

		result[original] = table.Combine(redirectedRoot, name)
	}

	return result
}

func leafWithSuffix(leaf string, n int) string {
	return leaf + "_" + strconv.Itoa(n)
}

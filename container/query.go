// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package container

import "forgekit.sh/internal/pathid"

// LookupStatus distinguishes "not isolated" (the root was never part of
// this configuration) from "misconfigured" (the root matched more than one
// redirected directory -- a construction invariant violation).
type LookupStatus int

const (
	LookupOK LookupStatus = iota
	LookupNotIsolated
	LookupMisconfigured
)

// LookupResult is the outcome of a redirection query.
type LookupResult struct {
	Redirected pathid.Id
	Status     LookupStatus
}

// RedirectedForDeclaredOutput looks up the redirected path for a declared
// file output: the parent of path must have exactly one redirected
// directory in this configuration.
func (c *Config) RedirectedForDeclaredOutput(path pathid.Id) LookupResult {
	parent := c.table.Parent(path)

	targets, ok := c.originalToRedirected[parent]
	if !ok {
		return LookupResult{Status: LookupNotIsolated}
	}
	if len(targets) != 1 {
		return LookupResult{Status: LookupMisconfigured}
	}

	leaf := c.table.Leaf(path)
	return LookupResult{
		Redirected: c.table.Combine(targets[0], leaf),
		Status:     LookupOK,
	}
}

// RedirectedForOpaqueOutput looks up the redirected path for fileUnderRoot,
// a file discovered under declaredRoot at execution time: declaredRoot must
// have exactly one redirected directory, and fileUnderRoot is relocated
// onto it preserving relative depth.
func (c *Config) RedirectedForOpaqueOutput(declaredRoot, fileUnderRoot pathid.Id) LookupResult {
	targets, ok := c.originalToRedirected[declaredRoot]
	if !ok {
		return LookupResult{Status: LookupNotIsolated}
	}
	if len(targets) != 1 {
		return LookupResult{Status: LookupMisconfigured}
	}

	redirected := c.table.Relocate(fileUnderRoot, declaredRoot, targets[0])
	if redirected == pathid.Invalid {
		return LookupResult{Status: LookupMisconfigured}
	}

	return LookupResult{Redirected: redirected, Status: LookupOK}
}

// OriginalsFor returns the originals a redirected directory was produced
// from, ordered earliest-shadows-latest, for "layered virtualization" reads.
func (c *Config) OriginalsFor(redirected pathid.Id) []pathid.Id {
	return c.redirectedToOriginals[redirected]
}

// DeclaredForRedirected is RedirectedForOpaqueOutput's inverse: given a path
// discovered somewhere under a redirected directory at execution time
// (arbitrarily nested, unlike a declared output's single-level parent), it
// walks up to the redirected root that produced it and relocates the path
// onto the single declared original preserving relative depth. The
// opaque-directory merge path uses this to route a dynamic write back onto
// its declared destination.
func (c *Config) DeclaredForRedirected(redirected pathid.Id) LookupResult {
	for candidate := redirected; ; {
		if originals, ok := c.redirectedToOriginals[candidate]; ok {
			if len(originals) != 1 {
				return LookupResult{Status: LookupMisconfigured}
			}

			declared := c.table.Relocate(redirected, candidate, originals[0])
			if declared == pathid.Invalid {
				return LookupResult{Status: LookupMisconfigured}
			}
			return LookupResult{Redirected: declared, Status: LookupOK}
		}

		parent := c.table.Parent(candidate)
		if parent == candidate || parent == pathid.Invalid {
			return LookupResult{Status: LookupNotIsolated}
		}
		candidate = parent
	}
}

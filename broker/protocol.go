// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Package broker implements the process-tree injector broker: it listens on
// a control pipe for brokered injection requests from descendant processes
// whose bitness or rights prevent their immediate parent from injecting
// directly, and signals named completion events to acknowledge each one.
package broker

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is one parsed control-pipe line.
type Request struct {
	SuccessEvent     string
	FailureEvent     string
	InheritedHandles bool
	TargetPID        uint64
}

// ParseLine parses a single control-pipe line:
// <success_event_name>,<failure_event_name>,<inherited_handles:true|false>,<target_pid_hex>
//
// Malformed lines are fatal assertions -- the broker only ever receives
// input from our own shim, so a parse failure indicates a protocol bug, not
// untrusted input.
func ParseLine(line string) (Request, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Request{}, fmt.Errorf("broker: malformed control line (want 4 fields, got %d): %q", len(fields), line)
	}

	inherited, err := strconv.ParseBool(fields[2])
	if err != nil {
		return Request{}, fmt.Errorf("broker: malformed inherited_handles field: %q", fields[2])
	}

	pid, err := strconv.ParseUint(fields[3], 16, 64)
	if err != nil {
		return Request{}, fmt.Errorf("broker: malformed target_pid_hex field: %q", fields[3])
	}

	return Request{
		SuccessEvent:     fields[0],
		FailureEvent:     fields[1],
		InheritedHandles: inherited,
		TargetPID:        pid,
	}, nil
}

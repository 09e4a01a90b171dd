// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.
package pipe

import (
	"fmt"
	"io"
)

const (
	StrategyCompletion = "completion"
	StrategyStream     = "stream"

	defaultBufferSize  = 64 * 1024
	defaultRetryBudget = 3
)

// New selects an AsyncLineReader implementation by name, matching
// config.Config.Sandbox.ReaderStrategy's allowed values.
func New(strategy string, r io.Reader, callback Callback) (AsyncLineReader, error) {
	switch strategy {
	case StrategyCompletion, "":
		return NewCompletionReader(r, defaultBufferSize, defaultRetryBudget, callback), nil
	case StrategyStream:
		return NewStreamReader(r, defaultBufferSize, callback), nil
	default:
		return nil, fmt.Errorf("pipe: unknown reader strategy %q", strategy)
	}
}

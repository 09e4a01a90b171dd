// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2022, Unikraft GmbH and The KraftKit Authors.
// Licensed under the BSD-3-Clause License (the "License").
// You may not use this file except in compliance with the License.

// Command sandboxrun drives the sandboxed process execution core directly,
// outside of the scheduler, for manual testing.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"forgekit.sh/config"
	"forgekit.sh/iostreams"
	"forgekit.sh/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	io := iostreams.System()

	cfg, err := config.NewConfigManager(
		&config.Config{},
		config.WithEnv[config.Config](),
	)
	if err != nil {
		fmt.Fprintf(io.ErrOut, "sandboxrun: %v\n", err)
		return 1
	}

	logger := logrus.New()
	if level, ok := log.Levels()[cfg.Config.Log.Level]; ok {
		logger.SetLevel(level)
	}
	logger.SetOutput(io.ErrOut)

	cmd := New(cfg, io, logger)
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(io.ErrOut, "sandboxrun: %v\n", err)
		return 1
	}

	return 0
}

// SPDX-License-Identifier: BSD-3-Clause
//
// Authors: Alexander Jung <alex@unikraft.io>
//
// Copyright (c) 2022, Unikraft GmbH.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

// Package config provides the sandbox engine's configuration structures and
// the feeders (environment, YAML file) which populate them.
package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
)

// Config holds every tunable of the sandboxed process execution core. It is
// never mutated by the core itself once handed to the pipeline -- the core
// only reads it.
type Config struct {
	NoPrompt bool `json:"no_prompt" yaml:"no_prompt" env:"FORGEKIT_NO_PROMPT" default:"false"`

	Paths struct {
		DumpDir     string `json:"dump_dir"     yaml:"dump_dir,omitempty"     env:"FORGEKIT_PATHS_DUMP_DIR"`
		SidebandDir string `json:"sideband_dir" yaml:"sideband_dir,omitempty" env:"FORGEKIT_PATHS_SIDEBAND_DIR"`
	} `json:"paths" yaml:"paths,omitempty"`

	Log struct {
		Level      string `json:"level"      yaml:"level"      env:"FORGEKIT_LOG_LEVEL"      default:"info"`
		Timestamps bool   `json:"timestamps" yaml:"timestamps" env:"FORGEKIT_LOG_TIMESTAMPS" default:"false"`
		Type       string `json:"type"       yaml:"type"       env:"FORGEKIT_LOG_TYPE"       default:"fancy"`
	} `json:"log" yaml:"log"`

	Sandbox struct {
		// DefaultTimeoutSeconds bounds how long a pip may run before the
		// runner captures a dump and kills it. Zero means no timeout.
		DefaultTimeoutSeconds int `json:"default_timeout_seconds" yaml:"default_timeout_seconds" env:"FORGEKIT_SANDBOX_DEFAULT_TIMEOUT_SECONDS" default:"0"`

		// DoubleWritePolicy names a merge policy: "errors" or "first-wins".
		// sandboxrun does not read this field; its --double-write-policy
		// flag (default "errors") selects the policy.
		DoubleWritePolicy string `json:"double_write_policy" yaml:"double_write_policy" env:"FORGEKIT_SANDBOX_DOUBLE_WRITE_POLICY" default:"errors"`

		// ReaderStrategy selects the AsyncLineReader implementation: the
		// primary OS-completion-based reader, or the stream-based fallback.
		// See §9 of the design notes -- this was a runtime toggle in the
		// original; here it is plain configuration.
		ReaderStrategy string `json:"reader_strategy" yaml:"reader_strategy" env:"FORGEKIT_SANDBOX_READER_STRATEGY" default:"completion"`

		InjectorMaxRetries int  `json:"injector_max_retries" yaml:"injector_max_retries" env:"FORGEKIT_SANDBOX_INJECTOR_MAX_RETRIES" default:"5"`
		AllowBreakaway     bool `json:"allow_breakaway"      yaml:"allow_breakaway"      env:"FORGEKIT_SANDBOX_ALLOW_BREAKAWAY"      default:"false"`
	} `json:"sandbox" yaml:"sandbox"`
}

type ConfigDetail struct {
	Key           string
	Description   string
	AllowedValues []string
}

// configDetails describes each configuration parameter as well as its valid
// values, used by `AllowedValues` and CLI help text.
var configDetails = []ConfigDetail{
	{
		Key:         "no_prompt",
		Description: "toggle interactive prompting in the terminal",
	},
	{
		Key:         "log.level",
		Description: "set the logging verbosity",
		AllowedValues: []string{
			"fatal", "error", "warn", "info", "debug", "trace",
		},
	},
	{
		Key:         "log.type",
		Description: "set the logging renderer",
		AllowedValues: []string{
			"quiet", "basic", "fancy", "json",
		},
	},
	{
		Key:         "log.timestamps",
		Description: "show timestamps with log output",
	},
	{
		Key:         "sandbox.double_write_policy",
		Description: "merge policy applied when a declared output already exists",
		AllowedValues: []string{
			"errors", "first-wins",
		},
	},
	{
		Key:         "sandbox.reader_strategy",
		Description: "async pipe reader implementation",
		AllowedValues: []string{
			"completion", "stream",
		},
	},
}

func ConfigDetails() []ConfigDetail {
	return configDetails
}

// NewDefaultConfig returns a Config seeded with its `default:"..."` tag
// values and platform-appropriate paths for anything left unset.
func NewDefaultConfig() (*Config, error) {
	c := &Config{}

	if err := setDefaults(c); err != nil {
		return nil, fmt.Errorf("could not set defaults for config: %s", err)
	}

	if len(c.Paths.DumpDir) == 0 {
		c.Paths.DumpDir = filepath.Join(StateDir(), "dumps")
	}

	if len(c.Paths.SidebandDir) == 0 {
		c.Paths.SidebandDir = filepath.Join(StateDir(), "sideband")
	}

	return c, nil
}

func setDefaults(s interface{}) error {
	return setDefaultValue(reflect.ValueOf(s), "")
}

func setDefaultValue(v reflect.Value, def string) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("not a pointer value")
	}

	v = reflect.Indirect(v)

	switch v.Kind() {
	case reflect.Int:
		if len(def) > 0 {
			i, err := strconv.ParseInt(def, 10, 64)
			if err != nil {
				return fmt.Errorf("could not parse default integer value: %s", err)
			}
			v.SetInt(i)
		}

	case reflect.String:
		if len(def) > 0 {
			v.SetString(def)
		}

	case reflect.Bool:
		if len(def) > 0 {
			b, err := strconv.ParseBool(def)
			if err != nil {
				return fmt.Errorf("could not parse default boolean value: %s", err)
			}
			v.SetBool(b)
		} else {
			// Assume false by default
			v.SetBool(false)
		}

	case reflect.Struct:
		// Iterate over the struct fields
		for i := 0; i < v.NumField(); i++ {
			// Use the `default:""` tag as a hint for the value to set
			if err := setDefaultValue(
				v.Field(i).Addr(),
				v.Type().Field(i).Tag.Get("default"),
			); err != nil {
				return err
			}
		}

	// TODO: Arrays? Maps?

	default:
		// Ignore this value and property entirely
		return nil
	}

	return nil
}

// Feeder populates a structure from some external source (environment,
// file, ...) and can optionally persist a structure back to it.
type Feeder interface {
	Feed(structure interface{}) error
	Write(structure interface{}, merge bool) error
}

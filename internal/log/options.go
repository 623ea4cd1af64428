/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"os"
	"strings"
)

// Options controls logger initialization.
// Values can be provided directly or via environment variables:
//   - VCL_LOG_LEVEL=debug|info|warn|error
//   - VCL_LOG_FORMAT=console|json
//   - VCL_LOG_FILE=<path> (enables rotated JSON file logging)
//   - VCL_LOG_SOURCE=true|false
//
// Defaults: INFO level, console format, no source, no file.
type Options struct {
	Level     string
	Format    string // "console" or "json"
	AddSource bool
	File      string

	// Rotation settings for File; zero values pick the defaults below.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FromEnv builds Options from environment variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("VCL_LOG_LEVEL", "info"),
		Format:    getenv("VCL_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("VCL_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("VCL_LOG_FILE"),
	}
}

func (o Options) normalized() Options {
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "console"
	}
	o.File = strings.TrimSpace(o.File)
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 28
	}
	return o
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

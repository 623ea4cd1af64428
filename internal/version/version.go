/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package version exposes build metadata injected via -ldflags.
package version

import "fmt"

// Version, Commit and Date are overridden at link time:
//
//	go build -ldflags "-X vocalis/internal/version.Version=1.2.0"
var (
	Version = "0.1.0-dev"
	Commit  = ""
	Date    = ""
)

// String returns a human-readable version line.
func String() string {
	s := Version
	if Commit != "" {
		s = fmt.Sprintf("%s (%s)", s, Commit)
	}
	if Date != "" {
		s = fmt.Sprintf("%s built %s", s, Date)
	}
	return s
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"vocalis/internal/config"
	"vocalis/internal/crash"
	applog "vocalis/internal/log"
)

// rootOptions holds global flags and state shared by all commands.
type rootOptions struct {
	verbose bool
	format  string // "text" | "json"

	cfg      config.AppConfig
	reporter *crash.Reporter
}

var validFormats = []string{"text", "json"}

func newRootCommand(rep *crash.Reporter) *cobra.Command {
	opts := &rootOptions{reporter: rep}

	cmd := &cobra.Command{
		Use:           "vocalis",
		Short:         "Vocalis - singing voice song editor core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			opts.cfg = cfg
			applog.Init(cfg.LogOptions())
			applog.WithComponent("cli").Debug("start", slog.String("cmd", cmd.CommandPath()))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

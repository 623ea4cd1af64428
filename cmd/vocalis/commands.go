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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vocalis/internal/app"
	"vocalis/internal/command"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/singer"
	"vocalis/internal/storage"
	"vocalis/internal/validate"
	"vocalis/internal/version"
)

// errIssuesFound makes validate exit non-zero without printing a second error.
var errIssuesFound = errors.New("validation issues found")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func absDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "vocalis", version.String())
			return err
		},
	}
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a new song project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := absDir(args[0])
			if name == "" {
				name = filepath.Base(root)
			}
			l := applog.WithComponent("cli")
			l.Info("init project", slog.String("root", root), slog.String("name", name))
			if _, err := storage.InitProject(root, domain.NewProject(name)); err != nil {
				l.Error("init failed", slog.Any("err", err))
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Created project at", root)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "song name (defaults to the directory name)")
	return cmd
}

// projectInfo is the info command's report.
type projectInfo struct {
	Name      string   `json:"name"`
	Root      string   `json:"root"`
	Recovered bool     `json:"recovered,omitempty"`
	Tracks    int      `json:"tracks"`
	Parts     int      `json:"parts"`
	Notes     int      `json:"notes"`
	BPM       float64  `json:"bpm"`
	Length    string   `json:"length"`
	Singers   []string `json:"singers"`
}

func newInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <dir>",
		Short: "Print a project summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := absDir(args[0])
			ph, err := storage.Open(root)
			if err != nil {
				return err
			}
			p := ph.Project
			info := projectInfo{
				Name:      p.Name,
				Root:      ph.Root,
				Recovered: ph.Recovered,
				Tracks:    len(p.Tracks),
				Parts:     len(p.Parts),
				Length:    p.TickToDuration(p.EndTick()).String(),
				Singers:   []string{},
			}
			for _, part := range p.Parts {
				info.Notes += len(part.Notes)
			}
			if len(p.Tempos) > 0 {
				info.BPM = p.Tempos[0].BPM
			}
			reg := singer.NewRegistry(filepath.Join(root, storage.SingersDirName))
			if err := reg.Scan(cmd.Context()); err != nil {
				applog.WithComponent("cli").Warn("voicebank scan incomplete", slog.Any("err", err))
			}
			info.Singers = append(info.Singers, reg.IDs()...)

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "Project: %s\n", info.Name)
			fmt.Fprintf(out, "Root:    %s\n", info.Root)
			if info.Recovered {
				fmt.Fprintln(out, "Loaded from backup: manifest was unreadable")
			}
			fmt.Fprintf(out, "Tracks: %d  Parts: %d  Notes: %d\n", info.Tracks, info.Parts, info.Notes)
			fmt.Fprintf(out, "Tempo:  %.2f BPM  Length: %s\n", info.BPM, info.Length)
			fmt.Fprintf(out, "Singers: %s\n", strings.Join(info.Singers, ", "))
			return nil
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check notes for overlaps, empty lyrics and phonemizer errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ph, err := storage.Open(absDir(args[0]))
			if err != nil {
				return err
			}
			validate.New(nil).Validate(ph.Project, command.ProjectScope())
			issues := validate.Issues(ph.Project)

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				if issues == nil {
					issues = []validate.Issue{}
				}
				if err := writeJSON(out, issues); err != nil {
					return err
				}
			} else {
				for _, is := range issues {
					fmt.Fprintf(out, "part %s note %s @%d: %s\n", is.PartID, is.NoteID, is.Tick, is.Message)
				}
				if len(issues) == 0 {
					fmt.Fprintln(out, "OK")
				}
			}
			if len(issues) > 0 {
				return fmt.Errorf("%w: %d", errIssuesFound, len(issues))
			}
			return nil
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		out    string
		tracks bool
	)
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Render the song to WAV (mixdown or one file per track)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := absDir(args[0])
			cfg := opts.cfg
			cfg.Reload.Watch = false
			cfg.Autosave.IntervalS = 0
			cfg.Render.PreRender = false

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := app.Open(ctx, root, app.Options{Config: cfg})
			if err != nil {
				return err
			}
			defer s.Close()
			opts.reporter.Root = root
			opts.reporter.Doc = s.Engine()

			if tracks {
				dir := out
				if dir == "" {
					dir = filepath.Join(root, storage.ExportsDirName)
				}
				files, err := s.ExportTracks(ctx, dir)
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), "Wrote", f)
				}
				return err
			}
			path := out
			if path == "" {
				path = filepath.Join(root, storage.ExportsDirName, "mixdown.wav")
			}
			if err := s.ExportMixdown(ctx, path); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (mixdown) or directory (--tracks)")
	cmd.Flags().BoolVar(&tracks, "tracks", false, "write one file per track")
	return cmd
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns panics into a report file plus a crash snapshot of the
// open document so that the next session can offer recovery.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/storage"
	"vocalis/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Snapshotter returns a deep copy of the current document.
type Snapshotter interface {
	Snapshot() *domain.Project
}

// Reporter writes crash reports for the project at Root. Root may be empty for
// unsaved documents; reports then go to the temp dir and no snapshot is written.
type Reporter struct {
	Root string
	Doc  Snapshotter
}

// Recover captures a panic, logs an error with stacktrace, writes an error
// report file and a crash snapshot, then exits with code 2.
//
// Usage: defer crash.Recover(reporter)
func Recover(rep *Reporter) {
	if r := recover(); r != nil {
		reportPath := rep.Handle(r, debug.Stack())
		l := applog.WithComponent("crash")
		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		exitFn(2)
	}
}

// Handle records a recovered panic without exiting and returns the report path.
// Its signature matches undo.Config.OnPanic.
func (rep *Reporter) Handle(panicVal any, stack []byte) string {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", panicVal), slog.String("stack", string(stack)))
	if rep == nil {
		rep = &Reporter{}
	}
	reportPath, err := rep.writeReport(panicVal, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if rep.Root != "" && rep.Doc != nil {
		if path, err := storage.WriteCrashSnapshot(rep.Root, rep.Doc.Snapshot()); err != nil {
			l.Error("crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("crash snapshot written", slog.String("path", path))
		}
	}
	return reportPath
}

// OnPanic adapts Handle to the undo engine hook.
func (rep *Reporter) OnPanic(panicVal any, stack []byte) { rep.Handle(panicVal, stack) }

func (rep *Reporter) writeReport(panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if rep.Root != "" {
		dir = filepath.Join(rep.Root, storage.BackupsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Vocalis Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if rep.Root != "" {
		_, _ = fmt.Fprintf(&buf, "ProjectRoot: %s\n", rep.Root)
		_, _ = fmt.Fprintf(&buf, "Manifest: %s\n", filepath.Join(rep.Root, storage.ManifestFileName))
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()
	return path, nil
}

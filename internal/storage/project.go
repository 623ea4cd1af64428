/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vocalis/internal/domain"
	applog "vocalis/internal/log"
)

const (
	ManifestFileName = "song.json"
	AutosaveFileName = "song.autosave.json"
	CrashFileName    = "song.crash.json"
	BackupsDirName   = "backups"
	ExportsDirName   = "exports"
	SingersDirName   = "singers"

	// DefaultKeepBackups bounds the number of timestamped manifest backups.
	DefaultKeepBackups = 20
)

// Standard subfolders of a song project.
var standardSubDirs = []string{
	SingersDirName,
	ExportsDirName,
	BackupsDirName,
}

// ProjectHandle keeps track of the project state loaded/saved from disk.
// Root is the project directory containing song.json and subfolders.
type ProjectHandle struct {
	Root         string
	ManifestPath string
	Project      *domain.Project

	// Recovered is set by Open when the manifest could not be used and the
	// document came from the latest backup.
	Recovered bool
}

// InitProject creates a new project directory at root (creating it if it doesn't exist),
// scaffolds the standard subfolders, and writes the given manifest file transactionally.
func InitProject(root string, proj *domain.Project) (*ProjectHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if proj == nil {
		return nil, errors.New("project is required")
	}
	if err := scaffold(root); err != nil {
		return nil, err
	}
	ph := &ProjectHandle{
		Root:         root,
		ManifestPath: filepath.Join(root, ManifestFileName),
		Project:      proj,
	}
	if err := Save(ph); err != nil {
		return nil, err
	}
	return ph, nil
}

func scaffold(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create project root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	return nil
}

// Open loads an existing project from the given root directory.
// The manifest is checked against the embedded schema. If it cannot be read,
// parsed or validated, the latest backup is tried instead.
func Open(root string) (*ProjectHandle, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(slog.String("root", root))
	mpath := filepath.Join(root, ManifestFileName)
	p, err := readManifest(mpath)
	if err == nil {
		return &ProjectHandle{Root: root, ManifestPath: mpath, Project: p}, nil
	}
	l.Warn("manifest unusable; trying latest backup", slog.Any("err", err))
	bp, berr := openFromLatestBackup(root)
	if berr != nil {
		return nil, fmt.Errorf("open manifest: %w; backup attempt: %v", err, berr)
	}
	l.Info("recovered project from backup", slog.String("name", bp.Name))
	return &ProjectHandle{Root: root, ManifestPath: mpath, Project: bp, Recovered: true}, nil
}

// readManifest reads, validates and decodes a manifest-shaped file.
func readManifest(path string) (*domain.Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateManifest(b); err != nil {
		return nil, err
	}
	var p domain.Project
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if p.Parts == nil {
		p.Parts = []domain.VoicePart{}
	}
	return &p, nil
}

// Save writes the current ProjectHandle.Project to disk with transactional semantics
// and a timestamped backup of the previous manifest (if present).
func Save(ph *ProjectHandle) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	if ph.Root == "" || ph.ManifestPath == "" {
		return errors.New("invalid ProjectHandle: missing paths")
	}
	if ph.Project == nil {
		return errors.New("invalid ProjectHandle: no project")
	}
	data, err := marshalProject(ph.Project)
	if err != nil {
		return err
	}

	bdir := filepath.Join(ph.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	// Copy the current manifest to a timestamped backup before replacing it.
	if _, statErr := os.Stat(ph.ManifestPath); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bname := fmt.Sprintf("%s.%s.bak", ManifestFileName, stamp)
		if cerr := copyFile(ph.ManifestPath, filepath.Join(bdir, bname)); cerr != nil {
			return fmt.Errorf("backup current manifest: %w", cerr)
		}
		if _, perr := PruneBackups(ph.Root, DefaultKeepBackups); perr != nil {
			applog.WithComponent("storage").Warn("prune backups failed", slog.Any("err", perr))
		}
	}
	if err := replaceFile(ph.ManifestPath, data); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	// A successful save supersedes any autosave.
	_ = os.Remove(filepath.Join(ph.Root, AutosaveFileName))
	return nil
}

// SaveAs writes the manifest to a new root folder, scaffolding structure if needed, and updates the handle.
func SaveAs(ph *ProjectHandle, newRoot string) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	if err := scaffold(newRoot); err != nil {
		return err
	}
	ph.Root = newRoot
	ph.ManifestPath = filepath.Join(newRoot, ManifestFileName)
	return Save(ph)
}

// WriteAutosave stores p next to the manifest without touching it or its backups.
func WriteAutosave(root string, p *domain.Project) (string, error) {
	return writeSidecar(root, AutosaveFileName, p)
}

// WriteCrashSnapshot stores p as the crash snapshot of the project at root.
func WriteCrashSnapshot(root string, p *domain.Project) (string, error) {
	return writeSidecar(root, CrashFileName, p)
}

func writeSidecar(root, name string, p *domain.Project) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("root path is required")
	}
	if p == nil {
		return "", errors.New("project is required")
	}
	data, err := marshalProject(p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, name)
	if err := replaceFile(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Recovery describes a sidecar document newer than the manifest.
type Recovery struct {
	Path    string
	ModTime time.Time
	Project *domain.Project
}

// FindRecovery returns the newest of the crash snapshot and the autosave when it
// is newer than the manifest. It returns nil when there is nothing to recover.
func FindRecovery(root string) (*Recovery, error) {
	var base time.Time
	if fi, err := os.Stat(filepath.Join(root, ManifestFileName)); err == nil {
		base = fi.ModTime()
	}
	var best *Recovery
	for _, name := range []string{CrashFileName, AutosaveFileName} {
		path := filepath.Join(root, name)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !fi.ModTime().After(base) || (best != nil && !fi.ModTime().After(best.ModTime)) {
			continue
		}
		p, err := readManifest(path)
		if err != nil {
			applog.WithComponent("storage").Warn("ignoring unreadable recovery file", slog.String("path", path), slog.Any("err", err))
			continue
		}
		best = &Recovery{Path: path, ModTime: fi.ModTime(), Project: p}
	}
	return best, nil
}

// DiscardRecovery removes autosave and crash snapshot files.
func DiscardRecovery(root string) error {
	var errs []error
	for _, name := range []string{CrashFileName, AutosaveFileName} {
		if err := os.Remove(filepath.Join(root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PruneBackups keeps the newest keep manifest backups and deletes the rest.
// It returns the number of removed files.
func PruneBackups(root string, keep int) (int, error) {
	backups, err := listBackups(root)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(backups) <= keep {
		return 0, nil
	}
	var removed int
	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// listBackups returns backup paths oldest first.
func listBackups(root string) ([]string, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ManifestFileName+".") && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	sort.Strings(candidates) // timestamp in name yields lexicographic order
	return candidates, nil
}

func marshalProject(p *domain.Project) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// replaceFile writes data to a temp file in the same directory and renames it over path.
func replaceFile(path string, data []byte) error {
	dir, base := filepath.Split(path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", base, os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return err
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return err
	}
	return nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup walks backups newest first and returns the first valid one.
func openFromLatestBackup(root string) (*domain.Project, error) {
	candidates, err := listBackups(root)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	var last error
	for i := len(candidates) - 1; i >= 0; i-- {
		p, err := readManifest(candidates[i])
		if err == nil {
			return p, nil
		}
		last = err
	}
	return nil, fmt.Errorf("no usable backup: %w", last)
}

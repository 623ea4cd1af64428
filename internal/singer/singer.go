/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package singer loads voicebanks from disk. A voicebank is a directory holding
// a character.yaml file plus audio data; its directory name is the asset id
// referenced by tracks.
package singer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MetaFileName is the voicebank descriptor inside each voicebank directory.
	MetaFileName = "character.yaml"

	// MaxMetaFileSize bounds character.yaml reads.
	MaxMetaFileSize = 1 << 20
)

var (
	ErrNotFound    = errors.New("singer not found")
	ErrInvalidMeta = errors.New("invalid character.yaml")
	ErrInUse       = errors.New("singer in use")
)

// Meta mirrors character.yaml.
type Meta struct {
	Name       string            `yaml:"name"`
	Author     string            `yaml:"author,omitempty"`
	Web        string            `yaml:"web,omitempty"`
	Version    string            `yaml:"version,omitempty"`
	Image      string            `yaml:"image,omitempty"`
	Phonemizer string            `yaml:"default_phonemizer,omitempty"`
	Subbanks   []Subbank         `yaml:"subbanks,omitempty"`
	Extra      map[string]string `yaml:"extra,omitempty"`
}

// Subbank selects a sample folder for a tone range, e.g. "C4-B4".
type Subbank struct {
	Color  string `yaml:"color,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty"`
	Tones  string `yaml:"tones,omitempty"`
}

// Voicebank is a loaded singer.
type Voicebank struct {
	ID       string
	Dir      string
	Meta     Meta
	Samples  int
	LoadedAt time.Time
}

// Loader reads voicebank directories.
type Loader struct {
	// SampleExts are counted as samples. Defaults to .wav.
	SampleExts []string
}

// Load reads dir/character.yaml and counts the samples below dir.
// The asset id is the directory's base name.
func (l Loader) Load(dir string) (*Voicebank, error) {
	meta, err := readMeta(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, err
	}
	n, err := l.countSamples(dir)
	if err != nil {
		return nil, fmt.Errorf("scan samples: %w", err)
	}
	return &Voicebank{
		ID:       filepath.Base(dir),
		Dir:      dir,
		Meta:     *meta,
		Samples:  n,
		LoadedAt: time.Now(),
	}, nil
}

func readMeta(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, MaxMetaFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(b) > MaxMetaFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidMeta, path, MaxMetaFileSize)
	}
	var m Meta
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMeta)
	}
	return &m, nil
}

func (l Loader) countSamples(dir string) (int, error) {
	exts := l.SampleExts
	if len(exts) == 0 {
		exts = []string{".wav"}
	}
	var n int
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		for _, e := range exts {
			if ext == e {
				n++
				break
			}
		}
		return nil
	})
	return n, err
}

// WriteMeta writes m as dir/character.yaml.
func WriteMeta(dir string, m Meta) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal character.yaml: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetaFileName), b, 0o644)
}

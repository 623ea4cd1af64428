/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package phonemizer converts note lyrics into phoneme sequences. Implementations
// are registered explicitly on a Factory.
package phonemizer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"vocalis/internal/domain"
)

var (
	ErrUnknown   = errors.New("unknown phonemizer")
	ErrDuplicate = errors.New("phonemizer already registered")
	ErrNoLyric   = errors.New("note has no lyric")
)

// Phonemizer turns one note's lyric into phonemes. prev and next are the
// neighbouring notes in the same part, or nil.
type Phonemizer interface {
	ID() string
	Phonemize(note domain.Note, prev, next *domain.Note) ([]domain.Phoneme, error)
}

// Constructor creates a fresh phonemizer instance.
type Constructor func() Phonemizer

// Factory maps phonemizer ids to constructors. It is safe for concurrent use.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// NewBuiltinFactory returns a factory with the built-in phonemizers registered.
func NewBuiltinFactory() *Factory {
	f := NewFactory()
	_ = f.Register(DefaultID, func() Phonemizer { return Passthrough{} })
	_ = f.Register(SyllableID, func() Phonemizer { return Syllable{} })
	return f
}

// Register adds ctor under id.
func (f *Factory) Register(id string, ctor Constructor) error {
	if id == "" || ctor == nil {
		return fmt.Errorf("register phonemizer %q: empty id or constructor", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ctors[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	f.ctors[id] = ctor
	return nil
}

// Create instantiates the phonemizer registered under id. An empty id selects DefaultID.
func (f *Factory) Create(id string) (Phonemizer, error) {
	if id == "" {
		id = DefaultID
	}
	f.mu.RLock()
	ctor, ok := f.ctors[id]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return ctor(), nil
}

// IDs lists registered ids in sorted order.
func (f *Factory) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.ctors))
	for id := range f.ctors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

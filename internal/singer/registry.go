/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package singer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	applog "vocalis/internal/log"
	"vocalis/internal/reload"
)

// Guard vetoes an uninstall after the singer was detached in memory.
type Guard func(id string) error

// Option configures a Registry.
type Option func(*Registry)

// WithGuard installs a check run during phase one of Uninstall.
func WithGuard(g Guard) Option { return func(r *Registry) { r.guard = g } }

// WithLoader replaces the default loader.
func WithLoader(l Loader) Option { return func(r *Registry) { r.loader = l } }

// Registry holds the voicebanks installed below a root directory.
// It implements reload.Store.
type Registry struct {
	root   string
	loader Loader
	guard  Guard
	remove func(string) error
	log    *slog.Logger

	mu    sync.RWMutex
	banks map[string]*Voicebank
}

func NewRegistry(root string, opts ...Option) *Registry {
	r := &Registry{
		root:   root,
		remove: os.RemoveAll,
		log:    applog.WithComponent("singer").With(slog.String("root", root)),
		banks:  make(map[string]*Voicebank),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Root returns the directory scanned for voicebanks.
func (r *Registry) Root() string { return r.root }

// Scan loads every voicebank directory below the root, replacing the current set.
// Broken voicebanks are skipped and reported in the joined error.
func (r *Registry) Scan(ctx context.Context) error {
	ents, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.mu.Lock()
			r.banks = make(map[string]*Voicebank)
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read singers dir: %w", err)
	}
	banks := make(map[string]*Voicebank, len(ents))
	var errs []error
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		vb, err := r.loader.Load(filepath.Join(r.root, e.Name()))
		if err != nil {
			r.log.Warn("skipping voicebank", slog.String("id", e.Name()), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		banks[vb.ID] = vb
	}
	r.mu.Lock()
	r.banks = banks
	r.mu.Unlock()
	r.log.Info("voicebanks scanned", slog.Int("count", len(banks)))
	return errors.Join(errs...)
}

// Get returns a copy of the voicebank with the given id.
func (r *Registry) Get(id string) (Voicebank, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vb, ok := r.banks[id]
	if !ok {
		return Voicebank{}, false
	}
	return *vb, true
}

// IDs returns the installed asset ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.banks))
	for id := range r.banks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Reload re-reads one voicebank. A removed directory drops the singer.
// Malformed metadata is permanent; a missing character.yaml in an existing
// directory is treated as a copy in progress and may be retried.
func (r *Registry) Reload(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := applog.WithOperation(r.log, "reload").With(slog.String("id", id))
	dir := filepath.Join(r.root, id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		r.mu.Lock()
		_, had := r.banks[id]
		delete(r.banks, id)
		r.mu.Unlock()
		if had {
			l.Info("voicebank removed")
		}
		return nil
	}
	vb, err := r.loader.Load(dir)
	if err != nil {
		if errors.Is(err, ErrInvalidMeta) {
			return fmt.Errorf("%w: %w", reload.ErrPermanent, err)
		}
		return err
	}
	r.mu.Lock()
	r.banks[id] = vb
	r.mu.Unlock()
	l.Info("voicebank loaded", slog.String("name", vb.Meta.Name), slog.Int("samples", vb.Samples))
	return nil
}

// Uninstall removes a voicebank in two phases. Phase one detaches it in
// memory and runs the guard; a guard error restores it. Phase two deletes
// the directory; a failure there cannot be undone and is returned as is.
func (r *Registry) Uninstall(id string) error {
	l := applog.WithOperation(r.log, "uninstall").With(slog.String("id", id))

	r.mu.Lock()
	vb, ok := r.banks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.banks, id)
	r.mu.Unlock()

	if r.guard != nil {
		if err := r.guard(id); err != nil {
			r.mu.Lock()
			r.banks[id] = vb
			r.mu.Unlock()
			l.Warn("uninstall rolled back", slog.Any("err", err))
			return fmt.Errorf("uninstall %s: %w", id, err)
		}
	}

	if err := r.remove(vb.Dir); err != nil {
		l.Error("delete voicebank failed, rollback impossible", slog.String("dir", vb.Dir), slog.Any("err", err))
		return fmt.Errorf("delete voicebank %s: %w", id, err)
	}
	l.Info("voicebank uninstalled")
	return nil
}

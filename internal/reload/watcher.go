/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	applog "vocalis/internal/log"
)

// Enqueuer receives asset ids whose files changed.
type Enqueuer interface {
	Enqueue(assetID string)
}

// Watcher maps file changes below root to asset ids. Each direct subdirectory of
// root is one asset; its name is the asset id.
type Watcher struct {
	root    string
	target  Enqueuer
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(root string, target Enqueuer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{root: filepath.Clean(root), target: target, watcher: fw, log: applog.WithComponent("reload.watch")}, nil
}

// Start watches root and its asset directories until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("watcher already started")
	}
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.root, err)
	}
	for _, e := range entries {
		if e.IsDir() && !ignored(e.Name()) {
			w.addAsset(filepath.Join(w.root, e.Name()))
		}
	}
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) addAsset(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.log.Warn("cannot watch asset directory", slog.String("dir", dir), slog.Any("err", err))
	}
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp")
}

// assetOf returns the asset id for path, or "" when path is not inside an asset.
func (w *Watcher) assetOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if ignored(first) || ignored(filepath.Base(path)) {
		return ""
	}
	return first
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", slog.Any("err", err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	id := w.assetOf(ev.Name)
	if id == "" {
		return
	}
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.root {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addAsset(ev.Name)
		}
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.log.Debug("asset changed", slog.String("asset", id), slog.String("op", ev.Op.String()))
		w.target.Enqueue(id)
	}
}

// Close stops watching and waits for the event loop.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			close(w.done)
		}
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

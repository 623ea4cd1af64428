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
	"context"
	"errors"
	"log/slog"
	"time"

	"vocalis/internal/command"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/metrics"
	"vocalis/internal/undo"
)

// DefaultAutosaveInterval is used when no interval is configured.
const DefaultAutosaveInterval = 60 * time.Second

// AutosaveSource is the part of undo.Engine the Autosaver needs.
type AutosaveSource interface {
	IsAutosaveDirty() bool
	Revision() uint64
	Do(ctx context.Context, fn func(tx *undo.Tx) error) error
}

// Autosaver periodically writes the document to the autosave sidecar when it
// changed since the last autosave, then posts an AutosaveNotification.
type Autosaver struct {
	src      AutosaveSource
	root     string
	interval time.Duration
	log      *slog.Logger
}

func NewAutosaver(src AutosaveSource, root string, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &Autosaver{
		src:      src,
		root:     root,
		interval: interval,
		log:      applog.WithComponent("autosave").With(slog.String("root", root)),
	}
}

// Run saves on every tick until ctx is done.
func (a *Autosaver) Run(ctx context.Context) error {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := a.SaveNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("autosave failed", slog.Any("err", err))
			}
		}
	}
}

// SaveNow writes the autosave file if the document is autosave-dirty.
// It reports whether a file was written. The revision is only marked as
// autosaved when no edit landed while the file was being written.
func (a *Autosaver) SaveNow(ctx context.Context) (bool, error) {
	if !a.src.IsAutosaveDirty() {
		return false, nil
	}
	var (
		snap *domain.Project
		rev  uint64
	)
	if err := a.src.Do(ctx, func(tx *undo.Tx) error {
		snap = tx.Project().Clone()
		rev = a.src.Revision()
		return nil
	}); err != nil {
		return false, err
	}
	path, err := WriteAutosave(a.root, snap)
	metrics.ObserveAutosave(err)
	if err != nil {
		return false, err
	}
	err = a.src.Do(ctx, func(tx *undo.Tx) error {
		if a.src.Revision() != rev {
			a.log.Debug("document changed during autosave; staying dirty")
			return nil
		}
		return tx.Execute(command.AutosaveNotification{Path: path})
	})
	if err != nil {
		return true, err
	}
	a.log.Debug("autosaved", slog.String("path", path), slog.Uint64("rev", rev))
	return true, nil
}

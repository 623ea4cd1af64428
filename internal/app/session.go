/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package app wires the document engine and its background services into a
// Session. There are no package-level singletons: every collaborator hangs off
// the Session and is released by Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vocalis/internal/command"
	"vocalis/internal/config"
	"vocalis/internal/crash"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/metrics"
	"vocalis/internal/notify"
	"vocalis/internal/phonemizer"
	"vocalis/internal/playback"
	"vocalis/internal/reload"
	"vocalis/internal/render"
	"vocalis/internal/singer"
	"vocalis/internal/storage"
	"vocalis/internal/undo"
	"vocalis/internal/validate"
)

// ErrNoProjectRoot is returned by Save for documents that were never saved to disk.
var ErrNoProjectRoot = errors.New("project has no root directory")

// Options customize a Session. Zero values select the defaults.
type Options struct {
	Config config.AppConfig
	// Output receives interactive renders. Defaults to a NullOutput.
	Output playback.Output
	// Engine synthesizes audio. Defaults to a ToneEngine backed by the project render cache.
	Engine render.Engine
	// Phonemizers used by validation. Defaults to the built-in set.
	Phonemizers *phonemizer.Factory
	// Recover replaces the manifest with a newer autosave or crash snapshot on Open.
	Recover bool
}

// Session is one open song with its engine, bus and background services.
type Session struct {
	cfg    config.AppConfig
	handle *storage.ProjectHandle
	log    *slog.Logger

	bus       *notify.Bus
	engine    *undo.Engine
	scheduler *render.Scheduler
	singers   *singer.Registry
	queue     *reload.Queue
	watcher   *reload.Watcher
	player    *playback.Controller
	autosaver *storage.Autosaver
	cache     *storage.RenderCache
	reporter  *crash.Reporter

	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// Open loads the project at root and starts a session for it.
func Open(ctx context.Context, root string, opts Options) (*Session, error) {
	ph, err := storage.Open(root)
	if err != nil {
		return nil, err
	}
	if opts.Recover {
		rec, err := storage.FindRecovery(root)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			applog.WithComponent("app").Info("recovering unsaved changes", slog.String("path", rec.Path), slog.Time("modified", rec.ModTime))
			ph.Project = rec.Project
		}
	}
	return start(ctx, ph, opts)
}

// New starts a session for doc. An empty root keeps the document in memory only:
// no render cache, autosave or voicebank watching.
func New(ctx context.Context, root string, doc *domain.Project, opts Options) (*Session, error) {
	if doc == nil {
		return nil, errors.New("document is required")
	}
	var ph *storage.ProjectHandle
	if root != "" {
		ph = &storage.ProjectHandle{Root: root, ManifestPath: filepath.Join(root, storage.ManifestFileName), Project: doc}
	} else {
		ph = &storage.ProjectHandle{Project: doc}
	}
	return start(ctx, ph, opts)
}

func start(ctx context.Context, ph *storage.ProjectHandle, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg.ConfigVersion == 0 {
		cfg = config.Defaults()
	}
	s := &Session{
		cfg:      cfg,
		handle:   ph,
		log:      applog.WithComponent("app").With(slog.String("root", ph.Root)),
		reporter: &crash.Reporter{Root: ph.Root},
	}

	s.bus = notify.NewBus(notify.WithPanicHandler(func(notify.Listener, command.Command, any) {
		metrics.ListenerPanic()
	}))
	factory := opts.Phonemizers
	if factory == nil {
		factory = phonemizer.NewBuiltinFactory()
	}
	s.engine = undo.New(undo.Config{
		UndoLimit:   cfg.Engine.UndoLimit,
		MailboxSize: cfg.Engine.MailboxSize,
		Validator:   validate.New(factory),
		OnPanic:     s.reporter.OnPanic,
	}, ph.Project, s.bus)
	s.reporter.Doc = s.engine

	eng := opts.Engine
	if eng == nil {
		var cache render.Cache
		if ph.Root != "" {
			c, err := storage.OpenRenderCache(ph.Root, cfg.Render.CacheMaxBytes)
			if err != nil {
				s.log.Warn("render cache unavailable; rendering uncached", slog.Any("err", err))
			} else {
				s.cache = c
				cache = c
			}
		}
		eng = render.NewToneEngine(cfg.Render.SampleRate, cache)
	}
	s.scheduler = render.NewScheduler(eng, s.engine, s.engine, render.Options{
		PreRender:     cfg.Render.PreRender,
		ExportWorkers: cfg.Render.ExportWorkers,
	})

	out := opts.Output
	if out == nil {
		out = playback.NewNullOutput()
	}
	s.player = playback.NewController(out, s.engine)

	singersDir := ""
	if ph.Root != "" {
		singersDir = filepath.Join(ph.Root, storage.SingersDirName)
	}
	s.singers = singer.NewRegistry(singersDir, singer.WithGuard(s.singerUnused))
	s.queue = reload.NewQueue(s.singers, s.engine, reload.Options{
		Debounce: cfg.Reload.Debounce(),
		Attempts: cfg.Reload.Retries,
		Backoff:  cfg.Reload.Backoff(),
	})

	s.bus.Subscribe(metrics.NewListener(s.engine))
	s.bus.Subscribe(notify.ListenerFunc(s.onNotify))
	s.bus.Subscribe(s.scheduler)
	s.bus.Subscribe(s.player)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	s.g = g
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error {
		s.player.Follow(gctx, 50*time.Millisecond, s.engine)
		return nil
	})

	if ph.Root != "" {
		if err := s.singers.Scan(ctx); err != nil {
			s.log.Warn("some voicebanks failed to load", slog.Any("err", err))
		}
		if iv := cfg.Autosave.Interval(); iv > 0 {
			s.autosaver = storage.NewAutosaver(s.engine, ph.Root, iv)
			g.Go(func() error { return s.autosaver.Run(gctx) })
		}
		if cfg.Reload.Watch {
			if err := s.startWatcher(gctx, singersDir); err != nil {
				s.log.Warn("voicebank watching disabled", slog.Any("err", err))
			}
		}
	}

	// Derive phonemes and note errors for the loaded document.
	s.engine.Execute(command.LoadProjectNotification{Project: ph.Project, Path: ph.ManifestPath})
	s.log.Info("session started", slog.String("name", ph.Project.Name))
	return s, nil
}

func (s *Session) startWatcher(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := reload.NewWatcher(dir, s.queue)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w
	return nil
}

// onNotify handles session-level side effects on the owner goroutine.
func (s *Session) onNotify(cmd command.Command, _ bool) {
	switch n := cmd.(type) {
	case command.ErrorNotification:
		s.log.Warn(n.Message, slog.Any("err", n.Err))
	case command.SingerChangedNotification:
		if s.cache == nil {
			return
		}
		// Cached parts may have been rendered with the old voicebank.
		if err := s.cache.Clear(context.Background()); err != nil {
			s.log.Warn("clear render cache failed", slog.Any("err", err))
		}
	}
}

// singerUnused vetoes uninstalling a voicebank that a track still uses.
func (s *Session) singerUnused(id string) error {
	var users []string
	s.engine.View(func(p *domain.Project) {
		for _, t := range p.Tracks {
			if t.Singer == id {
				users = append(users, t.Name)
			}
		}
	})
	if len(users) > 0 {
		return fmt.Errorf("%w: used by %v", singer.ErrInUse, users)
	}
	return nil
}

func (s *Session) Engine() *undo.Engine { return s.engine }
func (s *Session) Bus() *notify.Bus { return s.bus }
func (s *Session) Scheduler() *render.Scheduler { return s.scheduler }
func (s *Session) Singers() *singer.Registry { return s.singers }
func (s *Session) Playback() *playback.Controller { return s.player }
func (s *Session) Queue() *reload.Queue { return s.queue }
func (s *Session) Root() string { return s.handle.Root }
func (s *Session) Config() config.AppConfig { return s.cfg }

// Save writes the manifest and marks the saved revision clean. Edits that land
// while the file is written keep the document dirty.
func (s *Session) Save(ctx context.Context) error {
	if s.handle.Root == "" {
		return ErrNoProjectRoot
	}
	var rev uint64
	if err := s.engine.Do(ctx, func(tx *undo.Tx) error {
		s.handle.Project = tx.Project().Clone()
		rev = s.engine.Revision()
		return nil
	}); err != nil {
		return err
	}
	if err := storage.Save(s.handle); err != nil {
		s.engine.Execute(command.NewErrorNotification("Failed to save project", err))
		return err
	}
	return s.engine.Do(ctx, func(tx *undo.Tx) error {
		if s.engine.Revision() != rev {
			return nil
		}
		return tx.Execute(command.SaveNotification{Path: s.handle.ManifestPath})
	})
}

// SaveAs writes the project under a new root. Services bound to the old root
// (cache, autosave, watcher) keep running until the session is reopened.
func (s *Session) SaveAs(ctx context.Context, root string) error {
	if root == "" {
		return ErrNoProjectRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	s.handle.Root = root
	s.handle.ManifestPath = filepath.Join(root, storage.ManifestFileName)
	s.reporter.Root = root
	return s.Save(ctx)
}

// Revert reloads the manifest from disk, dropping history.
func (s *Session) Revert() error {
	if s.handle.Root == "" {
		return ErrNoProjectRoot
	}
	ph, err := storage.Open(s.handle.Root)
	if err != nil {
		return err
	}
	s.engine.Execute(command.LoadProjectNotification{Project: ph.Project, Path: ph.ManifestPath})
	return nil
}

// Play renders from the play cursor; playback starts when the render completes.
// A newer render request supersedes it.
func (s *Session) Play() { s.scheduler.Play() }

// Stop halts playback.
func (s *Session) Stop() { s.player.Stop() }

// UninstallSinger removes a voicebank that no track uses and revalidates.
func (s *Session) UninstallSinger(id string) error {
	if err := s.singers.Uninstall(id); err != nil {
		if !errors.Is(err, singer.ErrInUse) && !errors.Is(err, singer.ErrNotFound) {
			s.engine.Execute(command.NewErrorNotification("Failed to uninstall voicebank "+id, err))
		}
		return err
	}
	s.engine.Execute(command.SingerChangedNotification{AssetID: id, PreRender: true})
	return nil
}

// ExportMixdown renders the whole song into one WAV file.
func (s *Session) ExportMixdown(ctx context.Context, path string) error {
	return s.scheduler.ExportMixdown(ctx, render.MixdownScope(), path)
}

// ExportTracks renders one WAV file per track into dir.
func (s *Session) ExportTracks(ctx context.Context, dir string) ([]string, error) {
	return s.scheduler.ExportTracks(ctx, render.TrackExportScope(), dir)
}

// Issues returns validation problems of the current document.
func (s *Session) Issues(ctx context.Context) ([]validate.Issue, error) {
	var out []validate.Issue
	err := s.engine.Do(ctx, func(tx *undo.Tx) error {
		out = validate.Issues(tx.Project())
		return nil
	})
	return out, err
}

// Close stops background services, writes a final autosave when there are
// unsaved changes and stops the engine. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.watcher != nil {
			errs = append(errs, s.watcher.Close())
		}
		s.queue.Close()
		s.scheduler.Close()
		s.player.Stop()
		if s.autosaver != nil && s.engine.IsDirty() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.autosaver.SaveNow(ctx); err != nil {
				errs = append(errs, fmt.Errorf("final autosave: %w", err))
			}
			cancel()
		}
		s.cancel()
		if err := s.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		if s.cache != nil {
			errs = append(errs, s.cache.Close())
		}
		s.closeErr = errors.Join(errs...)
		s.log.Info("session closed")
	})
	return s.closeErr
}

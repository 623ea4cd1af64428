/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vocalis/internal/cancel"
	"vocalis/internal/command"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/metrics"
)

var ErrClosed = errors.New("render scheduler closed")

// Document is the read side of the undo engine the scheduler snapshots from.
type Document interface {
	Snapshot() *domain.Project
}

// Executor delivers notifications to the owner goroutine.
type Executor interface {
	Execute(cmd command.Command)
}

// Options tune the scheduler.
type Options struct {
	// PreRender enables warm-up renders on PreRenderNotification.
	PreRender bool
	// ExportWorkers bounds parallel per-track file writes. Defaults to 4.
	ExportWorkers int
}

// Scheduler owns the current interactive/pre-render job and runs exports.
type Scheduler struct {
	engine Engine
	doc    Document
	out    Executor
	opts   Options
	log    *slog.Logger

	slot   *cancel.Slot
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewScheduler(engine Engine, doc Document, out Executor, opts Options) *Scheduler {
	if opts.ExportWorkers <= 0 {
		opts.ExportWorkers = 4
	}
	return &Scheduler{
		engine: engine,
		doc:    doc,
		out:    out,
		opts:   opts,
		log:    applog.WithComponent("render"),
		slot:   cancel.NewSlot(context.Background()),
	}
}

// OnNotify reacts to PreRenderNotification. It runs on the owner goroutine and
// only starts background work.
func (s *Scheduler) OnNotify(cmd command.Command, _ bool) {
	if _, ok := cmd.(command.PreRenderNotification); ok && s.opts.PreRender {
		s.RequestRender(PreRenderScope())
	}
}

// Play requests an interactive render starting at the play cursor.
func (s *Scheduler) Play() *cancel.Handle { return s.RequestRender(PlaybackScope()) }

// RequestRender supersedes the current job and starts a new one for scope. The
// returned handle is cancelled as soon as another request arrives.
func (s *Scheduler) RequestRender(scope Scope) *cancel.Handle {
	if !s.begin() {
		return nil
	}
	h, prev := s.slot.Exchange()
	doc := s.doc.Snapshot()
	if scope.FromCursor {
		scope.StartTick = doc.PlayPosTick
	}
	go s.run(h, prev, scope, doc)
	return h
}

// run waits for the superseded job to exit so that at most one scheduled render
// uses the engine at a time.
func (s *Scheduler) run(h, prev *cancel.Handle, scope Scope, doc *domain.Project) {
	start := time.Now()
	log := s.log.With(slog.String("kind", scope.Kind.String()), slog.Uint64("gen", h.Generation()))
	defer s.wg.Done()
	defer h.Finish()
	defer func() {
		if r := recover(); r != nil {
			log.Error("render job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			s.fail(scope, fmt.Errorf("render panic: %v", r))
		}
	}()

	ctx := h.Context()
	if prev != nil {
		if err := prev.Wait(ctx); err != nil {
			metrics.ObserveRender(scope.Kind.String(), "canceled", time.Since(start))
			return
		}
	}
	switch scope.Kind {
	case KindPreRender:
		err := s.engine.PreRenderProject(ctx, doc)
		if ctx.Err() != nil {
			metrics.ObserveRender(scope.Kind.String(), "canceled", time.Since(start))
			return
		}
		if err != nil {
			s.fail(scope, err)
			return
		}
		metrics.ObserveRender(scope.Kind.String(), "completed", time.Since(start))
		log.Debug("pre-render finished", slog.Duration("took", time.Since(start)))
	case KindInteractive:
		mix, err := s.engine.RenderProject(ctx, doc, scope)
		if ctx.Err() != nil {
			metrics.ObserveRender(scope.Kind.String(), "canceled", time.Since(start))
			return
		}
		if err != nil {
			s.fail(scope, err)
			return
		}
		res := Result{Scope: scope, Mix: mix, StartMs: doc.TickToMs(scope.StartTick), Faders: Faders(doc)}
		if h.Canceled() {
			return
		}
		metrics.ObserveRender(scope.Kind.String(), "completed", time.Since(start))
		s.out.Execute(RenderCompleteNotification{Result: res, expired: func() bool { return !s.slot.IsCurrent(h) }})
	default:
		s.fail(scope, fmt.Errorf("render kind %s cannot be scheduled; use the export methods", scope.Kind))
	}
}

func (s *Scheduler) fail(scope Scope, err error) {
	metrics.ObserveRender(scope.Kind.String(), "failed", 0)
	s.log.Warn("render failed", slog.String("kind", scope.Kind.String()), slog.Any("err", err))
	s.out.Execute(command.NewErrorNotification("render failed", err))
	if scope.Kind == KindInteractive {
		s.out.Execute(RenderFailedNotification{Scope: scope, Err: err})
	}
}

// ExportMixdown renders the mixdown and writes it to path as WAV. It is not
// superseded by edits and runs until done or until ctx is cancelled.
func (s *Scheduler) ExportMixdown(ctx context.Context, scope Scope, path string) error {
	if !s.begin() {
		return ErrClosed
	}
	defer s.wg.Done()
	start := time.Now()
	scope.Kind = KindMixdown

	mix, err := s.engine.RenderMixdown(ctx, s.doc.Snapshot(), scope)
	if err == nil {
		err = WriteWAV(path, mix)
	}
	if err != nil {
		err = fmt.Errorf("export mixdown %s: %w", path, err)
		metrics.ObserveRender(scope.Kind.String(), "failed", 0)
		s.out.Execute(command.NewErrorNotification("export failed", err))
		return err
	}
	metrics.ObserveRender(scope.Kind.String(), "completed", time.Since(start))
	s.log.Info("mixdown exported", slog.String("path", path), slog.Duration("took", time.Since(start)))
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TrackFileName is the per-track export file name for track i.
func TrackFileName(i int, name string) string {
	n := unsafeName.ReplaceAllString(name, "_")
	if n == "" {
		n = "track"
	}
	return fmt.Sprintf("%02d-%s.wav", i+1, n)
}

// ExportTracks writes one WAV per track into dir. A failing file is reported on
// its own and does not stop the others; the joined error lists every failure.
func (s *Scheduler) ExportTracks(ctx context.Context, scope Scope, dir string) ([]string, error) {
	if !s.begin() {
		return nil, ErrClosed
	}
	defer s.wg.Done()
	start := time.Now()
	scope.Kind = KindTracks

	tracks, err := s.engine.RenderTracks(ctx, s.doc.Snapshot(), scope)
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		err = fmt.Errorf("export tracks: %w", err)
		metrics.ObserveRender(scope.Kind.String(), "failed", 0)
		s.out.Execute(command.NewErrorNotification("export failed", err))
		return nil, err
	}

	var (
		mu      sync.Mutex
		errs    []error
		written []string
		g       errgroup.Group
	)
	g.SetLimit(s.opts.ExportWorkers)
	for _, tm := range tracks {
		g.Go(func() error {
			path := filepath.Join(dir, TrackFileName(tm.Track, tm.Name))
			err := ctx.Err()
			if err == nil {
				err = WriteWAV(path, tm.Mix)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				err = fmt.Errorf("track %d (%s): %w", tm.Track+1, tm.Name, err)
				errs = append(errs, err)
				s.out.Execute(command.NewErrorNotification("track export failed", err))
				return nil
			}
			written = append(written, path)
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		metrics.ObserveRender(scope.Kind.String(), "failed", 0)
		return written, errors.Join(errs...)
	}
	metrics.ObserveRender(scope.Kind.String(), "completed", time.Since(start))
	s.log.Info("tracks exported", slog.String("dir", dir), slog.Int("files", len(written)))
	return written, nil
}

// Close cancels the current job and waits for every job and export to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return
	}
	s.slot.Close()
	s.wg.Wait()
}

// begin registers a job unless the scheduler is closed.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

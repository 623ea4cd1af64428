/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo owns the live project and applies every edit through command groups
// on a single owner goroutine. Other goroutines marshal work to it via the Engine
// facade; code already running on the owner goroutine uses the *Tx it was handed.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"vocalis/internal/command"
	"vocalis/internal/deque"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/notify"
	"vocalis/internal/validate"
)

var (
	ErrNoGroup        = errors.New("no open command group")
	ErrGroupOpen      = errors.New("command group is open")
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrNothingToRedo  = errors.New("nothing to redo")
	ErrStopped        = errors.New("engine stopped")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrUnknownCommand = errors.New("unknown command type")
)

// Config controls history depth and the owner mailbox.
type Config struct {
	// UndoLimit caps the undo and redo stacks; the oldest group is evicted first.
	UndoLimit int
	// MailboxSize is the backlog at which a warning is logged. The mailbox itself is unbounded.
	MailboxSize int
	// Validator recomputes derived state after edits. Defaults to validate.New(nil).
	Validator validate.Validator
	// OnPanic is called with the recovered value when a marshaled callback panics.
	OnPanic func(recovered any, stack []byte)
}

// Engine holds the document, its history and the owner goroutine mailbox.
type Engine struct {
	cfg Config
	bus *notify.Bus
	log *slog.Logger

	docMu sync.RWMutex
	doc   *domain.Project

	mbMu    sync.Mutex
	mailbox []func(*Tx)
	wake    chan struct{}
	running atomic.Bool
	done    chan struct{}

	// owner goroutine state
	undo    *deque.Ring[*Group]
	redo    *deque.Ring[*Group]
	open    *Group
	nextRev uint64
	// baseRev is the revision of the newest group evicted from the undo stack,
	// reported when the stack is empty.
	baseRev uint64
	tx      *Tx

	// published for thread-safe queries
	undoDepth    atomic.Int64
	redoDepth    atomic.Int64
	topRev       atomic.Uint64
	savedRev     atomic.Uint64
	autosavedRev atomic.Uint64
}

// New returns an engine owning doc. Call Run to start the owner goroutine.
func New(cfg Config, doc *domain.Project, bus *notify.Bus) *Engine {
	if cfg.UndoLimit <= 0 {
		cfg.UndoLimit = 100
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New(nil)
	}
	if doc == nil {
		doc = domain.NewProject("Untitled")
	}
	if bus == nil {
		bus = notify.NewBus()
	}
	e := &Engine{
		cfg:  cfg,
		bus:  bus,
		log:  applog.WithComponent("undo"),
		doc:  doc,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		undo: deque.New[*Group](cfg.UndoLimit),
		redo: deque.New[*Group](cfg.UndoLimit),
	}
	e.tx = &Tx{e: e}
	return e
}

// Bus returns the notification bus commands are published on.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// Run executes marshaled work until ctx is cancelled. The calling goroutine
// becomes the owner goroutine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)
	e.log.Debug("owner loop started", slog.Int("undo_limit", e.cfg.UndoLimit))
	for {
		select {
		case <-ctx.Done():
			e.mbMu.Lock()
			dropped := len(e.mailbox)
			e.mailbox = nil
			e.mbMu.Unlock()
			if dropped > 0 {
				e.log.Warn("owner loop stopped with pending work", slog.Int("dropped", dropped))
			}
			return ctx.Err()
		case <-e.wake:
		}
		for {
			e.mbMu.Lock()
			batch := e.mailbox
			e.mailbox = nil
			e.mbMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				e.dispatch(fn)
			}
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) dispatch(fn func(*Tx)) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			e.log.Error("owner callback panicked", slog.Any("panic", r), slog.String("stack", string(stack)))
			if e.cfg.OnPanic != nil {
				e.cfg.OnPanic(r, stack)
			}
		}
	}()
	fn(e.tx)
}

// Post queues fn for the owner goroutine and returns immediately. It never blocks,
// so it is also safe to call from the owner goroutine itself.
func (e *Engine) Post(fn func(tx *Tx)) {
	select {
	case <-e.done:
		e.log.Warn("post after engine stopped")
		return
	default:
	}
	e.mbMu.Lock()
	e.mailbox = append(e.mailbox, fn)
	backlog := len(e.mailbox)
	e.mbMu.Unlock()
	if backlog == e.cfg.MailboxSize {
		e.log.Warn("owner mailbox backlog", slog.Int("pending", backlog))
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the owner goroutine and waits for its result. It must not be
// called from the owner goroutine; use the *Tx there instead.
func (e *Engine) Do(ctx context.Context, fn func(tx *Tx) error) error {
	res := make(chan error, 1)
	e.Post(func(tx *Tx) {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in owner callback: %v", r)
				res <- err
				panic(r)
			}
			res <- err
		}()
		err = fn(tx)
	})
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// Group runs fn inside a command group on the owner goroutine. When fn fails or panics the
// group is rolled back and the error returned; otherwise the group is committed.
func (e *Engine) Group(ctx context.Context, deferValidate bool, fn func(tx *Tx) error) error {
	return e.Do(ctx, func(tx *Tx) error {
		tx.BeginGroup(deferValidate)
		defer func() {
			if r := recover(); r != nil {
				tx.RollbackGroup()
				panic(r)
			}
		}()
		if err := fn(tx); err != nil {
			tx.RollbackGroup()
			return err
		}
		tx.EndGroup()
		return nil
	})
}

// Execute marshals cmd to the owner goroutine. Errors are logged there.
func (e *Engine) Execute(cmd command.Command) {
	e.Post(func(tx *Tx) { _ = tx.Execute(cmd) })
}

// BeginGroup marshals Tx.BeginGroup.
func (e *Engine) BeginGroup(deferValidate bool) {
	e.Post(func(tx *Tx) { tx.BeginGroup(deferValidate) })
}

// EndGroup marshals Tx.EndGroup.
func (e *Engine) EndGroup() { e.Post(func(tx *Tx) { tx.EndGroup() }) }

// RollbackGroup marshals Tx.RollbackGroup.
func (e *Engine) RollbackGroup() { e.Post(func(tx *Tx) { tx.RollbackGroup() }) }

// Undo marshals Tx.Undo.
func (e *Engine) Undo() { e.Post(func(tx *Tx) { _ = tx.Undo() }) }

// Redo marshals Tx.Redo.
func (e *Engine) Redo() { e.Post(func(tx *Tx) { _ = tx.Redo() }) }

// Snapshot returns a deep copy of the document taken under the read lock.
func (e *Engine) Snapshot() *domain.Project {
	e.docMu.RLock()
	defer e.docMu.RUnlock()
	return e.doc.Clone()
}

// View calls fn with the live document under the read lock. fn must not retain it.
func (e *Engine) View(fn func(p *domain.Project)) {
	e.docMu.RLock()
	defer e.docMu.RUnlock()
	fn(e.doc)
}

func (e *Engine) CanUndo() bool { return e.undoDepth.Load() > 0 }
func (e *Engine) CanRedo() bool { return e.redoDepth.Load() > 0 }
func (e *Engine) UndoDepth() int { return int(e.undoDepth.Load()) }
func (e *Engine) RedoDepth() int { return int(e.redoDepth.Load()) }
func (e *Engine) Revision() uint64 { return e.topRev.Load() }

// IsDirty reports whether the document changed since the last SaveNotification.
func (e *Engine) IsDirty() bool { return e.topRev.Load() != e.savedRev.Load() }

// IsAutosaveDirty reports whether the document changed since the last AutosaveNotification.
func (e *Engine) IsAutosaveDirty() bool { return e.topRev.Load() != e.autosavedRev.Load() }

// publishState refreshes the atomics read by the query methods.
func (e *Engine) publishState() {
	e.undoDepth.Store(int64(e.undo.Len()))
	e.redoDepth.Store(int64(e.redo.Len()))
	if g, ok := e.undo.Back(); ok {
		e.topRev.Store(g.Revision)
	} else {
		e.topRev.Store(e.baseRev)
	}
}

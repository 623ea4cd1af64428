/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cancel implements the exchangeable cancellation handle shared by the
// render scheduler and the asset reload queue.
//
// A Slot holds the handle of the job that is currently authoritative for one kind
// of background work. Exchange installs a fresh handle and cancels the previous
// one in a single atomic swap, so a job holding an old handle always observes
// cancellation before it can publish a result.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle marks one background job. Jobs must check Canceled (or Done) before
// publishing anything and call Finish when they exit.
type Handle struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	finished chan struct{}
	finOnce  sync.Once
}

func newHandle(parent context.Context, gen uint64) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{gen: gen, ctx: ctx, cancel: cancel, finished: make(chan struct{})}
}

// Generation is the monotonically increasing sequence number of the handle
// within its slot.
func (h *Handle) Generation() uint64 { return h.gen }

// Context is cancelled when the handle is superseded or the slot closes.
func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Handle) Canceled() bool { return h.ctx.Err() != nil }

// Cancel is idempotent.
func (h *Handle) Cancel() { h.cancel() }

// Finish marks the job owning this handle as exited and releases the context.
func (h *Handle) Finish() {
	h.finOnce.Do(func() {
		h.cancel()
		close(h.finished)
	})
}

// Wait blocks until the job has called Finish or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Slot owns at most one current handle.
type Slot struct {
	parent context.Context
	stop   context.CancelFunc
	cur    atomic.Pointer[Handle]
	gen    atomic.Uint64
}

// NewSlot creates a slot whose handles derive from parent.
func NewSlot(parent context.Context) *Slot {
	ctx, stop := context.WithCancel(parent)
	return &Slot{parent: ctx, stop: stop}
}

// Exchange installs a new handle, cancels the previous one and returns both.
// prev is nil on the first call.
func (s *Slot) Exchange() (next, prev *Handle) {
	next = newHandle(s.parent, s.gen.Add(1))
	prev = s.cur.Swap(next)
	if prev != nil {
		prev.Cancel()
	}
	return next, prev
}

// IsCurrent reports whether h is still the authoritative handle of an open slot.
// A finished job's handle stays current until the next Exchange.
func (s *Slot) IsCurrent(h *Handle) bool {
	return h != nil && s.cur.Load() == h && s.parent.Err() == nil
}

// Close cancels every handle derived from the slot. Later Exchange calls
// return handles that are already cancelled.
func (s *Slot) Close() { s.stop() }

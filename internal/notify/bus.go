/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package notify fans commands out to subscribers on the publishing goroutine.
package notify

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"vocalis/internal/command"
	applog "vocalis/internal/log"
)

// Listener receives every published command. isUndo is true when the command is
// being reverted by undo or rollback.
type Listener interface {
	OnNotify(cmd command.Command, isUndo bool)
}

type funcListener struct {
	fn func(command.Command, bool)
}

func (f *funcListener) OnNotify(cmd command.Command, isUndo bool) { f.fn(cmd, isUndo) }

// ListenerFunc adapts a function. Keep the returned value to unsubscribe later;
// each call yields a distinct listener.
func ListenerFunc(fn func(cmd command.Command, isUndo bool)) Listener {
	return &funcListener{fn: fn}
}

// PanicHandler is invoked after a listener panic has been recovered.
type PanicHandler func(l Listener, cmd command.Command, recovered any)

// Option configures a Bus.
type Option func(*Bus)

// WithPanicHandler adds a hook called for each recovered listener panic.
func WithPanicHandler(h PanicHandler) Option {
	return func(b *Bus) { b.onPanic = h }
}

// Bus is a synchronous publish/subscribe list. It is safe for concurrent use and
// listeners may subscribe or unsubscribe while a delivery is in progress.
type Bus struct {
	mu        sync.Mutex
	listeners []Listener

	onPanic   PanicHandler
	published atomic.Uint64
	panicked  atomic.Uint64
	log       *slog.Logger
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{log: applog.WithComponent("notify")}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe adds l. Subscribing the same listener twice has no effect.
func (b *Bus) Subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.listeners, l) {
		return
	}
	b.listeners = append(b.listeners, l)
}

// Unsubscribe removes l if present.
func (b *Bus) Unsubscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := slices.Index(b.listeners, l); i >= 0 {
		b.listeners = slices.Delete(b.listeners, i, i+1)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Publish delivers cmd to every listener in subscription order on the calling
// goroutine. A panicking listener is logged and skipped.
func (b *Bus) Publish(cmd command.Command, isUndo bool) {
	b.mu.Lock()
	snapshot := slices.Clone(b.listeners)
	b.mu.Unlock()

	b.published.Add(1)
	for _, l := range snapshot {
		b.deliver(l, cmd, isUndo)
	}
}

func (b *Bus) deliver(l Listener, cmd command.Command, isUndo bool) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			b.log.Error("listener panicked",
				slog.String("listener", fmt.Sprintf("%T", l)),
				slog.String("command", fmt.Sprintf("%T", cmd)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			if b.onPanic != nil {
				b.onPanic(l, cmd, r)
			}
		}
	}()
	l.OnNotify(cmd, isUndo)
}

// Stats reports how many commands were published and how many deliveries panicked.
func (b *Bus) Stats() (published, panicked uint64) {
	return b.published.Load(), b.panicked.Load()
}

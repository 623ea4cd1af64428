/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package reload debounces voicebank reload requests. Bursts of requests within
// the quiet window collapse into one pass that reloads every distinct asset once.
package reload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"vocalis/internal/cancel"
	"vocalis/internal/command"
	applog "vocalis/internal/log"
	"vocalis/internal/metrics"
)

// ErrPermanent marks a store error that retrying cannot fix.
var ErrPermanent = errors.New("permanent reload failure")

// Store reloads one asset from its source.
type Store interface {
	Reload(ctx context.Context, assetID string) error
}

// Executor delivers notifications to the owner goroutine.
type Executor interface {
	Execute(cmd command.Command)
}

// Request is one pending reload.
type Request struct {
	AssetID    string
	EnqueuedAt time.Time
}

// Options tune debouncing and retries.
type Options struct {
	// Debounce is the quiet window before pending requests are drained. Defaults to 200ms.
	Debounce time.Duration
	// Attempts is the total number of tries per asset. Defaults to 3.
	Attempts int
	// Backoff is the constant pause between attempts. Defaults to 100ms.
	Backoff time.Duration
}

func (o Options) normalized() Options {
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	return o
}

// Queue collects reload requests and processes them after a quiet window.
type Queue struct {
	store Store
	out   Executor
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]Request
	order   []string
	closed  bool

	slot   *cancel.Slot
	root   context.Context
	stop   context.CancelFunc
	procMu sync.Mutex
	wg     sync.WaitGroup
}

func NewQueue(store Store, out Executor, opts Options) *Queue {
	root, stop := context.WithCancel(context.Background())
	return &Queue{
		store:   store,
		out:     out,
		opts:    opts.normalized(),
		log:     applog.WithComponent("reload"),
		pending: make(map[string]Request),
		slot:    cancel.NewSlot(root),
		root:    root,
		stop:    stop,
	}
}

// Enqueue schedules assetID for reload and restarts the quiet window.
func (q *Queue) Enqueue(assetID string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, ok := q.pending[assetID]; !ok {
		q.pending[assetID] = Request{AssetID: assetID, EnqueuedAt: time.Now()}
		q.order = append(q.order, assetID)
	}
	q.wg.Add(1)
	q.mu.Unlock()

	h, _ := q.slot.Exchange()
	go q.debounce(h)
}

// queued returns the waiting requests in arrival order.
func (q *Queue) queued() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.pending[id])
	}
	return out
}

func (q *Queue) drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.pending[id])
	}
	q.pending = make(map[string]Request)
	q.order = nil
	return out
}

func (q *Queue) debounce(h *cancel.Handle) {
	defer q.wg.Done()
	defer h.Finish()

	t := time.NewTimer(q.opts.Debounce)
	defer t.Stop()
	select {
	case <-h.Done():
		return
	case <-t.C:
	}
	// The timer and a newer Enqueue can become ready together; the newer worker drains.
	if h.Canceled() {
		return
	}

	// Once drained, every request is processed even if a newer Enqueue cancels h.
	batch := q.drain()
	if len(batch) == 0 {
		return
	}
	q.procMu.Lock()
	defer q.procMu.Unlock()
	q.log.Debug("processing reload batch", slog.Int("assets", len(batch)))
	for _, r := range batch {
		q.process(r)
	}
}

func (q *Queue) process(r Request) {
	log := q.log.With(slog.String("asset", r.AssetID))
	q.out.Execute(command.ReloadStartedNotification{AssetID: r.AssetID})

	attempts := 0
	_, err := backoff.Retry(q.root, func() (struct{}, error) {
		attempts++
		err := q.store.Reload(q.root, r.AssetID)
		if errors.Is(err, ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			log.Debug("reload attempt failed", slog.Int("attempt", attempts), slog.Any("err", err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(q.opts.Backoff)),
		backoff.WithMaxTries(uint(q.opts.Attempts)),
	)
	metrics.ObserveReload(attempts, err)

	q.out.Execute(command.ReloadFinishedNotification{AssetID: r.AssetID, Err: err})
	if err != nil {
		log.Warn("reload failed", slog.Int("attempts", attempts), slog.Any("err", err))
		q.out.Execute(command.NewErrorNotification("could not reload voicebank "+r.AssetID, err))
	} else {
		log.Info("voicebank reloaded", slog.Int("attempts", attempts), slog.Duration("queued", time.Since(r.EnqueuedAt)))
	}
	q.out.Execute(command.SingerChangedNotification{AssetID: r.AssetID, PreRender: true})
}

// Close cancels a waiting debounce worker, aborts retries and waits for workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	already := q.closed
	q.closed = true
	q.mu.Unlock()
	if already {
		return
	}
	q.slot.Close()
	q.stop()
	q.wg.Wait()
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package deque provides a fixed-capacity ring buffer usable from both ends.
package deque

// Ring is a bounded double-ended queue. PushBack on a full ring evicts the
// front element. It is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

// New returns a ring holding at most capacity elements (minimum 1).
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.n }

func (r *Ring[T]) index(i int) int { return (r.head + i) % len(r.buf) }

// PushBack appends v. When the ring is full the front element is evicted and
// returned with ok=true.
func (r *Ring[T]) PushBack(v T) (evicted T, ok bool) {
	if r.n == len(r.buf) {
		evicted, _ = r.PopFront()
		ok = true
	}
	r.buf[r.index(r.n)] = v
	r.n++
	return evicted, ok
}

func (r *Ring[T]) PopBack() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	i := r.index(r.n - 1)
	v := r.buf[i]
	r.buf[i] = zero
	r.n--
	return v, true
}

func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

func (r *Ring[T]) Back() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[r.index(r.n-1)], true
}

// Clear drops all elements and releases references.
func (r *Ring[T]) Clear() {
	var zero T
	for i := 0; i < r.n; i++ {
		r.buf[r.index(i)] = zero
	}
	r.head, r.n = 0, 0
}

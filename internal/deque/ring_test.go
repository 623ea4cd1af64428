/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package deque

import "testing"

func drain(r *Ring[int]) []int {
	var out []int
	for {
		v, ok := r.PopFront()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestPushBackEvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, ok := r.PushBack(i); ok {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	ev, ok := r.PushBack(4)
	if !ok || ev != 1 {
		t.Fatalf("expected eviction of 1, got %d ok=%v", ev, ok)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	got := drain(r)
	for i, want := range []int{2, 3, 4} {
		if got[i] != want {
			t.Fatalf("element %d = %d, want %d", i, got[i], want)
		}
	}
}

func TestBothEnds(t *testing.T) {
	r := New[string](4)
	r.PushBack("a")
	r.PushBack("b")
	r.PushBack("c")
	if b, _ := r.Back(); b != "c" {
		t.Fatalf("back = %q", b)
	}
	if v, _ := r.PopBack(); v != "c" {
		t.Fatalf("PopBack = %q", v)
	}
	if v, _ := r.PopFront(); v != "a" {
		t.Fatalf("PopFront = %q", v)
	}
	if v, _ := r.PopFront(); v != "b" {
		t.Fatalf("PopFront = %q", v)
	}
	if _, ok := r.PopBack(); ok {
		t.Fatalf("expected empty ring")
	}
}

func TestWraparoundAndClear(t *testing.T) {
	r := New[int](3)
	for i := 0; i < 3; i++ {
		r.PushBack(i)
	}
	r.PopFront() // move head off zero
	r.PushBack(3)
	r.PushBack(4)
	if b, _ := r.Back(); b != 4 || r.Len() != 3 {
		t.Fatalf("back/len = %d/%d", b, r.Len())
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("clear failed")
	}
	if _, ok := r.Back(); ok {
		t.Fatalf("expected empty ring after clear")
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package playback

import (
	"errors"
	"sync"
	"time"

	"vocalis/internal/render"
)

// ErrNotInitialized is returned by Play before Init.
var ErrNotInitialized = errors.New("output not initialized")

// NullOutput discards audio and advances its position with the wall clock.
// It stands in for a device in headless sessions.
type NullOutput struct {
	mu      sync.Mutex
	length  time.Duration
	ready   bool
	started time.Time
	elapsed time.Duration
	playing bool
	now     func() time.Time
}

func NewNullOutput() *NullOutput { return &NullOutput{now: time.Now} }

func (o *NullOutput) Init(src render.Result) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.length = 0
	if src.Mix.SampleRate > 0 {
		o.length = time.Duration(src.Mix.Frames()) * time.Second / time.Duration(src.Mix.SampleRate)
	}
	o.ready = true
	o.playing = false
	o.elapsed = 0
	return nil
}

func (o *NullOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ready {
		return ErrNotInitialized
	}
	if !o.playing {
		o.playing = true
		o.started = o.now()
	}
	return nil
}

func (o *NullOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playing {
		o.elapsed = o.position()
		o.playing = false
	}
	return nil
}

func (o *NullOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
	o.elapsed = 0
	return nil
}

func (o *NullOutput) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position()
}

func (o *NullOutput) position() time.Duration {
	p := o.elapsed
	if o.playing {
		p += o.now().Sub(o.started)
	}
	return min(p, o.length)
}

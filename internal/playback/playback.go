/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package playback connects interactive render results to an audio output.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vocalis/internal/command"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/render"
)

// Output is an audio device or sink.
type Output interface {
	Init(src render.Result) error
	Play() error
	Pause() error
	Stop() error
	// Position is the time played since Init.
	Position() time.Duration
}

// Executor delivers notifications to the owner goroutine.
type Executor interface {
	Execute(cmd command.Command)
}

// State of the controller.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "stopped"
}

// Controller is a bus listener that starts playback when an interactive
// render completes and stops it when one fails.
type Controller struct {
	out  Output
	exec Executor
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	startMs float64
}

func NewController(out Output, exec Executor) *Controller {
	return &Controller{out: out, exec: exec, log: applog.WithComponent("playback")}
}

func (c *Controller) OnNotify(cmd command.Command, _ bool) {
	switch n := cmd.(type) {
	case render.RenderCompleteNotification:
		if n.Result.Scope.Kind != render.KindInteractive {
			return
		}
		c.start(n.Result)
	case render.RenderFailedNotification:
		c.log.Debug("interactive render failed; stopping", slog.Any("err", n.Err))
		c.Stop()
	case command.LoadProjectNotification:
		c.Stop()
	}
}

func (c *Controller) start(res render.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.out.Init(res); err != nil {
		c.fail("initialize audio output", err)
		return
	}
	if err := c.out.Play(); err != nil {
		c.fail("start playback", err)
		return
	}
	c.state = Playing
	c.startMs = res.StartMs
	c.log.Debug("playing", slog.Int("frames", res.Mix.Frames()), slog.Float64("start_ms", res.StartMs))
}

// fail is called with c.mu held.
func (c *Controller) fail(msg string, err error) {
	c.state = Stopped
	_ = c.out.Stop()
	c.log.Warn(msg+" failed", slog.Any("err", err))
	if c.exec != nil {
		c.exec.Execute(command.NewErrorNotification("Failed to "+msg, err))
	}
}

// Pause pauses a playing output.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		return
	}
	if err := c.out.Pause(); err != nil {
		c.log.Warn("pause failed", slog.Any("err", err))
		return
	}
	c.state = Paused
}

// Resume continues a paused output.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return
	}
	if err := c.out.Play(); err != nil {
		c.fail("resume playback", err)
		return
	}
	c.state = Playing
}

// Stop stops the output. It is a no-op when already stopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return
	}
	if err := c.out.Stop(); err != nil {
		c.log.Warn("stop failed", slog.Any("err", err))
	}
	c.state = Stopped
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PositionMs returns the absolute song time being played.
func (c *Controller) PositionMs() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return 0, false
	}
	return c.startMs + float64(c.out.Position())/float64(time.Millisecond), true
}

// Viewer gives read access to the live document.
type Viewer interface {
	View(fn func(p *domain.Project))
}

// Follow moves the play cursor along with playback every interval until ctx is done.
func (c *Controller) Follow(ctx context.Context, interval time.Duration, doc Viewer) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ms, ok := c.PositionMs()
			if !ok || c.exec == nil {
				continue
			}
			var tick int
			doc.View(func(p *domain.Project) { tick = p.MsToTick(ms) })
			if tick == last {
				continue
			}
			last = tick
			c.exec.Execute(command.SetPlayPosNotification{Tick: tick})
		}
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package render schedules synthesis jobs against document snapshots. Interactive
// and pre-render requests follow a latest-request-wins protocol: each request
// supersedes and cancels the previous one. Exports run to completion.
package render

import (
	"context"
	"math"

	"vocalis/internal/command"
	"vocalis/internal/domain"
)

// Kind selects the completion semantics of a render request.
type Kind int

const (
	KindPreRender Kind = iota
	KindInteractive
	KindMixdown
	KindTracks
)

func (k Kind) String() string {
	switch k {
	case KindPreRender:
		return "prerender"
	case KindInteractive:
		return "interactive"
	case KindMixdown:
		return "mixdown"
	case KindTracks:
		return "tracks"
	}
	return "unknown"
}

// Scope restricts what a job renders. EndTick 0 means the end of the project and
// Track -1 means every track.
type Scope struct {
	Kind      Kind
	StartTick int
	EndTick   int
	Track     int
	// FromCursor replaces StartTick with the snapshot's play cursor.
	FromCursor bool
}

func PreRenderScope() Scope { return Scope{Kind: KindPreRender, Track: -1} }
func PlaybackScope() Scope { return Scope{Kind: KindInteractive, Track: -1, FromCursor: true} }
func MixdownScope() Scope { return Scope{Kind: KindMixdown, Track: -1} }
func TrackExportScope() Scope { return Scope{Kind: KindTracks, Track: -1} }

// Mix is interleaved stereo audio.
type Mix struct {
	SampleRate int
	Samples    []float32
}

// Frames returns the number of stereo frames.
func (m Mix) Frames() int { return len(m.Samples) / 2 }

// TrackMix is the rendered audio of one track.
type TrackMix struct {
	Track int
	Name  string
	Mix   Mix
}

// Fader is the derived mixer state of one track.
type Fader struct {
	Track int
	Gain  float64 // linear
	Pan   float64 // -1 .. 1
	Muted bool
}

// Faders derives per-track gain and pan. When any track is soloed, every
// non-solo track is muted.
func Faders(p *domain.Project) []Fader {
	anySolo := false
	for _, t := range p.Tracks {
		anySolo = anySolo || t.Solo
	}
	out := make([]Fader, len(p.Tracks))
	for i, t := range p.Tracks {
		muted := t.Mute || (anySolo && !t.Solo)
		gain := 0.0
		if !muted {
			gain = math.Pow(10, t.Volume/20)
		}
		out[i] = Fader{Track: i, Gain: gain, Pan: max(-1, min(1, t.Pan/100)), Muted: muted}
	}
	return out
}

// Engine synthesizes audio. Methods are called from worker goroutines with a
// read-only snapshot and must return promptly once ctx is cancelled.
type Engine interface {
	RenderProject(ctx context.Context, doc *domain.Project, scope Scope) (Mix, error)
	RenderMixdown(ctx context.Context, doc *domain.Project, scope Scope) (Mix, error)
	RenderTracks(ctx context.Context, doc *domain.Project, scope Scope) ([]TrackMix, error)
	PreRenderProject(ctx context.Context, doc *domain.Project) error
}

// Result is the outcome of an interactive render.
type Result struct {
	Scope   Scope
	Mix     Mix
	StartMs float64
	Faders  []Fader
}

// RenderCompleteNotification carries an interactive result back to the owner
// goroutine. It expires as soon as a newer request supersedes the job.
type RenderCompleteNotification struct {
	command.NotificationBase
	Result  Result
	expired func() bool
}

func (n RenderCompleteNotification) Description() string { return "render complete" }

func (n RenderCompleteNotification) Expired() bool { return n.expired != nil && n.expired() }

// RenderFailedNotification tells playback that an interactive render failed.
type RenderFailedNotification struct {
	command.NotificationBase
	Scope Scope
	Err   error
}

func (n RenderFailedNotification) Description() string { return "render failed: " + n.Err.Error() }

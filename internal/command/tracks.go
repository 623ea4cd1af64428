/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package command

import (
	"slices"

	"vocalis/internal/domain"
)

// AddTrack appends a track.
type AddTrack struct {
	Base
	Track domain.Track
}

func NewAddTrack(name string) *AddTrack { return &AddTrack{Track: domain.NewTrack(name)} }

func (c *AddTrack) Description() string { return "add track" }

func (c *AddTrack) ValidationScope() Scope { return NoScope() }

func (c *AddTrack) Execute(p *domain.Project) error {
	p.Tracks = append(p.Tracks, c.Track)
	return nil
}

func (c *AddTrack) Unexecute(p *domain.Project) error {
	i := p.TrackIndex(c.Track.ID)
	if i < 0 {
		return ErrTrackNotFound
	}
	p.Tracks = slices.Delete(p.Tracks, i, i+1)
	return nil
}

// RemoveTrack deletes a track together with its parts. Parts on later tracks shift down.
type RemoveTrack struct {
	Base
	Index int

	track domain.Track
	parts []indexedPart
}

type indexedPart struct {
	at   int
	part domain.VoicePart
}

func NewRemoveTrack(index int) *RemoveTrack { return &RemoveTrack{Index: index} }

func (c *RemoveTrack) Description() string { return "remove track" }

func (c *RemoveTrack) ValidationScope() Scope { return ProjectScope() }

func (c *RemoveTrack) Execute(p *domain.Project) error {
	if err := checkTrack(p, c.Index); err != nil {
		return err
	}
	c.track = p.Tracks[c.Index]
	c.parts = c.parts[:0]
	kept := p.Parts[:0:0]
	for i, part := range p.Parts {
		switch {
		case part.TrackIndex == c.Index:
			c.parts = append(c.parts, indexedPart{at: i, part: part})
		case part.TrackIndex > c.Index:
			part.TrackIndex--
			kept = append(kept, part)
		default:
			kept = append(kept, part)
		}
	}
	p.Parts = kept
	p.Tracks = slices.Delete(p.Tracks, c.Index, c.Index+1)
	return nil
}

func (c *RemoveTrack) Unexecute(p *domain.Project) error {
	if c.Index > len(p.Tracks) {
		return ErrTrackNotFound
	}
	p.Tracks = slices.Insert(p.Tracks, c.Index, c.track)
	for i := range p.Parts {
		if p.Parts[i].TrackIndex >= c.Index {
			p.Parts[i].TrackIndex++
		}
	}
	for _, ip := range c.parts {
		p.Parts = slices.Insert(p.Parts, min(ip.at, len(p.Parts)), ip.part)
	}
	return nil
}

// trackField is the shared shape of single-value track edits.
type trackField[T comparable] struct {
	Base
	Index int
	Value T

	old T
}

func (c *trackField[T]) swap(p *domain.Project, field func(*domain.Track) *T, v T, remember bool) error {
	if err := checkTrack(p, c.Index); err != nil {
		return err
	}
	f := field(&p.Tracks[c.Index])
	if remember {
		c.old = *f
	}
	*f = v
	return nil
}

// TrackVolume sets a track's gain in dB.
type TrackVolume struct{ trackField[float64] }

func NewTrackVolume(index int, db float64) *TrackVolume {
	return &TrackVolume{trackField[float64]{Index: index, Value: db}}
}

func volume(t *domain.Track) *float64 { return &t.Volume }

func (c *TrackVolume) Description() string { return "track volume" }

func (c *TrackVolume) ValidationScope() Scope { return NoScope() }

func (c *TrackVolume) Execute(p *domain.Project) error { return c.swap(p, volume, c.Value, true) }

func (c *TrackVolume) Unexecute(p *domain.Project) error { return c.swap(p, volume, c.old, false) }

func (c *TrackVolume) Merge(next Mutation) bool {
	n, ok := next.(*TrackVolume)
	if !ok || n.Index != c.Index {
		return false
	}
	c.Value = n.Value
	return true
}

// TrackPan sets a track's pan position.
type TrackPan struct{ trackField[float64] }

func NewTrackPan(index int, pan float64) *TrackPan {
	return &TrackPan{trackField[float64]{Index: index, Value: max(-100, min(100, pan))}}
}

func pan(t *domain.Track) *float64 { return &t.Pan }

func (c *TrackPan) Description() string { return "track pan" }

func (c *TrackPan) ValidationScope() Scope { return NoScope() }

func (c *TrackPan) Execute(p *domain.Project) error { return c.swap(p, pan, c.Value, true) }

func (c *TrackPan) Unexecute(p *domain.Project) error { return c.swap(p, pan, c.old, false) }

func (c *TrackPan) Merge(next Mutation) bool {
	n, ok := next.(*TrackPan)
	if !ok || n.Index != c.Index {
		return false
	}
	c.Value = n.Value
	return true
}

// TrackMute toggles a track's mute flag.
type TrackMute struct{ trackField[bool] }

func NewTrackMute(index int, mute bool) *TrackMute {
	return &TrackMute{trackField[bool]{Index: index, Value: mute}}
}

func mute(t *domain.Track) *bool { return &t.Mute }

func (c *TrackMute) Description() string { return "track mute" }

func (c *TrackMute) ValidationScope() Scope { return NoScope() }

func (c *TrackMute) Execute(p *domain.Project) error { return c.swap(p, mute, c.Value, true) }

func (c *TrackMute) Unexecute(p *domain.Project) error { return c.swap(p, mute, c.old, false) }

// TrackSolo toggles a track's solo flag.
type TrackSolo struct{ trackField[bool] }

func NewTrackSolo(index int, solo bool) *TrackSolo {
	return &TrackSolo{trackField[bool]{Index: index, Value: solo}}
}

func solo(t *domain.Track) *bool { return &t.Solo }

func (c *TrackSolo) Description() string { return "track solo" }

func (c *TrackSolo) ValidationScope() Scope { return NoScope() }

func (c *TrackSolo) Execute(p *domain.Project) error { return c.swap(p, solo, c.Value, true) }

func (c *TrackSolo) Unexecute(p *domain.Project) error { return c.swap(p, solo, c.old, false) }

// ChangeTrackSinger assigns a voicebank to a track. Every note on it needs new phonemes.
type ChangeTrackSinger struct{ trackField[string] }

func NewChangeTrackSinger(index int, singer string) *ChangeTrackSinger {
	return &ChangeTrackSinger{trackField[string]{Index: index, Value: singer}}
}

func singerOf(t *domain.Track) *string { return &t.Singer }

func (c *ChangeTrackSinger) Description() string { return "change singer" }

func (c *ChangeTrackSinger) ValidationScope() Scope { return TrackScope(c.Index) }

func (c *ChangeTrackSinger) Execute(p *domain.Project) error {
	return c.swap(p, singerOf, c.Value, true)
}

func (c *ChangeTrackSinger) Unexecute(p *domain.Project) error {
	return c.swap(p, singerOf, c.old, false)
}

// ChangeTrackPhonemizer selects the phonemizer used for a track's lyrics.
type ChangeTrackPhonemizer struct{ trackField[string] }

func NewChangeTrackPhonemizer(index int, id string) *ChangeTrackPhonemizer {
	return &ChangeTrackPhonemizer{trackField[string]{Index: index, Value: id}}
}

func phonemizerOf(t *domain.Track) *string { return &t.Phonemizer }

func (c *ChangeTrackPhonemizer) Description() string { return "change phonemizer" }

func (c *ChangeTrackPhonemizer) ValidationScope() Scope { return TrackScope(c.Index) }

func (c *ChangeTrackPhonemizer) Execute(p *domain.Project) error {
	return c.swap(p, phonemizerOf, c.Value, true)
}

func (c *ChangeTrackPhonemizer) Unexecute(p *domain.Project) error {
	return c.swap(p, phonemizerOf, c.old, false)
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the document model: a song project made of tracks and voice
// parts holding notes. It serializes to the JSON manifest written by storage.

import "github.com/google/uuid"

// DefaultResolution is the number of ticks per quarter note.
const DefaultResolution = 480

// Project is the single source of truth edited by the undo engine.
type Project struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Comment        string          `json:"comment,omitempty"`
	Resolution     int             `json:"resolution"`
	Tempos         []Tempo         `json:"tempos"`
	TimeSignatures []TimeSignature `json:"timeSignatures"`
	Tracks         []Track         `json:"tracks"`
	Parts          []VoicePart     `json:"parts"`

	// PlayPosTick is the play cursor. It is session state and not persisted.
	PlayPosTick int `json:"-"`
}

// Tempo is a tempo change at an absolute tick.
type Tempo struct {
	Position int     `json:"position"`
	BPM      float64 `json:"bpm"`
}

// TimeSignature starts at a bar index.
type TimeSignature struct {
	BarPosition int `json:"barPosition"`
	BeatPerBar  int `json:"beatPerBar"`
	BeatUnit    int `json:"beatUnit"`
}

// Track is a mixer channel with a singer (voicebank asset id) and a phonemizer.
type Track struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Singer     string  `json:"singer,omitempty"`
	Phonemizer string  `json:"phonemizer,omitempty"`
	Volume     float64 `json:"volume"` // dB, 0 is unity
	Pan        float64 `json:"pan"`    // -100 (left) .. 100 (right)
	Mute       bool    `json:"mute,omitempty"`
	Solo       bool    `json:"solo,omitempty"`
}

// VoicePart is a region on a track holding notes positioned relative to the part.
type VoicePart struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackIndex int    `json:"trackNo"`
	Position   int    `json:"position"`
	Duration   int    `json:"duration"`
	Notes      []Note `json:"notes"`
}

// Note is a sung note. Phonemes and Error are derived by validation.
type Note struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Duration int    `json:"duration"`
	Tone     int    `json:"tone"` // MIDI note number
	Lyric    string `json:"lyric"`

	Phonemes []Phoneme `json:"-"`
	Error    string    `json:"-"`
}

// Phoneme is a phonemizer output aligned to a note, offset in ticks from the note start.
type Phoneme struct {
	Symbol string `json:"symbol"`
	Offset int    `json:"offset"`
}

// End returns the tick right after the note.
func (n Note) End() int { return n.Position + n.Duration }

// End returns the absolute tick right after the part.
func (p VoicePart) End() int { return p.Position + p.Duration }

// NewID returns a fresh identifier for project entities.
func NewID() string { return uuid.NewString() }

// NewProject returns an empty project at 120 BPM, 4/4, with one track.
func NewProject(name string) *Project {
	return &Project{
		ID:             NewID(),
		Name:           name,
		Resolution:     DefaultResolution,
		Tempos:         []Tempo{{Position: 0, BPM: 120}},
		TimeSignatures: []TimeSignature{{BarPosition: 0, BeatPerBar: 4, BeatUnit: 4}},
		Tracks:         []Track{NewTrack("Track 1")},
		Parts:          []VoicePart{},
	}
}

// NewTrack returns a track at unity gain using the default phonemizer.
func NewTrack(name string) Track {
	return Track{ID: NewID(), Name: name, Phonemizer: "default"}
}

// NewNote returns a note with a fresh id.
func NewNote(position, duration, tone int, lyric string) Note {
	return Note{ID: NewID(), Position: position, Duration: duration, Tone: tone, Lyric: lyric}
}

// NewPart returns an empty part on the given track.
func NewPart(name string, track, position, duration int) VoicePart {
	return VoicePart{ID: NewID(), Name: name, TrackIndex: track, Position: position, Duration: duration, Notes: []Note{}}
}

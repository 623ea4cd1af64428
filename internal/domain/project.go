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

// TrackIndex returns the index of the track with id, or -1.
func (p *Project) TrackIndex(id string) int {
	for i := range p.Tracks {
		if p.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// PartIndex returns the index of the part with id, or -1.
func (p *Project) PartIndex(id string) int {
	for i := range p.Parts {
		if p.Parts[i].ID == id {
			return i
		}
	}
	return -1
}

// Part returns a pointer into Parts for id, or nil.
func (p *Project) Part(id string) *VoicePart {
	if i := p.PartIndex(id); i >= 0 {
		return &p.Parts[i]
	}
	return nil
}

// NoteIndex returns the index of the note with id, or -1.
func (vp *VoicePart) NoteIndex(id string) int {
	for i := range vp.Notes {
		if vp.Notes[i].ID == id {
			return i
		}
	}
	return -1
}

// Note returns a pointer to the note with id, or nil.
func (vp *VoicePart) Note(id string) *Note {
	if i := vp.NoteIndex(id); i >= 0 {
		return &vp.Notes[i]
	}
	return nil
}

// PartsOnTrack returns the indexes of parts placed on track.
func (p *Project) PartsOnTrack(track int) []int {
	var out []int
	for i := range p.Parts {
		if p.Parts[i].TrackIndex == track {
			out = append(out, i)
		}
	}
	return out
}

// EndTick returns the last tick covered by any part.
func (p *Project) EndTick() int {
	end := 0
	for i := range p.Parts {
		if e := p.Parts[i].End(); e > end {
			end = e
		}
	}
	return end
}

// Clone returns a deep copy suitable as a read-only render snapshot.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Tempos = append([]Tempo(nil), p.Tempos...)
	c.TimeSignatures = append([]TimeSignature(nil), p.TimeSignatures...)
	c.Tracks = append([]Track(nil), p.Tracks...)
	c.Parts = make([]VoicePart, len(p.Parts))
	for i, part := range p.Parts {
		c.Parts[i] = part
		c.Parts[i].Notes = make([]Note, len(part.Notes))
		for j, n := range part.Notes {
			c.Parts[i].Notes[j] = n
			c.Parts[i].Notes[j].Phonemes = append([]Phoneme(nil), n.Phonemes...)
		}
	}
	return &c
}

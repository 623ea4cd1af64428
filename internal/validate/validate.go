/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package validate recomputes derived note state (order, errors, phonemes) after edits.
package validate

import (
	"errors"
	"log/slog"
	"sort"

	"vocalis/internal/command"
	"vocalis/internal/domain"
	applog "vocalis/internal/log"
	"vocalis/internal/phonemizer"
)

const (
	MsgEmptyLyric = "empty lyric"
	MsgOverlap    = "overlaps previous note"
	MsgOutOfPart  = "outside of part"
)

// Validator updates derived state for the given scope. It runs with the document
// lock held and must not block.
type Validator interface {
	Validate(p *domain.Project, scope command.Scope)
}

// Default sorts notes, flags problems and fills phonemes using each track's phonemizer.
type Default struct {
	phonemizers *phonemizer.Factory
	log         *slog.Logger
}

func New(f *phonemizer.Factory) *Default {
	if f == nil {
		f = phonemizer.NewBuiltinFactory()
	}
	return &Default{phonemizers: f, log: applog.WithComponent("validate")}
}

func (v *Default) Validate(p *domain.Project, scope command.Scope) {
	if p == nil {
		return
	}
	cache := map[string]phonemizer.Phonemizer{}
	switch scope.Kind {
	case command.ScopeProject:
		for i := range p.Parts {
			v.part(p, &p.Parts[i], cache)
		}
		clampCursor(p)
	case command.ScopeTrack:
		for _, i := range p.PartsOnTrack(scope.Track) {
			v.part(p, &p.Parts[i], cache)
		}
	case command.ScopePart:
		if part := p.Part(scope.Part); part != nil {
			v.part(p, part, cache)
		}
	}
}

func clampCursor(p *domain.Project) {
	if p.PlayPosTick < 0 {
		p.PlayPosTick = 0
	}
}

func (v *Default) phonemizerFor(p *domain.Project, track int, cache map[string]phonemizer.Phonemizer) phonemizer.Phonemizer {
	id := ""
	if track >= 0 && track < len(p.Tracks) {
		id = p.Tracks[track].Phonemizer
	}
	if ph, ok := cache[id]; ok {
		return ph
	}
	ph, err := v.phonemizers.Create(id)
	if err != nil {
		v.log.Warn("falling back to default phonemizer", slog.String("id", id), slog.Any("err", err))
		ph = phonemizer.Passthrough{}
	}
	cache[id] = ph
	return ph
}

func (v *Default) part(p *domain.Project, part *domain.VoicePart, cache map[string]phonemizer.Phonemizer) {
	sort.SliceStable(part.Notes, func(i, j int) bool { return part.Notes[i].Position < part.Notes[j].Position })
	ph := v.phonemizerFor(p, part.TrackIndex, cache)
	for i := range part.Notes {
		n := &part.Notes[i]
		n.Error = ""
		var prev, next *domain.Note
		if i > 0 {
			prev = &part.Notes[i-1]
		}
		if i+1 < len(part.Notes) {
			next = &part.Notes[i+1]
		}
		switch {
		case prev != nil && prev.End() > n.Position:
			n.Error = MsgOverlap
		case n.End() > part.Duration:
			n.Error = MsgOutOfPart
		}
		phonemes, err := ph.Phonemize(*n, prev, next)
		if err != nil {
			if n.Error == "" {
				if errors.Is(err, phonemizer.ErrNoLyric) {
					n.Error = MsgEmptyLyric
				} else {
					n.Error = err.Error()
				}
			}
			phonemes = nil
		}
		n.Phonemes = phonemes
	}
}

// Issue is a note flagged by validation.
type Issue struct {
	PartID  string
	NoteID  string
	Tick    int
	Message string
}

// Issues lists notes carrying an error, in part then note order.
func Issues(p *domain.Project) []Issue {
	var out []Issue
	for _, part := range p.Parts {
		for _, n := range part.Notes {
			if n.Error != "" {
				out = append(out, Issue{PartID: part.ID, NoteID: n.ID, Tick: part.Position + n.Position, Message: n.Error})
			}
		}
	}
	return out
}

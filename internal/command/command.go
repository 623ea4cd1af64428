/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package command defines the reversible edits applied to a project and the
// side-effect-only notifications that travel on the same bus.
package command

import (
	"errors"
	"fmt"

	"vocalis/internal/domain"
)

var (
	ErrPartNotFound  = errors.New("part not found")
	ErrNoteNotFound  = errors.New("note not found")
	ErrTrackNotFound = errors.New("track not found")
	ErrInvalidEdit   = errors.New("invalid edit")
)

// Command is anything published on the notification bus.
type Command interface {
	// IsSilent reports whether subscribers may skip the command. Delivery still happens.
	IsSilent() bool
	Description() string
}

// Base carries the fields shared by every command. Embed it.
type Base struct {
	Silent bool
}

func (b Base) IsSilent() bool { return b.Silent }

// Mutation changes the project and can be reversed. Execute and Unexecute run with
// the document lock held and must leave the project untouched when they fail.
type Mutation interface {
	Command
	Execute(p *domain.Project) error
	Unexecute(p *domain.Project) error
	ValidationScope() Scope
}

// Merger is implemented by mutations that can absorb a directly following mutation
// of the same kind when a group is committed.
type Merger interface {
	Merge(next Mutation) bool
}

// Notification is a side-effect-only command. It is never placed on the undo stack.
type Notification interface {
	Command
	notification()
}

// NotificationBase marks a type as a Notification. Embed it.
type NotificationBase struct {
	Base
}

func (NotificationBase) notification() {}

// Expirable notifications are dropped before delivery once Expired reports true.
type Expirable interface {
	Expired() bool
}

// ScopeKind selects how much of the project needs validation after an edit.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeProject
	ScopeTrack
	ScopePart
)

// Scope names the region of the project touched by a mutation.
type Scope struct {
	Kind  ScopeKind
	Track int
	Part  string
}

func NoScope() Scope { return Scope{Kind: ScopeNone} }

func ProjectScope() Scope { return Scope{Kind: ScopeProject} }

func TrackScope(track int) Scope { return Scope{Kind: ScopeTrack, Track: track} }

func PartScope(partID string) Scope { return Scope{Kind: ScopePart, Part: partID} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeProject:
		return "project"
	case ScopeTrack:
		return fmt.Sprintf("track[%d]", s.Track)
	case ScopePart:
		return "part[" + s.Part + "]"
	default:
		return "none"
	}
}

func findPart(p *domain.Project, id string) (*domain.VoicePart, error) {
	part := p.Part(id)
	if part == nil {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, id)
	}
	return part, nil
}

func findNote(p *domain.Project, partID, noteID string) (*domain.VoicePart, int, error) {
	part, err := findPart(p, partID)
	if err != nil {
		return nil, -1, err
	}
	i := part.NoteIndex(noteID)
	if i < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrNoteNotFound, noteID)
	}
	return part, i, nil
}

func checkTrack(p *domain.Project, idx int) error {
	if idx < 0 || idx >= len(p.Tracks) {
		return fmt.Errorf("%w: index %d", ErrTrackNotFound, idx)
	}
	return nil
}

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
	"fmt"
	"slices"

	"vocalis/internal/domain"
)

// AddNote inserts a note into a part.
type AddNote struct {
	Base
	PartID string
	Note   domain.Note
}

func NewAddNote(partID string, n domain.Note) *AddNote {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	return &AddNote{PartID: partID, Note: n}
}

func (c *AddNote) Description() string { return "add note" }
func (c *AddNote) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *AddNote) Execute(p *domain.Project) error {
	part, err := findPart(p, c.PartID)
	if err != nil {
		return err
	}
	if c.Note.Duration <= 0 || c.Note.Position < 0 {
		return fmt.Errorf("%w: note position %d duration %d", ErrInvalidEdit, c.Note.Position, c.Note.Duration)
	}
	part.Notes = append(part.Notes, c.Note)
	return nil
}

func (c *AddNote) Unexecute(p *domain.Project) error {
	part, i, err := findNote(p, c.PartID, c.Note.ID)
	if err != nil {
		return err
	}
	part.Notes = slices.Delete(part.Notes, i, i+1)
	return nil
}

// RemoveNote deletes a note, remembering it and its index for undo.
type RemoveNote struct {
	Base
	PartID string
	NoteID string

	removed domain.Note
	index   int
}

func NewRemoveNote(partID, noteID string) *RemoveNote {
	return &RemoveNote{PartID: partID, NoteID: noteID}
}

func (c *RemoveNote) Description() string { return "remove note" }
func (c *RemoveNote) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *RemoveNote) Execute(p *domain.Project) error {
	part, i, err := findNote(p, c.PartID, c.NoteID)
	if err != nil {
		return err
	}
	c.removed, c.index = part.Notes[i], i
	part.Notes = slices.Delete(part.Notes, i, i+1)
	return nil
}

func (c *RemoveNote) Unexecute(p *domain.Project) error {
	part, err := findPart(p, c.PartID)
	if err != nil {
		return err
	}
	idx := min(c.index, len(part.Notes))
	part.Notes = slices.Insert(part.Notes, idx, c.removed)
	return nil
}

// MoveNote shifts a note in time and pitch.
type MoveNote struct {
	Base
	PartID    string
	NoteID    string
	DeltaTick int
	DeltaTone int
}

func NewMoveNote(partID, noteID string, deltaTick, deltaTone int) *MoveNote {
	return &MoveNote{PartID: partID, NoteID: noteID, DeltaTick: deltaTick, DeltaTone: deltaTone}
}

func (c *MoveNote) Description() string { return "move note" }
func (c *MoveNote) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *MoveNote) apply(p *domain.Project, sign int) error {
	part, i, err := findNote(p, c.PartID, c.NoteID)
	if err != nil {
		return err
	}
	n := &part.Notes[i]
	pos, tone := n.Position+sign*c.DeltaTick, n.Tone+sign*c.DeltaTone
	if pos < 0 || tone < 0 || tone > 127 {
		return fmt.Errorf("%w: note would move to tick %d tone %d", ErrInvalidEdit, pos, tone)
	}
	n.Position, n.Tone = pos, tone
	return nil
}

func (c *MoveNote) Execute(p *domain.Project) error { return c.apply(p, 1) }
func (c *MoveNote) Unexecute(p *domain.Project) error { return c.apply(p, -1) }

// Merge folds a following move of the same note into this one, so a drag becomes a single step.
func (c *MoveNote) Merge(next Mutation) bool {
	n, ok := next.(*MoveNote)
	if !ok || n.PartID != c.PartID || n.NoteID != c.NoteID {
		return false
	}
	c.DeltaTick += n.DeltaTick
	c.DeltaTone += n.DeltaTone
	return true
}

// ResizeNote changes a note's duration.
type ResizeNote struct {
	Base
	PartID string
	NoteID string
	Delta  int
}

func NewResizeNote(partID, noteID string, delta int) *ResizeNote {
	return &ResizeNote{PartID: partID, NoteID: noteID, Delta: delta}
}

func (c *ResizeNote) Description() string { return "resize note" }
func (c *ResizeNote) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *ResizeNote) apply(p *domain.Project, delta int) error {
	part, i, err := findNote(p, c.PartID, c.NoteID)
	if err != nil {
		return err
	}
	d := part.Notes[i].Duration + delta
	if d <= 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidEdit, d)
	}
	part.Notes[i].Duration = d
	return nil
}

func (c *ResizeNote) Execute(p *domain.Project) error { return c.apply(p, c.Delta) }
func (c *ResizeNote) Unexecute(p *domain.Project) error { return c.apply(p, -c.Delta) }

// ChangeNoteLyric replaces a note's lyric.
type ChangeNoteLyric struct {
	Base
	PartID string
	NoteID string
	Lyric  string

	old string
}

func NewChangeNoteLyric(partID, noteID, lyric string) *ChangeNoteLyric {
	return &ChangeNoteLyric{PartID: partID, NoteID: noteID, Lyric: lyric}
}

func (c *ChangeNoteLyric) Description() string { return "change lyric" }
func (c *ChangeNoteLyric) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *ChangeNoteLyric) Execute(p *domain.Project) error {
	part, i, err := findNote(p, c.PartID, c.NoteID)
	if err != nil {
		return err
	}
	c.old = part.Notes[i].Lyric
	part.Notes[i].Lyric = c.Lyric
	return nil
}

func (c *ChangeNoteLyric) Unexecute(p *domain.Project) error {
	part, i, err := findNote(p, c.PartID, c.NoteID)
	if err != nil {
		return err
	}
	part.Notes[i].Lyric = c.old
	return nil
}

// Merge keeps this command's original lyric and adopts the later one's new lyric.
func (c *ChangeNoteLyric) Merge(next Mutation) bool {
	n, ok := next.(*ChangeNoteLyric)
	if !ok || n.PartID != c.PartID || n.NoteID != c.NoteID {
		return false
	}
	c.Lyric = n.Lyric
	return true
}

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

// AddPart places a voice part on a track.
type AddPart struct {
	Base
	Part domain.VoicePart
}

func NewAddPart(part domain.VoicePart) *AddPart {
	if part.ID == "" {
		part.ID = domain.NewID()
	}
	return &AddPart{Part: part}
}

func (c *AddPart) Description() string { return "add part" }

func (c *AddPart) ValidationScope() Scope { return PartScope(c.Part.ID) }

func (c *AddPart) Execute(p *domain.Project) error {
	if err := checkTrack(p, c.Part.TrackIndex); err != nil {
		return err
	}
	part := c.Part
	part.Notes = slices.Clone(c.Part.Notes)
	p.Parts = append(p.Parts, part)
	return nil
}

func (c *AddPart) Unexecute(p *domain.Project) error {
	i := p.PartIndex(c.Part.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPartNotFound, c.Part.ID)
	}
	p.Parts = slices.Delete(p.Parts, i, i+1)
	return nil
}

// RemovePart deletes a voice part.
type RemovePart struct {
	Base
	PartID string

	removed domain.VoicePart
	index   int
}

func NewRemovePart(partID string) *RemovePart { return &RemovePart{PartID: partID} }

func (c *RemovePart) Description() string { return "remove part" }

func (c *RemovePart) ValidationScope() Scope { return NoScope() }

func (c *RemovePart) Execute(p *domain.Project) error {
	i := p.PartIndex(c.PartID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPartNotFound, c.PartID)
	}
	c.removed, c.index = p.Parts[i], i
	p.Parts = slices.Delete(p.Parts, i, i+1)
	return nil
}

func (c *RemovePart) Unexecute(p *domain.Project) error {
	p.Parts = slices.Insert(p.Parts, min(c.index, len(p.Parts)), c.removed)
	return nil
}

// MovePart moves a part in time and optionally to another track.
type MovePart struct {
	Base
	PartID   string
	Position int
	Track    int

	oldPosition int
	oldTrack    int
}

func NewMovePart(partID string, position, track int) *MovePart {
	return &MovePart{PartID: partID, Position: position, Track: track}
}

func (c *MovePart) Description() string { return "move part" }

func (c *MovePart) ValidationScope() Scope { return PartScope(c.PartID) }

func (c *MovePart) Execute(p *domain.Project) error {
	part, err := findPart(p, c.PartID)
	if err != nil {
		return err
	}
	if err := checkTrack(p, c.Track); err != nil {
		return err
	}
	if c.Position < 0 {
		return fmt.Errorf("%w: part position %d", ErrInvalidEdit, c.Position)
	}
	c.oldPosition, c.oldTrack = part.Position, part.TrackIndex
	part.Position, part.TrackIndex = c.Position, c.Track
	return nil
}

func (c *MovePart) Unexecute(p *domain.Project) error {
	part, err := findPart(p, c.PartID)
	if err != nil {
		return err
	}
	part.Position, part.TrackIndex = c.oldPosition, c.oldTrack
	return nil
}

func (c *MovePart) Merge(next Mutation) bool {
	n, ok := next.(*MovePart)
	if !ok || n.PartID != c.PartID {
		return false
	}
	c.Position, c.Track = n.Position, n.Track
	return true
}

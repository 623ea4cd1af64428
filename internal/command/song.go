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
	"sort"

	"vocalis/internal/domain"
)

// ChangeBPM sets the tempo at a tick, inserting a tempo change if none exists there.
type ChangeBPM struct {
	Base
	Position int
	BPM      float64

	old     float64
	existed bool
}

func NewChangeBPM(position int, bpm float64) *ChangeBPM {
	return &ChangeBPM{Position: position, BPM: bpm}
}

func (c *ChangeBPM) Description() string { return fmt.Sprintf("tempo %.2f", c.BPM) }

func (c *ChangeBPM) ValidationScope() Scope { return ProjectScope() }

func (c *ChangeBPM) Execute(p *domain.Project) error {
	if c.BPM <= 0 || c.BPM > 1000 || c.Position < 0 {
		return fmt.Errorf("%w: tempo %.2f at %d", ErrInvalidEdit, c.BPM, c.Position)
	}
	i := slices.IndexFunc(p.Tempos, func(t domain.Tempo) bool { return t.Position == c.Position })
	if i >= 0 {
		c.old, c.existed = p.Tempos[i].BPM, true
		p.Tempos[i].BPM = c.BPM
		return nil
	}
	c.existed = false
	p.Tempos = append(p.Tempos, domain.Tempo{Position: c.Position, BPM: c.BPM})
	sort.SliceStable(p.Tempos, func(a, b int) bool { return p.Tempos[a].Position < p.Tempos[b].Position })
	return nil
}

func (c *ChangeBPM) Unexecute(p *domain.Project) error {
	i := slices.IndexFunc(p.Tempos, func(t domain.Tempo) bool { return t.Position == c.Position })
	if i < 0 {
		return fmt.Errorf("%w: no tempo at %d", ErrInvalidEdit, c.Position)
	}
	if c.existed {
		p.Tempos[i].BPM = c.old
	} else {
		p.Tempos = slices.Delete(p.Tempos, i, i+1)
	}
	return nil
}

func (c *ChangeBPM) Merge(next Mutation) bool {
	n, ok := next.(*ChangeBPM)
	if !ok || n.Position != c.Position {
		return false
	}
	c.BPM = n.BPM
	return true
}

// ChangeTimeSignature sets the meter starting at a bar.
type ChangeTimeSignature struct {
	Base
	BarPosition int
	BeatPerBar  int
	BeatUnit    int

	old     domain.TimeSignature
	existed bool
}

func NewChangeTimeSignature(bar, beatPerBar, beatUnit int) *ChangeTimeSignature {
	return &ChangeTimeSignature{BarPosition: bar, BeatPerBar: beatPerBar, BeatUnit: beatUnit}
}

func (c *ChangeTimeSignature) Description() string {
	return fmt.Sprintf("time signature %d/%d", c.BeatPerBar, c.BeatUnit)
}

func (c *ChangeTimeSignature) ValidationScope() Scope { return NoScope() }

func validBeatUnit(u int) bool {
	switch u {
	case 1, 2, 4, 8, 16, 32:
		return true
	}
	return false
}

func (c *ChangeTimeSignature) Execute(p *domain.Project) error {
	if c.BeatPerBar <= 0 || !validBeatUnit(c.BeatUnit) || c.BarPosition < 0 {
		return fmt.Errorf("%w: time signature %d/%d", ErrInvalidEdit, c.BeatPerBar, c.BeatUnit)
	}
	ts := domain.TimeSignature{BarPosition: c.BarPosition, BeatPerBar: c.BeatPerBar, BeatUnit: c.BeatUnit}
	i := slices.IndexFunc(p.TimeSignatures, func(t domain.TimeSignature) bool { return t.BarPosition == c.BarPosition })
	if i >= 0 {
		c.old, c.existed = p.TimeSignatures[i], true
		p.TimeSignatures[i] = ts
		return nil
	}
	c.existed = false
	p.TimeSignatures = append(p.TimeSignatures, ts)
	sort.SliceStable(p.TimeSignatures, func(a, b int) bool {
		return p.TimeSignatures[a].BarPosition < p.TimeSignatures[b].BarPosition
	})
	return nil
}

func (c *ChangeTimeSignature) Unexecute(p *domain.Project) error {
	i := slices.IndexFunc(p.TimeSignatures, func(t domain.TimeSignature) bool { return t.BarPosition == c.BarPosition })
	if i < 0 {
		return fmt.Errorf("%w: no time signature at bar %d", ErrInvalidEdit, c.BarPosition)
	}
	if c.existed {
		p.TimeSignatures[i] = c.old
	} else {
		p.TimeSignatures = slices.Delete(p.TimeSignatures, i, i+1)
	}
	return nil
}

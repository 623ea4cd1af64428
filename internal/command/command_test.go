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
	"errors"
	"reflect"
	"testing"

	"vocalis/internal/domain"
)

func sampleProject() (*domain.Project, string) {
	p := domain.NewProject("t")
	p.Tracks = append(p.Tracks, domain.NewTrack("Track 2"))
	a := domain.NewPart("A", 0, 0, 1920)
	a.Notes = append(a.Notes, domain.NewNote(0, 480, 60, "la"), domain.NewNote(480, 480, 62, "li"))
	b := domain.NewPart("B", 1, 0, 1920)
	p.Parts = append(p.Parts, a, b)
	return p, a.ID
}

// roundTrip executes and unexecutes m, then re-executes it, checking both states.
func roundTrip(t *testing.T, p *domain.Project, m Mutation) *domain.Project {
	t.Helper()
	before := p.Clone()
	if err := m.Execute(p); err != nil {
		t.Fatalf("%s: execute: %v", m.Description(), err)
	}
	after := p.Clone()
	if err := m.Unexecute(p); err != nil {
		t.Fatalf("%s: unexecute: %v", m.Description(), err)
	}
	if !reflect.DeepEqual(before, p) {
		t.Fatalf("%s: unexecute did not restore state", m.Description())
	}
	if err := m.Execute(p); err != nil {
		t.Fatalf("%s: re-execute: %v", m.Description(), err)
	}
	if !reflect.DeepEqual(after, p) {
		t.Fatalf("%s: re-execute differs from first execute", m.Description())
	}
	return after
}

func TestMutationsRoundTrip(t *testing.T) {
	p, partID := sampleProject()
	n0 := p.Parts[0].Notes[0].ID
	muts := []Mutation{
		NewAddNote(partID, domain.NewNote(960, 240, 64, "lu")),
		NewRemoveNote(partID, n0),
		NewAddNote(partID, domain.NewNote(0, 120, 50, "a")),
		NewMoveNote(partID, p.Parts[0].Notes[1].ID, 120, -2),
		NewResizeNote(partID, p.Parts[0].Notes[1].ID, 60),
		NewChangeNoteLyric(partID, p.Parts[0].Notes[1].ID, "lo"),
		NewAddTrack("Track 3"),
		NewTrackVolume(0, -6),
		NewTrackPan(1, 250),
		NewTrackMute(0, true),
		NewTrackSolo(1, true),
		NewChangeTrackSinger(0, "alto"),
		NewChangeTrackPhonemizer(1, "syllable"),
		NewAddPart(domain.NewPart("C", 1, 1920, 960)),
		NewMovePart(partID, 960, 1),
		NewRemovePart(partID),
		NewChangeBPM(0, 90),
		NewChangeBPM(1920, 140),
		NewChangeTimeSignature(0, 3, 4),
		NewChangeTimeSignature(4, 6, 8),
		NewRemoveTrack(0),
	}
	for _, m := range muts {
		roundTrip(t, p, m)
	}
}

func TestRemoveTrackShiftsLaterParts(t *testing.T) {
	p, _ := sampleProject()
	after := roundTrip(t, p, NewRemoveTrack(0))
	if len(after.Tracks) != 1 || len(after.Parts) != 1 {
		t.Fatalf("expected 1 track and 1 part, got %d/%d", len(after.Tracks), len(after.Parts))
	}
	if after.Parts[0].TrackIndex != 0 || after.Parts[0].Name != "B" {
		t.Fatalf("part B should now sit on track 0: %+v", after.Parts[0])
	}
}

func TestFailedExecuteLeavesProjectUnchanged(t *testing.T) {
	p, partID := sampleProject()
	before := p.Clone()
	cases := []struct {
		m    Mutation
		want error
	}{
		{NewAddNote("missing", domain.NewNote(0, 10, 60, "a")), ErrPartNotFound},
		{NewAddNote(partID, domain.NewNote(0, 0, 60, "a")), ErrInvalidEdit},
		{NewRemoveNote(partID, "missing"), ErrNoteNotFound},
		{NewMoveNote(partID, p.Parts[0].Notes[0].ID, -10, 0), ErrInvalidEdit},
		{NewResizeNote(partID, p.Parts[0].Notes[0].ID, -480), ErrInvalidEdit},
		{NewTrackVolume(9, 0), ErrTrackNotFound},
		{NewChangeBPM(0, 0), ErrInvalidEdit},
		{NewChangeTimeSignature(0, 4, 3), ErrInvalidEdit},
		{NewMovePart(partID, 0, 5), ErrTrackNotFound},
	}
	for _, c := range cases {
		err := c.m.Execute(p)
		if !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v, want %v", c.m.Description(), err, c.want)
		}
	}
	if !reflect.DeepEqual(before, p) {
		t.Fatalf("failed commands modified the project")
	}
}

func TestMergeLyricKeepsFirstOldValue(t *testing.T) {
	p, partID := sampleProject()
	id := p.Parts[0].Notes[0].ID
	first := NewChangeNoteLyric(partID, id, "x")
	second := NewChangeNoteLyric(partID, id, "y")
	if err := first.Execute(p); err != nil {
		t.Fatal(err)
	}
	if err := second.Execute(p); err != nil {
		t.Fatal(err)
	}
	if !first.Merge(second) {
		t.Fatalf("expected lyric edits on the same note to merge")
	}
	if err := first.Unexecute(p); err != nil {
		t.Fatal(err)
	}
	if got := p.Parts[0].Notes[0].Lyric; got != "la" {
		t.Fatalf("merged undo should restore %q, got %q", "la", got)
	}
	other := NewChangeNoteLyric(partID, p.Parts[0].Notes[1].ID, "z")
	if first.Merge(other) {
		t.Fatalf("edits on different notes must not merge")
	}
	if first.Merge(NewTrackVolume(0, 1)) {
		t.Fatalf("different command kinds must not merge")
	}
}

func TestNotificationsAreNotMutations(t *testing.T) {
	cmds := []Command{
		SaveNotification{}, AutosaveNotification{}, LoadProjectNotification{},
		SingerChangedNotification{}, SetPlayPosNotification{}, PreRenderNotification{},
		NewErrorNotification("boom", errors.New("x")), ReloadStartedNotification{}, ReloadFinishedNotification{},
	}
	for _, c := range cmds {
		if _, ok := c.(Notification); !ok {
			t.Fatalf("%T should be a notification", c)
		}
		if _, ok := c.(Mutation); ok {
			t.Fatalf("%T must not be a mutation", c)
		}
	}
	if !(SetPlayPosNotification{NotificationBase: NotificationBase{Base{Silent: true}}}).IsSilent() {
		t.Fatalf("silent flag not promoted")
	}
}

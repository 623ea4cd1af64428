/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/internal/command"
	"vocalis/internal/domain"
	"vocalis/internal/notify"
	"vocalis/internal/validate"
)

type countingValidator struct {
	mu     sync.Mutex
	scopes []command.Scope
	inner  validate.Validator
}

func (v *countingValidator) Validate(p *domain.Project, s command.Scope) {
	v.mu.Lock()
	v.scopes = append(v.scopes, s)
	v.mu.Unlock()
	v.inner.Validate(p, s)
}

func (v *countingValidator) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.scopes)
}

func (v *countingValidator) reset() {
	v.mu.Lock()
	v.scopes = nil
	v.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	cmds []command.Command
	undo []bool
}

func (r *recorder) OnNotify(c command.Command, isUndo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, c)
	r.undo = append(r.undo, isUndo)
}

func (r *recorder) ofType(match func(command.Command) bool) []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []command.Command
	for _, c := range r.cmds {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	e    *Engine
	v    *countingValidator
	rec  *recorder
	ctx  context.Context
	part string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	doc := domain.NewProject("test")
	part := domain.NewPart("A", 0, 0, 1920*4)
	doc.Parts = append(doc.Parts, part)

	v := &countingValidator{inner: validate.New(nil)}
	cfg.Validator = v
	bus := notify.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec)
	e := New(cfg, doc, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return &fixture{e: e, v: v, rec: rec, ctx: context.Background(), part: part.ID}
}

// flush waits until everything posted so far has run on the owner goroutine.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.e.Do(f.ctx, func(*Tx) error { return nil }))
}

func (f *fixture) notes() []domain.Note {
	return f.e.Snapshot().Part(f.part).Notes
}

// strip drops state recomputed by validation.
func strip(p *domain.Project) *domain.Project {
	for i := range p.Parts {
		for j := range p.Parts[i].Notes {
			p.Parts[i].Notes[j].Phonemes = nil
			p.Parts[i].Notes[j].Error = ""
		}
	}
	return p
}

func TestAddTwoNotesUndoRedo(t *testing.T) {
	f := newFixture(t, Config{})
	n1 := domain.NewNote(0, 480, 60, "la")
	n2 := domain.NewNote(480, 480, 62, "li")

	f.e.BeginGroup(false)
	f.e.Execute(command.NewAddNote(f.part, n1))
	f.e.Execute(command.NewAddNote(f.part, n2))
	f.e.EndGroup()
	f.flush(t)
	require.Len(t, f.notes(), 2)
	require.Equal(t, 1, f.e.UndoDepth())

	f.e.Undo()
	f.flush(t)
	require.Empty(t, f.notes())
	require.Equal(t, 0, f.e.UndoDepth())
	require.Equal(t, 1, f.e.RedoDepth())

	f.e.Redo()
	f.flush(t)
	notes := f.notes()
	require.Len(t, notes, 2)
	require.Equal(t, n1.ID, notes[0].ID)
	require.Equal(t, n2.ID, notes[1].ID)
	require.Equal(t, 1, f.e.UndoDepth())
	require.Equal(t, 0, f.e.RedoDepth())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	initial := strip(f.e.Snapshot())

	var noteID string
	groups := []func(tx *Tx) error{
		func(tx *Tx) error {
			n := domain.NewNote(0, 480, 60, "a")
			noteID = n.ID
			return tx.Execute(command.NewAddNote(f.part, n))
		},
		func(tx *Tx) error { return tx.Execute(command.NewMoveNote(f.part, noteID, 240, 2)) },
		func(tx *Tx) error { return tx.Execute(command.NewChangeNoteLyric(f.part, noteID, "ka-ra")) },
		func(tx *Tx) error { return tx.Execute(command.NewAddTrack("second")) },
		func(tx *Tx) error {
			if err := tx.Execute(command.NewChangeBPM(0, 90)); err != nil {
				return err
			}
			return tx.Execute(command.NewTrackVolume(0, -3))
		},
	}
	for _, g := range groups {
		require.NoError(t, f.e.Group(f.ctx, false, g))
	}
	final := strip(f.e.Snapshot())

	for range groups {
		f.e.Undo()
	}
	f.flush(t)
	require.Equal(t, initial, strip(f.e.Snapshot()))

	for range groups {
		f.e.Redo()
	}
	f.flush(t)
	require.Equal(t, final, strip(f.e.Snapshot()))
}

func TestBoundedHistory(t *testing.T) {
	f := newFixture(t, Config{UndoLimit: 3})
	for i := 1; i <= 5; i++ {
		db := float64(-i)
		require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
			return tx.Execute(command.NewTrackVolume(0, db))
		}))
	}
	require.Equal(t, 3, f.e.UndoDepth())

	err := f.e.Do(f.ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Undo(); err != nil {
				return err
			}
		}
		return tx.Undo()
	})
	require.ErrorIs(t, err, ErrNothingToUndo)
	require.Equal(t, -2.0, f.e.Snapshot().Tracks[0].Volume)
	require.Equal(t, 3, f.e.RedoDepth())
}

func TestEmptyGroupIsDiscarded(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
		return tx.Execute(command.NewTrackMute(0, true))
	}))
	f.e.Undo()
	f.e.BeginGroup(false)
	f.e.EndGroup()
	f.flush(t)
	require.Equal(t, 0, f.e.UndoDepth())
	require.Equal(t, 1, f.e.RedoDepth())
}

func TestDeferredGroupValidatesOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.v.reset()
	require.NoError(t, f.e.Group(f.ctx, true, func(tx *Tx) error {
		for i := 0; i < 5; i++ {
			if err := tx.Execute(command.NewAddNote(f.part, domain.NewNote(i*480, 480, 60, "a"))); err != nil {
				return err
			}
		}
		return nil
	}))
	require.Equal(t, 1, f.v.count())

	f.v.reset()
	f.e.Undo()
	f.flush(t)
	require.Equal(t, 1, f.v.count())

	f.v.reset()
	f.e.Redo()
	f.flush(t)
	require.Equal(t, 1, f.v.count())

	f.v.reset()
	require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Execute(command.NewAddNote(f.part, domain.NewNote(4000+i*480, 480, 60, "a"))); err != nil {
				return err
			}
		}
		return nil
	}))
	require.Equal(t, 3, f.v.count())

	// Without deferral each command validates once and the commit adds nothing.
	f.v.reset()
	require.NoError(t, f.e.Do(f.ctx, func(tx *Tx) error {
		tx.BeginGroup(false)
		for i := 0; i < 4; i++ {
			if err := tx.Execute(command.NewAddNote(f.part, domain.NewNote(6000+i*480, 480, 60, "a"))); err != nil {
				return err
			}
		}
		if n := f.v.count(); n != 4 {
			return fmt.Errorf("validations before commit = %d, want 4", n)
		}
		tx.EndGroup()
		return nil
	}))
	require.Equal(t, 4, f.v.count())
}

func TestMutationOutsideGroupIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.e.Do(f.ctx, func(tx *Tx) error {
		return tx.Execute(command.NewAddNote(f.part, domain.NewNote(0, 480, 60, "a")))
	})
	require.ErrorIs(t, err, ErrNoGroup)
	require.Empty(t, f.notes())
	require.False(t, f.e.CanUndo())
}

func TestFailedStepRollsBackGroup(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.e.Group(f.ctx, false, func(tx *Tx) error {
		if err := tx.Execute(command.NewAddNote(f.part, domain.NewNote(0, 480, 60, "a"))); err != nil {
			return err
		}
		return tx.Execute(command.NewAddNote("missing", domain.NewNote(0, 480, 60, "b")))
	})
	require.ErrorIs(t, err, command.ErrPartNotFound)
	require.Empty(t, f.notes())
	require.False(t, f.e.CanUndo())

	adds := f.rec.ofType(func(c command.Command) bool { _, ok := c.(*command.AddNote); return ok })
	require.Len(t, adds, 2)
	require.Equal(t, []bool{false, true}, f.rec.undo[:2])
}

// flaky fails its Unexecute on demand.
type flaky struct {
	command.Base
	failUndo bool
}

func (c *flaky) Description() string { return "flaky" }
func (c *flaky) ValidationScope() command.Scope { return command.NoScope() }
func (c *flaky) Execute(*domain.Project) error { return nil }
func (c *flaky) Unexecute(*domain.Project) error {
	if c.failUndo {
		return errors.New("cannot undo")
	}
	return nil
}

func TestUndoFailureKeepsGroupAndReverts(t *testing.T) {
	f := newFixture(t, Config{})
	fl := &flaky{}
	require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
		if err := tx.Execute(fl); err != nil {
			return err
		}
		return tx.Execute(command.NewAddNote(f.part, domain.NewNote(0, 480, 60, "a")))
	}))
	fl.failUndo = true

	err := f.e.Do(f.ctx, func(tx *Tx) error { return tx.Undo() })
	require.Error(t, err)
	require.Len(t, f.notes(), 1, "the note removed before the failure must be restored")
	require.Equal(t, 1, f.e.UndoDepth())
	require.Equal(t, 0, f.e.RedoDepth())

	errs := f.rec.ofType(func(c command.Command) bool { _, ok := c.(command.ErrorNotification); return ok })
	require.Len(t, errs, 1)
}

func TestDirtyTracksSavedRevision(t *testing.T) {
	f := newFixture(t, Config{})
	require.False(t, f.e.IsDirty())

	commit := func() {
		require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
			return tx.Execute(command.NewTrackSolo(0, true))
		}))
	}
	commit()
	require.True(t, f.e.IsDirty())
	require.True(t, f.e.IsAutosaveDirty())
	rev := f.e.Revision()

	f.e.Execute(command.SaveNotification{Path: "x"})
	f.flush(t)
	require.False(t, f.e.IsDirty())
	require.True(t, f.e.IsAutosaveDirty())

	f.e.Undo()
	f.flush(t)
	require.True(t, f.e.IsDirty())

	f.e.Redo()
	f.flush(t)
	require.False(t, f.e.IsDirty())
	require.Equal(t, rev, f.e.Revision())

	f.e.Execute(command.AutosaveNotification{})
	commit()
	require.True(t, f.e.IsDirty())
	require.Greater(t, f.e.Revision(), rev)
	require.True(t, f.e.IsAutosaveDirty())
}

func TestDirtyAfterUndoingPastEvictedHistory(t *testing.T) {
	f := newFixture(t, Config{UndoLimit: 1})
	for _, name := range []string{"Alto", "Tenor"} {
		require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
			return tx.Execute(command.NewAddTrack(name))
		}))
	}
	f.e.Undo()
	f.flush(t)

	require.Zero(t, f.e.UndoDepth())
	require.Len(t, f.e.Snapshot().Tracks, 2, "the evicted edit stays applied")
	require.True(t, f.e.IsDirty())
	require.True(t, f.e.IsAutosaveDirty())

	f.e.Execute(command.AutosaveNotification{})
	f.flush(t)
	require.False(t, f.e.IsAutosaveDirty())

	f.e.Redo()
	f.flush(t)
	require.True(t, f.e.IsAutosaveDirty())

	f.e.Execute(command.LoadProjectNotification{Project: domain.NewProject("fresh")})
	f.flush(t)
	require.False(t, f.e.IsDirty())
	require.Zero(t, f.e.Revision())
}

func TestLoadProjectResetsHistory(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 2; i++ {
		require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
			return tx.Execute(command.NewAddTrack("t"))
		}))
	}
	f.e.Undo()

	loaded := domain.NewProject("loaded")
	part := domain.NewPart("P", 0, 0, 960)
	part.Notes = []domain.Note{domain.NewNote(0, 480, 60, "la")}
	loaded.Parts = append(loaded.Parts, part)
	loaded.PlayPosTick = 999

	f.e.Execute(command.LoadProjectNotification{Project: loaded})
	f.flush(t)

	require.Equal(t, 0, f.e.UndoDepth())
	require.Equal(t, 0, f.e.RedoDepth())
	require.False(t, f.e.IsDirty())
	snap := f.e.Snapshot()
	require.Equal(t, "loaded", snap.Name)
	require.Equal(t, 0, snap.PlayPosTick)
	require.NotEmpty(t, snap.Parts[0].Notes[0].Phonemes, "load runs full validation")
}

func TestMergeableCommandsCompactOnCommit(t *testing.T) {
	f := newFixture(t, Config{})
	n := domain.NewNote(0, 480, 60, "a")
	require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
		return tx.Execute(command.NewAddNote(f.part, n))
	}))
	require.NoError(t, f.e.Group(f.ctx, false, func(tx *Tx) error {
		for _, l := range []string{"b", "bo", "bob"} {
			if err := tx.Execute(command.NewChangeNoteLyric(f.part, n.ID, l)); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, f.e.Do(f.ctx, func(tx *Tx) error {
		g, _ := tx.e.undo.Back()
		assert.Len(t, g.Commands, 1)
		return nil
	}))
	require.Equal(t, "bob", f.notes()[0].Lyric)
	f.e.Undo()
	f.flush(t)
	require.Equal(t, "a", f.notes()[0].Lyric)
}

func TestNotificationOrderFromForeignGoroutines(t *testing.T) {
	f := newFixture(t, Config{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.e.BeginGroup(false)
		for i := 0; i < 20; i++ {
			f.e.Execute(command.NewAddNote(f.part, domain.NewNote(i*480, 480, 60, "a")))
		}
		f.e.EndGroup()
		f.e.Execute(command.SetPlayPosNotification{Tick: 480})
	}()
	<-done
	f.flush(t)

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	var kinds []string
	for _, c := range f.rec.cmds {
		switch c.(type) {
		case *command.AddNote:
			kinds = append(kinds, "add")
		case command.PreRenderNotification:
			kinds = append(kinds, "prerender")
		case command.SetPlayPosNotification:
			kinds = append(kinds, "playpos")
		}
	}
	require.Len(t, kinds, 22)
	require.Equal(t, "prerender", kinds[20])
	require.Equal(t, "playpos", kinds[21])
	require.Equal(t, 480, f.e.Snapshot().PlayPosTick)
}

type staleResult struct {
	command.NotificationBase
	stale bool
}

func (s staleResult) Description() string { return "result" }
func (s staleResult) Expired() bool { return s.stale }

func TestExpiredNotificationIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	f.e.Execute(staleResult{stale: true})
	f.e.Execute(staleResult{stale: false})
	f.flush(t)
	got := f.rec.ofType(func(c command.Command) bool { _, ok := c.(staleResult); return ok })
	require.Len(t, got, 1)
	require.False(t, got[0].(staleResult).stale)
}

func TestProtocolErrorsAreNoOps(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.e.Do(f.ctx, func(tx *Tx) error {
		tx.EndGroup()
		tx.RollbackGroup()
		assert.ErrorIs(t, tx.Redo(), ErrNothingToRedo)
		tx.BeginGroup(false)
		assert.NoError(t, tx.Execute(command.NewTrackMute(0, true)))
		assert.ErrorIs(t, tx.Undo(), ErrGroupOpen)
		// A second BeginGroup commits the open group first.
		tx.BeginGroup(false)
		assert.NoError(t, tx.Execute(command.NewTrackSolo(0, true)))
		tx.EndGroup()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.e.UndoDepth())
}

func TestSingerChangedRevalidatesAndPreRenders(t *testing.T) {
	f := newFixture(t, Config{})
	f.v.reset()
	f.e.Execute(command.SingerChangedNotification{AssetID: "alto", PreRender: true})
	f.flush(t)
	require.Equal(t, 1, f.v.count())

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	n := len(f.rec.cmds)
	require.GreaterOrEqual(t, n, 2)
	require.IsType(t, command.SingerChangedNotification{}, f.rec.cmds[n-2])
	require.IsType(t, command.PreRenderNotification{}, f.rec.cmds[n-1])
}

func TestDoSurvivesPanic(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.e.Do(f.ctx, func(*Tx) error { panic("boom") })
	require.Error(t, err)
	f.flush(t)
}

// exploding fails halfway through Execute by panicking.
type exploding struct{ command.Base }

func (exploding) Description() string { return "exploding" }
func (exploding) ValidationScope() command.Scope { return command.NoScope() }
func (exploding) Execute(*domain.Project) error { panic("half applied") }
func (exploding) Unexecute(*domain.Project) error { return nil }

func TestPanickingCommandIsNotCommitted(t *testing.T) {
	f := newFixture(t, Config{})
	f.e.BeginGroup(false)
	f.e.Execute(exploding{})
	f.e.EndGroup()
	f.flush(t)
	require.Zero(t, f.e.UndoDepth())
	require.False(t, f.e.IsDirty())

	err := f.e.Group(f.ctx, false, func(tx *Tx) error {
		if err := tx.Execute(command.NewAddTrack("Alto")); err != nil {
			return err
		}
		return tx.Execute(exploding{})
	})
	require.Error(t, err)
	f.flush(t)
	require.Len(t, f.e.Snapshot().Tracks, 1)
	require.Zero(t, f.e.UndoDepth())
}

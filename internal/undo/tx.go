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
	"fmt"
	"log/slog"

	"vocalis/internal/command"
	"vocalis/internal/domain"
)

// Group is one undoable unit: the mutations executed between BeginGroup and EndGroup.
type Group struct {
	Commands      []command.Mutation
	DeferValidate bool
	// Revision is assigned on commit and is unique for the engine's lifetime.
	Revision uint64
}

// Description joins the descriptions of the group's commands.
func (g *Group) Description() string {
	switch len(g.Commands) {
	case 0:
		return ""
	case 1:
		return g.Commands[0].Description()
	}
	return fmt.Sprintf("%s (+%d)", g.Commands[0].Description(), len(g.Commands)-1)
}

// scope returns the smallest scope covering every command in the group.
func (g *Group) scope() command.Scope {
	out := command.NoScope()
	for _, c := range g.Commands {
		s := c.ValidationScope()
		switch {
		case s.Kind == command.ScopeNone:
		case out.Kind == command.ScopeNone:
			out = s
		case out != s:
			return command.ProjectScope()
		}
	}
	return out
}

// compact merges adjacent mergeable commands in place.
func compact(cmds []command.Mutation) []command.Mutation {
	if len(cmds) < 2 {
		return cmds
	}
	out := cmds[:1]
	for _, c := range cmds[1:] {
		if m, ok := out[len(out)-1].(command.Merger); ok && m.Merge(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Tx is the owner goroutine's view of the engine. It is handed to Do, Post and
// Group callbacks and must not be used from any other goroutine.
type Tx struct {
	e *Engine
}

// Project returns the live document for reading. Mutate it only through Execute.
func (tx *Tx) Project() *domain.Project { return tx.e.doc }

// InGroup reports whether a command group is open.
func (tx *Tx) InGroup() bool { return tx.e.open != nil }

// BeginGroup opens a command group. An already open group is committed first.
func (tx *Tx) BeginGroup(deferValidate bool) {
	e := tx.e
	if e.open != nil {
		e.log.Error("begin group while another group is open; ending it", slog.String("group", e.open.Description()))
		tx.EndGroup()
	}
	e.open = &Group{DeferValidate: deferValidate}
}

// Execute applies cmd. Notifications run their built-in side effects and are
// published; mutations require an open group.
func (tx *Tx) Execute(cmd command.Command) error {
	e := tx.e
	switch c := cmd.(type) {
	case command.Notification:
		e.notify(c)
		return nil
	case command.Mutation:
		if e.open == nil {
			e.log.Error("mutation executed outside of a command group; dropped", slog.String("command", c.Description()))
			return ErrNoGroup
		}
		// Appended only after success: a failed or panicking command never
		// reaches the history.
		if err := e.mutate(c.Execute); err != nil {
			e.log.Warn("command failed", slog.String("command", c.Description()), slog.Any("err", err))
			return fmt.Errorf("%s: %w", c.Description(), err)
		}
		e.open.Commands = append(e.open.Commands, c)
		e.bus.Publish(c, false)
		if !e.open.DeferValidate {
			e.validate(c.ValidationScope())
		}
		return nil
	default:
		e.log.Error("unknown command type", slog.String("type", fmt.Sprintf("%T", cmd)))
		return ErrUnknownCommand
	}
}

// EndGroup commits the open group. Empty groups are discarded.
func (tx *Tx) EndGroup() {
	e := tx.e
	g := e.open
	if g == nil {
		e.log.Error("end group without an open group")
		return
	}
	e.open = nil
	if len(g.Commands) == 0 {
		return
	}
	g.Commands = compact(g.Commands)
	e.nextRev++
	g.Revision = e.nextRev
	e.pushUndo(g)
	e.redo.Clear()
	if g.DeferValidate {
		e.validate(command.ProjectScope())
	}
	e.publishState()
	e.notify(command.PreRenderNotification{})
}

// RollbackGroup reverts the open group's commands and closes it without pushing.
func (tx *Tx) RollbackGroup() {
	e := tx.e
	g := e.open
	if g == nil {
		e.log.Error("rollback without an open group")
		return
	}
	e.open = nil
	for i := len(g.Commands) - 1; i >= 0; i-- {
		c := g.Commands[i]
		if err := e.mutate(c.Unexecute); err != nil {
			e.log.Error("rollback step failed", slog.String("command", c.Description()), slog.Any("err", err))
			continue
		}
		e.bus.Publish(c, true)
	}
	if len(g.Commands) > 0 {
		e.validate(g.scope())
	}
}

// Undo reverts the newest group and moves it to the redo stack.
func (tx *Tx) Undo() error {
	e := tx.e
	if e.open != nil {
		e.log.Error("undo while a command group is open")
		return ErrGroupOpen
	}
	g, ok := e.undo.Back()
	if !ok {
		e.log.Debug("nothing to undo")
		return ErrNothingToUndo
	}
	if err := e.replay(g, true); err != nil {
		return err
	}
	e.undo.PopBack()
	e.redo.PushBack(g)
	e.publishState()
	e.notify(command.PreRenderNotification{})
	return nil
}

// Redo re-applies the newest undone group.
func (tx *Tx) Redo() error {
	e := tx.e
	if e.open != nil {
		e.log.Error("redo while a command group is open")
		return ErrGroupOpen
	}
	g, ok := e.redo.Back()
	if !ok {
		e.log.Debug("nothing to redo")
		return ErrNothingToRedo
	}
	if err := e.replay(g, false); err != nil {
		return err
	}
	e.redo.PopBack()
	e.pushUndo(g)
	e.publishState()
	e.notify(command.PreRenderNotification{})
	return nil
}

// replay unexecutes (undo) or executes (redo) every command of g. On failure the
// commands already replayed are reverted and the group stays where it is.
func (e *Engine) replay(g *Group, undo bool) error {
	n := len(g.Commands)
	step := func(i int, reverse bool) error {
		c := g.Commands[i]
		if reverse {
			return e.mutate(c.Unexecute)
		}
		return e.mutate(c.Execute)
	}
	order := func(k int) int {
		if undo {
			return n - 1 - k
		}
		return k
	}
	for k := 0; k < n; k++ {
		i := order(k)
		if err := step(i, undo); err != nil {
			for r := k - 1; r >= 0; r-- {
				j := order(r)
				if rerr := step(j, !undo); rerr != nil {
					e.log.Error("revert after failed replay failed", slog.String("command", g.Commands[j].Description()), slog.Any("err", rerr))
					continue
				}
				e.bus.Publish(g.Commands[j], !undo)
			}
			e.validate(command.ProjectScope())
			err = fmt.Errorf("%s %s: %w", verb(undo), g.Commands[i].Description(), err)
			e.log.Error("replay failed", slog.Uint64("rev", g.Revision), slog.Any("err", err))
			e.notify(command.NewErrorNotification("could not "+verb(undo), err))
			return err
		}
		e.bus.Publish(g.Commands[i], undo)
	}
	e.validate(command.ProjectScope())
	return nil
}

// pushUndo pushes g and remembers the revision of an evicted group, which
// becomes the revision of the document once the undo stack is emptied.
func (e *Engine) pushUndo(g *Group) {
	if old, evicted := e.undo.PushBack(g); evicted {
		e.baseRev = old.Revision
		e.log.Debug("undo history full; evicted oldest group", slog.Uint64("rev", old.Revision))
	}
}

func verb(undo bool) string {
	if undo {
		return "undo"
	}
	return "redo"
}

func (e *Engine) validate(s command.Scope) {
	if s.Kind == command.ScopeNone {
		return
	}
	e.docMu.Lock()
	defer e.docMu.Unlock()
	e.cfg.Validator.Validate(e.doc, s)
}

// mutate runs fn on the document under the write lock. The lock is released
// even when fn panics.
func (e *Engine) mutate(fn func(p *domain.Project) error) error {
	e.docMu.Lock()
	defer e.docMu.Unlock()
	return fn(e.doc)
}

// notify runs the built-in side effects of n and publishes it.
func (e *Engine) notify(n command.Notification) {
	if x, ok := n.(command.Expirable); ok && x.Expired() {
		e.log.Debug("dropping expired notification", slog.String("notification", n.Description()))
		return
	}
	switch c := n.(type) {
	case command.SaveNotification:
		e.savedRev.Store(e.topRev.Load())
	case command.AutosaveNotification:
		e.autosavedRev.Store(e.topRev.Load())
	case command.LoadProjectNotification:
		if c.Project == nil {
			e.log.Error("load project without a document")
			return
		}
		if e.open != nil {
			e.log.Warn("project loaded while a group was open; discarding it")
			e.open = nil
		}
		e.docMu.Lock()
		e.doc = c.Project
		e.doc.PlayPosTick = 0
		e.docMu.Unlock()
		e.undo.Clear()
		e.redo.Clear()
		e.baseRev = 0
		e.publishState()
		e.savedRev.Store(0)
		e.autosavedRev.Store(0)
		e.validate(command.ProjectScope())
	case command.SingerChangedNotification:
		e.validate(command.ProjectScope())
		e.bus.Publish(n, false)
		if c.PreRender {
			e.notify(command.PreRenderNotification{})
		}
		return
	case command.SetPlayPosNotification:
		e.docMu.Lock()
		e.doc.PlayPosTick = max(0, c.Tick)
		e.docMu.Unlock()
	}
	e.bus.Publish(n, false)
}

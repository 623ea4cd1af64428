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

	"vocalis/internal/domain"
)

// SaveNotification marks the current revision as saved.
type SaveNotification struct {
	NotificationBase
	Path string
}

func (n SaveNotification) Description() string { return "saved " + n.Path }

// AutosaveNotification marks the current revision as autosaved.
type AutosaveNotification struct {
	NotificationBase
	Path string
}

func (n AutosaveNotification) Description() string { return "autosaved " + n.Path }

// LoadProjectNotification replaces the document wholesale and clears history.
type LoadProjectNotification struct {
	NotificationBase
	Project *domain.Project
	Path    string
}

func (n LoadProjectNotification) Description() string { return "load project " + n.Path }

// SingerChangedNotification reports that a voicebank changed on disk or in the registry.
// Every track is revalidated; PreRender also requests a fresh pre-render.
type SingerChangedNotification struct {
	NotificationBase
	AssetID   string
	PreRender bool
}

func (n SingerChangedNotification) Description() string { return "singer changed " + n.AssetID }

// SetPlayPosNotification moves the play cursor.
type SetPlayPosNotification struct {
	NotificationBase
	Tick int
}

func (n SetPlayPosNotification) Description() string { return fmt.Sprintf("play position %d", n.Tick) }

// PreRenderNotification asks the render scheduler to warm its caches.
type PreRenderNotification struct {
	NotificationBase
}

func (PreRenderNotification) Description() string { return "pre-render" }

// ErrorNotification is the single user-facing failure report.
type ErrorNotification struct {
	NotificationBase
	Message string
	Err     error
}

func NewErrorNotification(msg string, err error) ErrorNotification {
	return ErrorNotification{Message: msg, Err: err}
}

func (n ErrorNotification) Description() string {
	if n.Err == nil {
		return n.Message
	}
	return n.Message + ": " + n.Err.Error()
}

func (n ErrorNotification) Unwrap() error { return n.Err }

// ReloadStartedNotification is published before a voicebank reload begins.
type ReloadStartedNotification struct {
	NotificationBase
	AssetID string
}

func (n ReloadStartedNotification) Description() string { return "reloading " + n.AssetID }

// ReloadFinishedNotification reports the outcome of a voicebank reload.
type ReloadFinishedNotification struct {
	NotificationBase
	AssetID string
	Err     error
}

func (n ReloadFinishedNotification) Description() string {
	if n.Err != nil {
		return "reload failed " + n.AssetID
	}
	return "reloaded " + n.AssetID
}

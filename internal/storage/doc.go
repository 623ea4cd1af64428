/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package storage implements song project persistence and caching.
// It handles create/open/save for the canonical JSON manifest (song.json) with transactional writes,
// timestamped backups, schema checks and sidecar autosave/crash files.
// It also manages the per-project SQLite render cache at <project>/.vcl/cache.sqlite.
// The cache is derived from the manifest and voicebanks and is disposable.
package storage

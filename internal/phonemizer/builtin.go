/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package phonemizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"vocalis/internal/domain"
)

const (
	DefaultID  = "default"
	SyllableID = "syllable"

	// extendMarker continues the previous note's vowel and produces no phonemes.
	extendMarker = "+"
)

// normalizeLyric applies NFC and trims surrounding space.
func normalizeLyric(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Passthrough emits the normalized lyric as a single phoneme.
type Passthrough struct{}

func (Passthrough) ID() string { return DefaultID }

func (Passthrough) Phonemize(n domain.Note, _, _ *domain.Note) ([]domain.Phoneme, error) {
	lyric := normalizeLyric(n.Lyric)
	switch {
	case lyric == "":
		return nil, ErrNoLyric
	case strings.HasPrefix(lyric, extendMarker):
		return nil, nil
	}
	return []domain.Phoneme{{Symbol: lyric}}, nil
}

// Syllable splits hyphen or space separated lyrics ("ka-ra") into lower-cased
// syllables spread evenly across the note.
type Syllable struct{}

func (Syllable) ID() string { return SyllableID }

var lower = cases.Lower(language.Und)

func (Syllable) Phonemize(n domain.Note, _, _ *domain.Note) ([]domain.Phoneme, error) {
	lyric := normalizeLyric(n.Lyric)
	switch {
	case lyric == "":
		return nil, ErrNoLyric
	case strings.HasPrefix(lyric, extendMarker):
		return nil, nil
	}
	parts := strings.FieldsFunc(lower.String(lyric), func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	if len(parts) == 0 {
		return nil, ErrNoLyric
	}
	step := n.Duration / len(parts)
	out := make([]domain.Phoneme, len(parts))
	for i, s := range parts {
		out[i] = domain.Phoneme{Symbol: s, Offset: i * step}
	}
	return out, nil
}

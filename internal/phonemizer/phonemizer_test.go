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
	"errors"
	"testing"

	"vocalis/internal/domain"
)

func TestFactoryRegisterAndCreate(t *testing.T) {
	f := NewBuiltinFactory()
	if got := f.IDs(); len(got) != 2 || got[0] != DefaultID || got[1] != SyllableID {
		t.Fatalf("unexpected ids: %v", got)
	}
	if err := f.Register(DefaultID, func() Phonemizer { return Passthrough{} }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := f.Create("nope"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected unknown error, got %v", err)
	}
	p, err := f.Create("")
	if err != nil || p.ID() != DefaultID {
		t.Fatalf("empty id should select default: %v %v", p, err)
	}
}

func TestPassthroughNormalizes(t *testing.T) {
	// "e" + combining acute accent composes to a single rune under NFC.
	n := domain.Note{Lyric: " e\u0301 ", Duration: 480}
	ph, err := Passthrough{}.Phonemize(n, nil, nil)
	if err != nil {
		t.Fatalf("phonemize: %v", err)
	}
	if len(ph) != 1 || ph[0].Symbol != "\u00e9" {
		t.Fatalf("expected composed e-acute, got %+v", ph)
	}
	if _, err := (Passthrough{}).Phonemize(domain.Note{Lyric: "  "}, nil, nil); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("expected ErrNoLyric, got %v", err)
	}
	if ph, err := (Passthrough{}).Phonemize(domain.Note{Lyric: "+"}, nil, nil); err != nil || ph != nil {
		t.Fatalf("extension marker should yield no phonemes, got %v %v", ph, err)
	}
}

func TestSyllableSplits(t *testing.T) {
	n := domain.Note{Lyric: "Ka-Ra te", Duration: 480}
	ph, err := Syllable{}.Phonemize(n, nil, nil)
	if err != nil {
		t.Fatalf("phonemize: %v", err)
	}
	want := []domain.Phoneme{{Symbol: "ka", Offset: 0}, {Symbol: "ra", Offset: 160}, {Symbol: "te", Offset: 320}}
	if len(ph) != len(want) {
		t.Fatalf("got %+v", ph)
	}
	for i := range want {
		if ph[i] != want[i] {
			t.Fatalf("phoneme %d: got %+v want %+v", i, ph[i], want[i])
		}
	}
	if _, err := (Syllable{}).Phonemize(domain.Note{Lyric: "--"}, nil, nil); !errors.Is(err, ErrNoLyric) {
		t.Fatalf("expected ErrNoLyric for separators only, got %v", err)
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"

	"vocalis/internal/domain"
	applog "vocalis/internal/log"
)

// Cache stores rendered part audio by content key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ToneEngine renders every note as an enveloped sine tone. It is deterministic
// and exists so the CLI and tests have a real engine to drive.
type ToneEngine struct {
	SampleRate int
	Cache      Cache
	log        *slog.Logger
}

func NewToneEngine(sampleRate int, cache Cache) *ToneEngine {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &ToneEngine{SampleRate: sampleRate, Cache: cache, log: applog.WithComponent("tone")}
}

const (
	toneAmp   = 0.2
	envelopMs = 5.0
)

func (e *ToneEngine) frame(ms float64) int { return int(ms * float64(e.SampleRate) / 1000) }

// partKey identifies a part's audio by everything that affects its samples.
func (e *ToneEngine) partKey(doc *domain.Project, part *domain.VoicePart) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(e.SampleRate)
	_ = enc.Encode(doc.Resolution)
	_ = enc.Encode(doc.Tempos)
	_ = enc.Encode(part.Position)
	_ = enc.Encode(part.Duration)
	_ = enc.Encode(part.Notes)
	if part.TrackIndex >= 0 && part.TrackIndex < len(doc.Tracks) {
		_ = enc.Encode(doc.Tracks[part.TrackIndex].Singer)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// renderPart returns mono samples starting at the part's first frame.
func (e *ToneEngine) renderPart(ctx context.Context, doc *domain.Project, part *domain.VoicePart) ([]float32, error) {
	key := e.partKey(doc, part)
	if e.Cache != nil {
		if data, ok, err := e.Cache.Get(ctx, key); err != nil {
			e.log.Warn("render cache read failed", slog.Any("err", err))
		} else if ok {
			return decodeSamples(data), nil
		}
	}

	startMs := doc.TickToMs(part.Position)
	out := make([]float32, max(0, e.frame(doc.TickToMs(part.End())-startMs)))
	for _, n := range part.Notes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from := e.frame(doc.TickToMs(part.Position+n.Position) - startMs)
		to := min(len(out), e.frame(doc.TickToMs(part.Position+n.End())-startMs))
		freq := 440 * math.Pow(2, float64(n.Tone-69)/12)
		ramp := max(1, e.frame(envelopMs))
		for i := max(0, from); i < to; i++ {
			k := i - from
			env := min(1, float64(k)/float64(ramp), float64(to-i)/float64(ramp))
			out[i] += float32(toneAmp * env * math.Sin(2*math.Pi*freq*float64(k)/float64(e.SampleRate)))
		}
	}

	if e.Cache != nil {
		if err := e.Cache.Put(ctx, key, encodeSamples(out)); err != nil {
			e.log.Warn("render cache write failed", slog.Any("err", err))
		}
	}
	return out, nil
}

func (e *ToneEngine) bounds(doc *domain.Project, scope Scope) (int, int) {
	end := scope.EndTick
	if end <= 0 {
		end = doc.EndTick()
	}
	from, to := e.frame(doc.TickToMs(scope.StartTick)), e.frame(doc.TickToMs(end))
	return from, max(from, to)
}

// mixTracks sums the parts on tracks accepted by include into a stereo buffer.
func (e *ToneEngine) mixTracks(ctx context.Context, doc *domain.Project, scope Scope, faders []Fader, include func(int) bool) (Mix, error) {
	from, to := e.bounds(doc, scope)
	mix := Mix{SampleRate: e.SampleRate, Samples: make([]float32, 2*(to-from))}
	for i := range doc.Parts {
		part := &doc.Parts[i]
		t := part.TrackIndex
		if t < 0 || t >= len(faders) || !include(t) || faders[t].Gain == 0 {
			continue
		}
		mono, err := e.renderPart(ctx, doc, part)
		if err != nil {
			return Mix{}, err
		}
		angle := (faders[t].Pan + 1) * math.Pi / 4
		gl := float32(faders[t].Gain * math.Cos(angle))
		gr := float32(faders[t].Gain * math.Sin(angle))
		offset := e.frame(doc.TickToMs(part.Position)) - from
		for k, v := range mono {
			f := offset + k
			if f < 0 || f >= to-from {
				continue
			}
			mix.Samples[2*f] += v * gl
			mix.Samples[2*f+1] += v * gr
		}
	}
	return mix, nil
}

func (e *ToneEngine) RenderProject(ctx context.Context, doc *domain.Project, scope Scope) (Mix, error) {
	return e.mixTracks(ctx, doc, scope, Faders(doc), func(t int) bool { return scope.Track < 0 || scope.Track == t })
}

func (e *ToneEngine) RenderMixdown(ctx context.Context, doc *domain.Project, scope Scope) (Mix, error) {
	return e.RenderProject(ctx, doc, scope)
}

// RenderTracks renders one stem per track. Stems honour volume and pan but not mute or solo.
func (e *ToneEngine) RenderTracks(ctx context.Context, doc *domain.Project, scope Scope) ([]TrackMix, error) {
	faders := Faders(doc)
	for i := range faders {
		faders[i].Gain = math.Pow(10, doc.Tracks[i].Volume/20)
		faders[i].Muted = false
	}
	var out []TrackMix
	for i, t := range doc.Tracks {
		if scope.Track >= 0 && scope.Track != i {
			continue
		}
		m, err := e.mixTracks(ctx, doc, scope, faders, func(n int) bool { return n == i })
		if err != nil {
			return nil, err
		}
		out = append(out, TrackMix{Track: i, Name: t.Name, Mix: m})
	}
	return out, nil
}

// PreRenderProject fills the cache for every part.
func (e *ToneEngine) PreRenderProject(ctx context.Context, doc *domain.Project) error {
	for i := range doc.Parts {
		if _, err := e.renderPart(ctx, doc, &doc.Parts[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeSamples(s []float32) []byte {
	b := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeSamples(b []byte) []float32 {
	s := make([]float32, len(b)/4)
	for i := range s {
		s[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return s
}

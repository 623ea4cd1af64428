/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	"sort"
	"time"
)

// sortedTempos returns tempo changes ordered by position with a 120 BPM fallback.
func (p *Project) sortedTempos() []Tempo {
	ts := append([]Tempo(nil), p.Tempos...)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Position < ts[j].Position })
	if len(ts) == 0 || ts[0].Position > 0 {
		ts = append([]Tempo{{Position: 0, BPM: 120}}, ts...)
	}
	return ts
}

func (p *Project) resolution() int {
	if p.Resolution <= 0 {
		return DefaultResolution
	}
	return p.Resolution
}

// TickToMs converts an absolute tick to milliseconds using the tempo map.
func (p *Project) TickToMs(tick int) float64 {
	if tick <= 0 {
		return 0
	}
	res := float64(p.resolution())
	ts := p.sortedTempos()
	ms := 0.0
	for i, t := range ts {
		end := tick
		if i+1 < len(ts) && ts[i+1].Position < tick {
			end = ts[i+1].Position
		}
		bpm := t.BPM
		if bpm <= 0 {
			bpm = 120
		}
		ms += float64(end-t.Position) * 60000.0 / (bpm * res)
		if end == tick {
			break
		}
	}
	return ms
}

// TickToDuration is TickToMs as a time.Duration.
func (p *Project) TickToDuration(tick int) time.Duration {
	return time.Duration(p.TickToMs(tick) * float64(time.Millisecond))
}

// MsToTick converts milliseconds to the nearest tick at or before ms.
func (p *Project) MsToTick(ms float64) int {
	if ms <= 0 {
		return 0
	}
	res := float64(p.resolution())
	ts := p.sortedTempos()
	acc := 0.0
	for i, t := range ts {
		bpm := t.BPM
		if bpm <= 0 {
			bpm = 120
		}
		msPerTick := 60000.0 / (bpm * res)
		if i+1 < len(ts) {
			span := float64(ts[i+1].Position-t.Position) * msPerTick
			if acc+span < ms {
				acc += span
				continue
			}
		}
		return t.Position + int((ms-acc)/msPerTick)
	}
	return 0
}

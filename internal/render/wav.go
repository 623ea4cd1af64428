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
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth = 16
	wavPCM      = 1
)

// WriteWAV writes m as 16-bit stereo PCM. The file is written to a temporary
// name in the same directory and renamed into place.
func WriteWAV(path string, m Mix) (err error) {
	if m.SampleRate <= 0 {
		return fmt.Errorf("write wav: invalid sample rate %d", m.SampleRate)
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".export-*.wav")
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc := wav.NewEncoder(f, m.SampleRate, wavBitDepth, 2, wavPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: m.SampleRate},
		Data:           make([]int, len(m.Samples)),
		SourceBitDepth: wavBitDepth,
	}
	for i, v := range m.Samples {
		buf.Data[i] = int(max(-1, min(1, v)) * 32767)
	}
	if err = enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err = enc.Close(); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

// ReadWAV decodes a file written by WriteWAV.
func ReadWAV(path string) (Mix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mix{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Mix{}, fmt.Errorf("read wav %s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Mix{}, fmt.Errorf("read wav %s: %w", path, err)
	}
	m := Mix{SampleRate: int(dec.SampleRate), Samples: make([]float32, len(buf.Data))}
	for i, v := range buf.Data {
		m.Samples[i] = float32(v) / 32767
	}
	return m, nil
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigPath, path)
	return path
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("expected defaults, got %#v", cfg)
	}
}

func TestFileKeepsDefaultsForMissingFields(t *testing.T) {
	path := isolate(t)
	data := "render:\n  export_workers: 8\nlogging:\n  level: DEBUG\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Render.ExportWorkers != 8 {
		t.Fatalf("ExportWorkers = %d, want 8", cfg.Render.ExportWorkers)
	}
	if !cfg.Render.PreRender || cfg.Render.SampleRate != 44100 {
		t.Fatalf("defaults lost: %#v", cfg.Render)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level not normalized: %q", cfg.Logging.Level)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	cfg := Defaults()
	cfg.Reload.Watch = false
	cfg.Metrics.Addr = "127.0.0.1:9464"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch: %#v vs %#v", got, cfg)
	}
}

func TestValidationRejectsBadValues(t *testing.T) {
	path := isolate(t)
	if err := os.WriteFile(path, []byte("render:\n  sample_rate: 12345\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for sample_rate")
	}

	cfg := Defaults()
	cfg.Reload.Retries = 0
	if err := Save(cfg); err == nil {
		t.Fatalf("Save should refuse an invalid config")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvUndoLimit, "7")
	t.Setenv(EnvPreRender, "off")
	t.Setenv(EnvReloadDebounce, "50")
	t.Setenv(EnvLogFormat, "JSON")
	t.Setenv(EnvCacheMaxBytes, "1024")
	t.Setenv(EnvExportWorkers, "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.UndoLimit != 7 || cfg.Render.PreRender || cfg.Logging.Format != "json" || cfg.Render.CacheMaxBytes != 1024 {
		t.Fatalf("env overrides not applied: %#v", cfg)
	}
	if cfg.Render.ExportWorkers != Defaults().Render.ExportWorkers {
		t.Fatalf("malformed override should be ignored, got %d", cfg.Render.ExportWorkers)
	}
	if cfg.Reload.Debounce() != 50*time.Millisecond {
		t.Fatalf("Debounce() = %v", cfg.Reload.Debounce())
	}
}

func TestEnvOverrideFor(t *testing.T) {
	if _, ok := EnvOverrideFor("engine.undo_limit"); ok {
		t.Fatalf("no override expected")
	}
	t.Setenv(EnvUndoLimit, "5")
	env, ok := EnvOverrideFor("engine.undo_limit")
	if !ok || env != EnvUndoLimit {
		t.Fatalf("EnvOverrideFor = %q, %v", env, ok)
	}
	if _, ok := EnvOverrideFor("unknown.key"); ok {
		t.Fatalf("unknown key must not report an override")
	}
}

func TestLogOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.File = "/tmp/vcl.log"
	o := cfg.LogOptions()
	if o.Level != "info" || o.Format != "console" || o.File != "/tmp/vcl.log" {
		t.Fatalf("LogOptions = %#v", o)
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config loads the per-user vocalis configuration: a YAML file with
// defaults, read-only VCL_* environment overrides and struct validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	applog "vocalis/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.

type EngineConfig struct {
	UndoLimit   int `yaml:"undo_limit" validate:"gte=1,lte=100000"`
	MailboxSize int `yaml:"mailbox_size" validate:"gte=1"`
}

type RenderConfig struct {
	PreRender     bool  `yaml:"prerender"`
	ExportWorkers int   `yaml:"export_workers" validate:"gte=1,lte=64"`
	SampleRate    int   `yaml:"sample_rate" validate:"oneof=8000 16000 22050 32000 44100 48000 96000"`
	CacheMaxBytes int64 `yaml:"cache_max_bytes" validate:"gte=0"`
}

type ReloadConfig struct {
	DebounceMs int  `yaml:"debounce_ms" validate:"gte=0,lte=60000"`
	Retries    int  `yaml:"retries" validate:"gte=1,lte=20"`
	BackoffMs  int  `yaml:"backoff_ms" validate:"gte=0,lte=60000"`
	Watch      bool `yaml:"watch"`
}

type AutosaveConfig struct {
	// IntervalS of 0 disables autosave.
	IntervalS int `yaml:"interval_s" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version" validate:"gte=1"`
	Engine        EngineConfig   `yaml:"engine"`
	Render        RenderConfig   `yaml:"render"`
	Reload        ReloadConfig   `yaml:"reload"`
	Autosave      AutosaveConfig `yaml:"autosave"`
	Logging       LoggingConfig  `yaml:"logging"`
	Metrics       MetricsConfig  `yaml:"metrics"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Engine:        EngineConfig{UndoLimit: 100, MailboxSize: 256},
		Render:        RenderConfig{PreRender: true, ExportWorkers: 4, SampleRate: 44100, CacheMaxBytes: 256 << 20},
		Reload:        ReloadConfig{DebounceMs: 200, Retries: 3, BackoffMs: 100, Watch: true},
		Autosave:      AutosaveConfig{IntervalS: 60},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
		Metrics:       MetricsConfig{Addr: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "VCL_CONFIG"
	EnvUndoLimit      = "VCL_UNDO_LIMIT"
	EnvMailboxSize    = "VCL_MAILBOX_SIZE"
	EnvPreRender      = "VCL_PRERENDER"
	EnvExportWorkers  = "VCL_EXPORT_WORKERS"
	EnvSampleRate     = "VCL_SAMPLE_RATE"
	EnvCacheMaxBytes  = "VCL_CACHE_MAX_BYTES"
	EnvReloadDebounce = "VCL_RELOAD_DEBOUNCE_MS"
	EnvReloadRetries  = "VCL_RELOAD_RETRIES"
	EnvReloadBackoff  = "VCL_RELOAD_BACKOFF_MS"
	EnvWatch          = "VCL_WATCH"
	EnvAutosave       = "VCL_AUTOSAVE_INTERVAL_S"
	EnvMetricsAddr    = "VCL_METRICS_ADDR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "VCL_LOG_LEVEL"
	EnvLogFormat = "VCL_LOG_FORMAT"
	EnvLogSource = "VCL_LOG_SOURCE"
	EnvLogFile   = "VCL_LOG_FILE"
)

var validate = validator.New()

// ConfigPath returns the per-user config file path. VCL_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Vocalis")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Vocalis")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "vocalis")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "vocalis")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present) over the defaults, merges
// environment overrides and validates the result.
func Load() (AppConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), err
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit file path. A missing file yields the defaults.
func LoadFrom(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Defaults(), fmt.Errorf("read %s: %w", path, err)
	}
	normalize(&cfg)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks value ranges.
func (c AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func normalize(c *AppConfig) {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

// envBinding maps a dotted config key to its environment override.
type envBinding struct {
	key   string
	env   string
	apply func(c *AppConfig, v string) error
}

func intField(dst func(c *AppConfig) *int) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolField(dst func(c *AppConfig) *bool) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		*dst(c) = parseBool(v)
		return nil
	}
}

var envBindings = []envBinding{
	{"engine.undo_limit", EnvUndoLimit, intField(func(c *AppConfig) *int { return &c.Engine.UndoLimit })},
	{"engine.mailbox_size", EnvMailboxSize, intField(func(c *AppConfig) *int { return &c.Engine.MailboxSize })},
	{"render.prerender", EnvPreRender, boolField(func(c *AppConfig) *bool { return &c.Render.PreRender })},
	{"render.export_workers", EnvExportWorkers, intField(func(c *AppConfig) *int { return &c.Render.ExportWorkers })},
	{"render.sample_rate", EnvSampleRate, intField(func(c *AppConfig) *int { return &c.Render.SampleRate })},
	{"render.cache_max_bytes", EnvCacheMaxBytes, func(c *AppConfig, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			c.Render.CacheMaxBytes = n
		}
		return err
	}},
	{"reload.debounce_ms", EnvReloadDebounce, intField(func(c *AppConfig) *int { return &c.Reload.DebounceMs })},
	{"reload.retries", EnvReloadRetries, intField(func(c *AppConfig) *int { return &c.Reload.Retries })},
	{"reload.backoff_ms", EnvReloadBackoff, intField(func(c *AppConfig) *int { return &c.Reload.BackoffMs })},
	{"reload.watch", EnvWatch, boolField(func(c *AppConfig) *bool { return &c.Reload.Watch })},
	{"autosave.interval_s", EnvAutosave, intField(func(c *AppConfig) *int { return &c.Autosave.IntervalS })},
	{"metrics.addr", EnvMetricsAddr, func(c *AppConfig, v string) error { c.Metrics.Addr = v; return nil }},
	{"logging.level", EnvLogLevel, func(c *AppConfig, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"logging.format", EnvLogFormat, func(c *AppConfig, v string) error { c.Logging.Format = strings.ToLower(v); return nil }},
	{"logging.source", EnvLogSource, boolField(func(c *AppConfig) *bool { return &c.Logging.Source })},
	{"logging.file", EnvLogFile, func(c *AppConfig, v string) error { c.Logging.File = v; return nil }},
}

func applyEnvOverrides(cfg *AppConfig) {
	for _, b := range envBindings {
		v := strings.TrimSpace(os.Getenv(b.env))
		if v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			applog.WithComponent("config").Warn("ignoring malformed env override", slog.String("env", b.env), slog.Any("err", err))
		}
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	for _, b := range envBindings {
		if b.key == key && os.Getenv(b.env) != "" {
			return b.env, true
		}
	}
	return "", false
}

// LogOptions maps the logging section to logger options.
func (c AppConfig) LogOptions() applog.Options {
	return applog.Options{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.Source,
		File:      c.Logging.File,
	}
}

func (r ReloadConfig) Debounce() time.Duration { return time.Duration(r.DebounceMs) * time.Millisecond }
func (r ReloadConfig) Backoff() time.Duration { return time.Duration(r.BackoffMs) * time.Millisecond }

// Interval returns the autosave period, zero when disabled.
func (a AutosaveConfig) Interval() time.Duration { return time.Duration(a.IntervalS) * time.Second }

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lastJSONLine(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var last string
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			last = s
		}
	}
	if last == "" {
		t.Fatalf("no log lines found in %s", path)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("unmarshal json log: %v", err)
	}
	return m
}

func TestInitWritesStructuredFileLog(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "vocalis.log")
	Init(Options{Level: "debug", Format: "json", File: fpath})
	t.Cleanup(func() { Init(Options{Level: "info"}) })

	l := WithOperation(WithComponent("render"), "prerender")
	l.Info("job started", slog.String("scope", "project"))

	m := lastJSONLine(t, fpath)
	if m["app"] != "vocalis" {
		t.Fatalf("missing app attr: %v", m["app"])
	}
	if _, ok := m["ver"].(string); !ok {
		t.Fatalf("missing ver attr")
	}
	if m["component"] != "render" || m["op"] != "prerender" {
		t.Fatalf("component/op mismatch: %v %v", m["component"], m["op"])
	}
	if m["msg"] != "job started" || m["scope"] != "project" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestContextAttrsAreAppended(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "ctx.log")
	Init(Options{Level: "info", Format: "json", File: fpath})
	t.Cleanup(func() { Init(Options{Level: "info"}) })

	ctx := ContextWith(context.Background(), slog.String("job", "j-1"))
	ctx = ContextWith(ctx, slog.Int("gen", 7))
	WithComponent("reload").InfoContext(ctx, "reloading")

	m := lastJSONLine(t, fpath)
	if m["job"] != "j-1" {
		t.Fatalf("job attr missing: %v", m)
	}
	if n, ok := m["gen"].(float64); !ok || n != 7 {
		t.Fatalf("gen attr missing: %v", m)
	}
}

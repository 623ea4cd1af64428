/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestRenderCacheInitAndMigrate(t *testing.T) {
	root := t.TempDir()
	c, err := OpenRenderCache(root, 0)
	if err != nil {
		t.Fatalf("OpenRenderCache error: %v", err)
	}
	v, err := c.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if v != schemaVersion {
		t.Fatalf("schema = %d, want %d", v, schemaVersion)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Reopening an up-to-date cache is a no-op.
	c, err = OpenRenderCache(root, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = c.Close()
}

func TestRenderCacheGetPut(t *testing.T) {
	ctx := context.Background()
	c, err := OpenRenderCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenRenderCache error: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	want := []byte{1, 2, 3, 4}
	if err := c.Put(ctx, "k", want); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	// Overwrite keeps a single row.
	if err := c.Put(ctx, "k", []byte{9}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	if err := c.Put(ctx, "", want); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRenderCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := OpenRenderCache(t.TempDir(), 25)
	if err != nil {
		t.Fatalf("OpenRenderCache error: %v", err)
	}
	defer c.Close()

	blob := make([]byte, 10)
	for _, k := range []string{"a", "b"} {
		if err := c.Put(ctx, k, blob); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	// Touch a so that b becomes the oldest entry.
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit for a")
	}
	if err := c.Put(ctx, "c", blob); err != nil {
		t.Fatalf("Put c: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Fatalf("expected %s to survive", k)
		}
	}
	total, err := c.TotalBytes(ctx)
	if err != nil || total > 25 {
		t.Fatalf("TotalBytes = %d, %v", total, err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Fatalf("Len after Clear = %d", n)
	}
}

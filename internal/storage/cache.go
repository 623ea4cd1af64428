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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	applog "vocalis/internal/log"
	"vocalis/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// CacheDirName stores all per-project disposable data under the project root.
	CacheDirName  = ".vcl"
	CacheFileName = "cache.sqlite"

	// DefaultCacheMaxBytes caps the render cache when no limit is configured.
	DefaultCacheMaxBytes int64 = 256 * 1024 * 1024

	// schemaVersion tracks the local SQLite schema of the render cache.
	// Bump this when you perform schema changes and add a migration.
	schemaVersion = 2
)

// CachePath returns the full path to the project's render cache database file.
func CachePath(projectRoot string) string {
	return filepath.Join(projectRoot, CacheDirName, CacheFileName)
}

// RenderCache stores rendered part audio keyed by content hash, evicting least
// recently used entries once the total size exceeds MaxBytes.
// It satisfies render.Cache.
type RenderCache struct {
	db       *sql.DB
	path     string
	maxBytes int64
	log      *slog.Logger

	mu   sync.Mutex
	last int64
}

// OpenRenderCache ensures that the per-project SQLite cache exists at .vcl/cache.sqlite,
// opens it, enables WAL mode and brings the schema up to date.
// maxBytes <= 0 selects DefaultCacheMaxBytes.
func OpenRenderCache(projectRoot string, maxBytes int64) (*RenderCache, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "cache_open").With(
		slog.String("root", projectRoot),
	)
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, CacheDirName), 0o755); err != nil {
		l.Error("create cache dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", CacheDirName, err)
	}
	path := CachePath(projectRoot)
	db, err := openSQLite(path)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureCacheSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure cache schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultCacheMaxBytes
	}
	l.Info("render cache ready", slog.String("path", path), slog.Int64("max_bytes", maxBytes))
	return &RenderCache{db: db, path: path, maxBytes: maxBytes, log: applog.WithComponent("render_cache")}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	// Use a URI with shared cache and set busy timeout. Convert to forward slashes for SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers for embedded usage.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh databases start at the baseline schema and migrate forward.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureCacheSchema creates the baseline (schema 1) tables.
func ensureCacheSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS renders (
			key         TEXT    PRIMARY KEY,
			data        BLOB    NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT    NOT NULL,
			last_access INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure cache schema: %w", err)
		}
	}
	return nil
}

// migrations maps a target schema version to its statements.
var migrations = map[int][]string{
	2: {
		`CREATE INDEX IF NOT EXISTS idx_renders_last_access ON renders(last_access);`,
		`INSERT INTO meta(key, value) VALUES('lru', 'last_access') ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	},
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// Do not downgrade; a newer build owns this file.
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrations[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion reports the schema version recorded in the database.
func (c *RenderCache) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := c.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// Path returns the database file path.
func (c *RenderCache) Path() string { return c.path }

// tick returns a strictly increasing access stamp.
func (c *RenderCache) tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = max(time.Now().UnixNano(), c.last+1)
	return c.last
}

// Get returns the cached bytes for key and refreshes its access stamp.
func (c *RenderCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM renders WHERE key=?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query render: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE renders SET last_access=? WHERE key=?`, c.tick(), key); err != nil {
		c.log.Debug("touch failed", slog.String("key", key), slog.Any("err", err))
	}
	return blob, true, nil
}

// Put upserts data under key and enforces the size cap via LRU eviction.
func (c *RenderCache) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.New("empty cache key")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.db.ExecContext(ctx, `INSERT INTO renders(key, data, size, created_at, last_access)
		VALUES(?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET data=excluded.data, size=excluded.size, last_access=excluded.last_access`,
		key, data, len(data), now, c.tick())
	if err != nil {
		return fmt.Errorf("upsert render: %w", err)
	}
	return c.EvictToFit(ctx, c.maxBytes)
}

// EvictToFit deletes least-recently-used rows until total size <= capBytes.
func (c *RenderCache) EvictToFit(ctx context.Context, capBytes int64) error {
	total, err := c.TotalBytes(ctx)
	if err != nil {
		return err
	}
	if total <= capBytes {
		return nil
	}
	rows, err := c.db.QueryContext(ctx, `SELECT key, size FROM renders ORDER BY last_access ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	var victims []any
	cur := total
	for rows.Next() {
		var key string
		var sz int64
		if err := rows.Scan(&key, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, key)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// Close the cursor before writing; the pool holds a single connection.
	if err := rows.Close(); err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	q := `DELETE FROM renders WHERE key IN (?` + strings.Repeat(",?", len(victims)-1) + `)`
	if _, err := c.db.ExecContext(ctx, q, victims...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	c.log.Debug("evicted renders", slog.Int("count", len(victims)), slog.Int64("bytes", total-cur))
	return nil
}

// TotalBytes returns the total size of all cached entries.
func (c *RenderCache) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM renders`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum render size: %w", err)
	}
	return total, nil
}

// Len returns the number of cached entries.
func (c *RenderCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders`).Scan(&n)
	return n, err
}

// Clear drops every entry, e.g. after a voicebank changed on disk.
func (c *RenderCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM renders`); err != nil {
		return fmt.Errorf("clear renders: %w", err)
	}
	return nil
}

// Close releases the database.
func (c *RenderCache) Close() error { return c.db.Close() }

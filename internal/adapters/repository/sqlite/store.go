// Package sqlite provides a SQLite-backed key-value store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/pkg/metrics"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store persists entries in a single SQLite table.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ repository.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the value of key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return repository.ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(s.now()),
	)
	if err != nil {
		metrics.RecordStoreError("set")
		return fmt.Errorf("%w: set %q: %w", repository.ErrWrite, key, err)
	}
	return nil
}

// Update reads and rewrites key inside one transaction.
func (s *Store) Update(ctx context.Context, key string, fn repository.UpdateFunc) error {
	if key == "" {
		return repository.ErrEmptyKey
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordStoreError("update")
		return fmt.Errorf("%w: begin update %q: %w", repository.ErrWrite, key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		metrics.RecordStoreError("update")
		return fmt.Errorf("%w: read %q: %w", repository.ErrWrite, key, err)
	}

	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, next, toMillis(s.now()),
	)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		metrics.RecordStoreError("update")
		return fmt.Errorf("%w: update %q: %w", repository.ErrWrite, key, err)
	}
	return nil
}

// List returns the entries under prefix ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]repository.Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key, value, updated_at FROM kv
		 WHERE substr(key, 1, length(?1)) = ?1
		 ORDER BY key`,
		prefix,
	)
	if err != nil {
		metrics.RecordStoreError("list")
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]repository.Entry, 0)
	for rows.Next() {
		var (
			e       repository.Entry
			updated int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.UpdatedAt = fromMillis(updated)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		metrics.RecordStoreError("delete")
		return fmt.Errorf("%w: delete %q: %w", repository.ErrWrite, key, err)
	}
	return nil
}

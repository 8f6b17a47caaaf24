// Package redis provides a Redis-backed key-value store.
//
// Each entry is a hash with "value" and "updated_at" fields stored under the
// configured key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/pkg/metrics"
)

const (
	defaultPrefix = "chorus:kv:"
	scanCount     = 256
	maxTxRetries  = 16

	fieldValue   = "value"
	fieldUpdated = "updated_at"
)

// Store keeps entries in Redis hashes.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a store over client. The client is owned by the caller.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value of key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.prefix+key, fieldValue).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

// Set writes key and its update time.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return repository.ErrEmptyKey
	}
	err := s.client.HSet(ctx, s.prefix+key,
		fieldValue, value,
		fieldUpdated, s.now().UnixMilli(),
	).Err()
	if err != nil {
		metrics.RecordStoreError("set")
		return fmt.Errorf("%w: set %q: %w", repository.ErrWrite, key, err)
	}
	return nil
}

// Update rewrites key under WATCH and retries when another client changed
// it between the read and the write.
func (s *Store) Update(ctx context.Context, key string, fn repository.UpdateFunc) error {
	if key == "" {
		return repository.ErrEmptyKey
	}
	full := s.prefix + key

	var fnErr error
	txf := func(tx *goredis.Tx) error {
		cur, err := tx.HGet(ctx, full, fieldValue).Bytes()
		if errors.Is(err, goredis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, full, fieldValue, next, fieldUpdated, s.now().UnixMilli())
			return nil
		})
		return err
	}

	var err error
	for range maxTxRetries {
		fnErr = nil
		err = s.client.Watch(ctx, txf, full)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		metrics.RecordStoreError("update")
		return fmt.Errorf("%w: update %q: %w", repository.ErrWrite, key, err)
	}
}

// List scans for keys under prefix and returns them ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]repository.Entry, error) {
	pattern := escapeGlob(s.prefix+prefix) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		metrics.RecordStoreError("list")
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	sort.Strings(keys)

	out := make([]repository.Entry, 0, len(keys))
	for _, full := range keys {
		fields, err := s.client.HGetAll(ctx, full).Result()
		if err != nil {
			metrics.RecordStoreError("list")
			return nil, fmt.Errorf("read %q: %w", full, err)
		}
		value, ok := fields[fieldValue]
		if !ok {
			// deleted between SCAN and HGETALL
			continue
		}
		ms, _ := strconv.ParseInt(fields[fieldUpdated], 10, 64)
		out = append(out, repository.Entry{
			Key:       strings.TrimPrefix(full, s.prefix),
			Value:     []byte(value),
			UpdatedAt: time.UnixMilli(ms).UTC(),
		})
	}
	return out, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		metrics.RecordStoreError("delete")
		return fmt.Errorf("%w: delete %q: %w", repository.ErrWrite, key, err)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *Store) Close() error {
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

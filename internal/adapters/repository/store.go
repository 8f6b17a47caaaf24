// Package repository defines the key-value store used for derived state.
//
// Values are opaque bytes. Callers encode their own records and namespace
// keys with a "<kind>/<id>" convention so List can select one kind.
package repository

import (
	"context"
	"time"
)

// Entry is one stored key.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// UpdateFunc maps the current value of a key, nil when it is absent, to its
// replacement. Returning a nil value leaves the key untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Store provides read/write access to keyed values.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces key. Failures wrap ErrWrite.
	Set(ctx context.Context, key string, value []byte) error

	// Update replaces key with fn applied to its current value, atomically
	// with respect to other writers of key. fn may run more than once when a
	// concurrent write is detected. Errors returned by fn are passed through
	// unwrapped; store failures wrap ErrWrite.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// List returns every entry whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

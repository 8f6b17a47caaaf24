package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("key not found")
	ErrEmptyKey = errors.New("empty key")
	ErrWrite    = errors.New("store write failed")
	ErrClosed   = errors.New("store closed")
)

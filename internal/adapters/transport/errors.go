package transport

import "errors"

var (
	// ErrClosed is returned when publishing to or subscribing on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrNilHandler is returned by Subscribe when no handler is given.
	ErrNilHandler = errors.New("nil handler")
)

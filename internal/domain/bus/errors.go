package bus

import "errors"

var (
	// ErrClosed is returned by Emit and Flush after Close.
	ErrClosed = errors.New("bus closed")
	// ErrEmptyName is returned when emitting an event without a name.
	ErrEmptyName = errors.New("event name is empty")
	// ErrEncode wraps payload encoding failures.
	ErrEncode = errors.New("encode payload")
	// ErrPublish wraps transport publish failures. Local delivery has already
	// been queued when it is returned.
	ErrPublish = errors.New("publish to transport")
)

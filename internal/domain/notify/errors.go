package notify

import "errors"

var (
	// ErrPersist wraps failures to write a user's notifications.
	ErrPersist = errors.New("persist notifications")
	// ErrMissingUser is returned when no user id is given.
	ErrMissingUser = errors.New("user id is required")
)

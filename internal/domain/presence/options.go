package presence

import (
	"time"

	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
)

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithTypingTimeout sets how long typing lasts without a refresh.
func WithTypingTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.typingTimeout = d
		}
	}
}

// WithClock sets the clock used for timestamps and expiry timers.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets a custom logger for the tracker.
func WithLogger(log logger.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.logger = log
		}
	}
}

package notify

import (
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithRecipient sets the user that receives activity notifications whose
// payload names no recipient.
func WithRecipient(userID string) Option {
	return func(d *Dispatcher) {
		d.recipient = userID
	}
}

// WithActivitySuppression sets the probability of dropping an
// activity-derived notification. Values are clamped to [0, 1].
func WithActivitySuppression(p float64) Option {
	return func(d *Dispatcher) {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		d.suppression = p
	}
}

// WithLimit caps the notifications kept per user; older ones are dropped.
// Zero or less keeps everything.
func WithLimit(n int) Option {
	return func(d *Dispatcher) {
		d.limit = n
	}
}

// WithRand sets the random source used for throttling.
func WithRand(r random.Source) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.rand = r
		}
	}
}

// WithClock sets the clock used for notification timestamps.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.logger = log
		}
	}
}

// WithSharedStore marks kv as written by other nodes too. Inboxes are then
// read from kv on every call and written with kv.Update.
func WithSharedStore(shared bool) Option {
	return func(d *Dispatcher) {
		d.shared = shared
	}
}

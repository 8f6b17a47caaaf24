package progress

import (
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock sets the clock used for join and award times.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithSharedStore marks kv as written by other nodes too. Snapshots are then
// read from kv on every call and written with kv.Update.
func WithSharedStore(shared bool) Option {
	return func(s *Store) {
		s.shared = shared
	}
}

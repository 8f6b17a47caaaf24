package repository

import "github.com/okian/chorus/pkg/clock"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithClock sets the clock used for UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

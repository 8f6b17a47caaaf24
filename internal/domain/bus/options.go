package bus

import (
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
)

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithID sets the node id stamped on every emitted event. Defaults to a random uuid.
func WithID(id string) Option {
	return func(b *Bus) {
		if id != "" {
			b.id = id
		}
	}
}

// WithQueueSize sets the capacity of the dispatch queue.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets a custom logger for the bus.
func WithLogger(log logger.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.logger = log
		}
	}
}

package memory

import (
	"time"

	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithJitter delays every delivery by an independent duration in [lo, hi].
func WithJitter(lo, hi time.Duration) Option {
	return func(h *Hub) {
		if lo >= 0 && hi >= 0 {
			h.jitterMin = lo
			h.jitterMax = hi
		}
	}
}

// WithClock sets the clock used for jittered deliveries.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithRand sets the random source used to draw delivery delays.
func WithRand(r random.Source) Option {
	return func(h *Hub) {
		if r != nil {
			h.rand = r
		}
	}
}

// WithLogger sets a custom logger for the hub.
func WithLogger(log logger.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.logger = log
		}
	}
}

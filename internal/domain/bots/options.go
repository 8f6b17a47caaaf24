package bots

import (
	"time"

	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithActors sets the synthetic actors. Entries without an id are ignored.
func WithActors(actors ...Actor) Option {
	return func(s *Scheduler) {
		list := make([]Actor, 0, len(actors))
		for _, a := range actors {
			if a.ID != "" {
				list = append(list, a)
			}
		}
		if len(list) > 0 {
			s.actors = list
		}
	}
}

// WithActivityDelay sets the range between two autonomous activities.
func WithActivityDelay(lo, hi time.Duration) Option {
	return func(s *Scheduler) {
		s.activity = newDelayRange(lo, hi)
	}
}

// WithReactionDelay sets the range a reaction waits before it is emitted.
func WithReactionDelay(lo, hi time.Duration) Option {
	return func(s *Scheduler) {
		s.reaction = newDelayRange(lo, hi)
	}
}

// WithMaxReactions caps the reactions produced by one action.
func WithMaxReactions(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxReactions = n
		}
	}
}

// WithReactionProbability sets the chance of each potential reaction happening.
func WithReactionProbability(p float64) Option {
	return func(s *Scheduler) {
		if p >= 0 && p <= 1 {
			s.probability = p
		}
	}
}

// WithTypingDuration sets how long a reacting actor types before replying.
func WithTypingDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.typing = d
		}
	}
}

// WithCatalog sets the book titles and club names used in autonomous activity.
func WithCatalog(books, clubs []string) Option {
	return func(s *Scheduler) {
		if len(books) > 0 {
			s.books = books
		}
		if len(clubs) > 0 {
			s.clubs = clubs
		}
	}
}

// WithClock sets the clock owning every scheduler timer.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRand sets the random source behind every scheduler decision.
func WithRand(r random.Source) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.logger = log
		}
	}
}

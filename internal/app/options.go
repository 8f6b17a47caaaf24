package service

import (
	"time"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/bots"
	"github.com/okian/chorus/internal/domain/notify"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithNodeID sets the origin id stamped on emitted events.
func WithNodeID(id string) Option {
	return func(s *Service) {
		s.nodeID = id
	}
}

// WithUserID sets the local user. Activity notifications without an explicit
// recipient go to this user.
func WithUserID(id string) Option {
	return func(s *Service) {
		s.userID = id
	}
}

// WithQueueSize sets the capacity of the dispatch queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithTypingTimeout sets how long typing lasts before it becomes idle.
func WithTypingTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.typingTimeout = d
		}
	}
}

// WithStore sets the key-value store for progress and notifications.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSharedStore marks the store as shared with other nodes. Derived state
// is then only written by the node that emitted the event.
func WithSharedStore(shared bool) Option {
	return func(s *Service) {
		s.sharedStore = shared
	}
}

// WithCatalog sets the badge catalog.
func WithCatalog(c *achievement.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithAutonomousActivity enables the self-rescheduling synthetic activity loop.
func WithAutonomousActivity(enabled bool) Option {
	return func(s *Service) {
		s.autonomous = enabled
	}
}

// WithBotOptions passes options to the synthetic actor scheduler.
func WithBotOptions(opts ...bots.Option) Option {
	return func(s *Service) {
		s.botOpts = append(s.botOpts, opts...)
	}
}

// WithNotifyOptions passes options to the notification dispatcher.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(s *Service) {
		s.notifyOpts = append(s.notifyOpts, opts...)
	}
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRand sets the random source shared by the scheduler and the throttle.
func WithRand(r random.Source) Option {
	return func(s *Service) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

package redis

import "github.com/okian/chorus/pkg/logger"

// Option applies a configuration option to the Transport.
type Option func(*Transport)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(t *Transport) {
		if channel != "" {
			t.channel = channel
		}
	}
}

// WithLogger sets a custom logger for the transport.
func WithLogger(log logger.Logger) Option {
	return func(t *Transport) {
		if log != nil {
			t.logger = log
		}
	}
}

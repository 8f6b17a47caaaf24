// Package transport defines the broadcast primitive shared by every node.
//
// A transport is best effort: a published message reaches every current
// subscriber at most once, with no ordering guarantee across publishers.
// Publishers receive their own messages; filtering is the bus's job.
package transport

import (
	"context"
)

// Handler receives one raw message. Implementations must not retain msg
// past the call unless they copy it.
type Handler func(msg []byte)

// Subscription is a live registration on a transport.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Transport broadcasts byte messages to every subscriber.
type Transport interface {
	Publish(ctx context.Context, msg []byte) error
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Package redis implements the broadcast transport on Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

const defaultChannel = "chorus:events"

// Transport publishes and receives messages on one Redis channel.
type Transport struct {
	client  goredis.UniversalClient
	channel string
	logger  logger.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport over an existing client. The client is owned by the caller.
func New(client goredis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		channel: defaultChannel,
		logger:  logger.Get().Named("redis-transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Channel returns the pub/sub channel name.
func (t *Transport) Channel() string {
	return t.channel
}

// Publish sends msg to every subscriber of the channel.
func (t *Transport) Publish(ctx context.Context, msg []byte) error {
	if err := t.client.Publish(ctx, t.channel, msg).Err(); err != nil {
		metrics.RecordTransportError("publish")
		return fmt.Errorf("publish to %s: %w", t.channel, err)
	}
	return nil
}

// Subscribe starts delivering channel messages to h on a dedicated goroutine.
// It returns once Redis has confirmed the subscription.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handler) (transport.Subscription, error) {
	if h == nil {
		return nil, transport.ErrNilHandler
	}

	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		metrics.RecordTransportError("subscribe")
		return nil, fmt.Errorf("subscribe to %s: %w", t.channel, err)
	}

	sub := &subscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for m := range ch {
			h([]byte(m.Payload))
		}
	}()

	t.logger.Info(ctx, "subscribed", logger.String("channel", t.channel))
	return sub, nil
}

type subscription struct {
	ps   *goredis.PubSub
	once sync.Once
	err  error
	done chan struct{}
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}

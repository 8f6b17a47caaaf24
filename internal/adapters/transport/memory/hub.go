// Package memory provides an in-process broadcast transport.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// Hub is a transport shared by nodes in one process.
//
// Without jitter a publish invokes every subscriber synchronously on the
// publishing goroutine. With jitter each delivery is delayed independently,
// which lets two subscribers observe publishes in different orders.
type Hub struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID uint64
	closed bool

	// pending jittered deliveries
	timers  map[uint64]clock.Timer
	timerID uint64

	jitterMin time.Duration
	jitterMax time.Duration
	clock     clock.Clock
	rand      random.Source
	logger    logger.Logger
}

var _ transport.Transport = (*Hub)(nil)

type subscription struct {
	hub    *Hub
	id     uint64
	handle transport.Handler
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		timers: make(map[uint64]clock.Timer),
		clock:  clock.Real(),
		logger: logger.Get().Named("memory-transport"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.rand == nil {
		h.rand = random.Seeded()
	}
	if h.jitterMax < h.jitterMin {
		h.jitterMax = h.jitterMin
	}
	return h
}

// Publish delivers msg to every current subscriber, including the publisher's own.
func (h *Hub) Publish(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return transport.ErrClosed
	}
	targets := make([]*subscription, len(h.subs))
	copy(targets, h.subs)
	h.mu.Unlock()

	data := append([]byte(nil), msg...)
	for _, s := range targets {
		h.deliver(s, data)
	}
	return nil
}

func (h *Hub) deliver(s *subscription, data []byte) {
	if h.jitterMax <= 0 {
		s.handle(data)
		return
	}

	delay := h.jitterMin
	if span := h.jitterMax - h.jitterMin; span > 0 {
		delay += time.Duration(h.rand.Float64() * float64(span))
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.timerID++
	id := h.timerID
	h.timers[id] = h.clock.AfterFunc(delay, func() {
		h.mu.Lock()
		_, live := h.timers[id]
		delete(h.timers, id)
		subscribed := h.isSubscribedLocked(s)
		h.mu.Unlock()
		if live && subscribed {
			s.handle(data)
		}
	})
	h.mu.Unlock()
}

func (h *Hub) isSubscribedLocked(s *subscription) bool {
	for _, cur := range h.subs {
		if cur == s {
			return true
		}
	}
	return false
}

// Subscribe registers handler for every message published after the call.
func (h *Hub) Subscribe(_ context.Context, handler transport.Handler) (transport.Subscription, error) {
	if handler == nil {
		return nil, transport.ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, transport.ErrClosed
	}
	h.nextID++
	s := &subscription{hub: h, id: h.nextID, handle: handler}
	h.subs = append(h.subs, s)
	return s, nil
}

// Close removes this subscription from the hub.
func (s *subscription) Close() error {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.subs {
		if cur.id == s.id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Pending returns the number of jittered deliveries not yet made.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}

// Close drops every subscriber and cancels pending deliveries.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.subs = nil
	h.logger.Debug(context.Background(), "memory hub closed")
	return nil
}

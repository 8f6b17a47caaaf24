// Package bus implements typed publish/subscribe between nodes sharing a
// broadcast transport.
//
// Every event a node handles, whether emitted locally or received from the
// transport, is queued onto the node's dispatch loop and handed to the
// subscribers registered for its name at the moment it was accepted, in
// registration order. Envelopes a node receives back from the transport
// carrying its own origin id are dropped, so a local emit is delivered
// locally exactly once.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/chorus/internal/adapters/mq/queue"
	"github.com/okian/chorus/internal/adapters/mq/worker"
	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

const (
	defaultQueueSize = 4096
	flushRetry       = time.Millisecond
)

// Handler consumes one event. A returned error or a panic is logged and does
// not affect sibling handlers or the emitter.
type Handler func(ctx context.Context, ev model.Event) error

type subscription struct {
	id      uint64
	name    string
	handler Handler
	active  atomic.Bool
}

// Bus is one node's view of the event stream.
type Bus struct {
	id        string
	transport transport.Transport
	queueSize int
	queue     *queue.InMemoryQueue
	loop      *worker.Loop
	clock     clock.Clock
	logger    logger.Logger

	mu      sync.RWMutex
	subs    map[string][]*subscription
	nextSub uint64
	tsub    transport.Subscription
	started bool
	closed  bool
}

// New creates a bus on top of t. Call Start before expecting deliveries.
func New(t transport.Transport, opts ...Option) *Bus {
	b := &Bus{
		id:        uuid.NewString(),
		transport: t,
		queueSize: defaultQueueSize,
		clock:     clock.Real(),
		logger:    logger.Get().Named("bus"),
		subs:      make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = queue.NewInMemoryQueue(queue.WithCapacity(b.queueSize))
	b.loop = worker.NewLoop(b.queue, worker.WithName(b.id), worker.WithLogger(b.logger))
	return b
}

// ID returns the node id used as origin of every emitted event.
func (b *Bus) ID() string {
	return b.id
}

// Start subscribes to the transport and starts the dispatch loop.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return nil
	}

	sub, err := b.transport.Subscribe(ctx, b.receive)
	if err != nil {
		return fmt.Errorf("subscribe bus %s: %w", b.id, err)
	}
	b.tsub = sub
	b.started = true
	b.loop.Start(context.WithoutCancel(ctx))

	b.logger.Info(ctx, "bus started", logger.String("node", b.id))
	return nil
}

// Emit publishes payload under name to every node, this one included.
// Local handlers run later on the dispatch loop, never inside Emit.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	if name == "" {
		return ErrEmptyName
	}
	if b.isClosed() {
		return ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}
	ev := model.Event{
		Name:      name,
		Payload:   raw,
		OriginID:  b.id,
		Timestamp: b.clock.Now().UnixMilli(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}

	metrics.RecordEventEmitted(name)
	b.accept(ctx, ev, "local")

	if err := b.transport.Publish(ctx, data); err != nil {
		b.logger.Warn(ctx, "transport publish failed",
			logger.String("event", name),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

// On registers handler for name. The returned function removes exactly this
// registration and may be called any number of times.
func (b *Bus) On(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextSub++
	s := &subscription{id: b.nextSub, name: name, handler: handler}
	s.active.Store(true)
	b.subs[name] = append(b.subs[name], s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[name]
			for i, cur := range list {
				if cur.id == s.id {
					b.subs[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
		})
	}
}

// Subscribers returns the number of live registrations for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// receive handles a raw transport message.
func (b *Bus) receive(msg []byte) {
	ctx := context.Background()

	var ev model.Event
	if err := json.Unmarshal(msg, &ev); err != nil || !ev.Valid() {
		metrics.RecordEventMalformed()
		b.logger.Warn(ctx, "dropping malformed transport message",
			logger.Int("bytes", len(msg)),
			logger.Any("decode_error", err),
		)
		return
	}
	if ev.OriginID == b.id {
		metrics.RecordEventSuppressed()
		return
	}
	b.accept(ctx, ev, "remote")
}

// accept snapshots the current subscribers of ev and queues their invocation.
func (b *Bus) accept(ctx context.Context, ev model.Event, path string) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*subscription, len(b.subs[ev.Name]))
	copy(targets, b.subs[ev.Name])
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	ok := b.queue.Enqueue(ctx, func(ctx context.Context) {
		for _, s := range targets {
			if !s.active.Load() {
				continue
			}
			b.invoke(ctx, s, ev)
		}
		metrics.RecordEventDelivered(ev.Name, path)
	})
	if !ok {
		metrics.RecordEventDropped("queue_rejected")
		b.logger.Warn(ctx, "dropping event, dispatch queue rejected it",
			logger.String("event", ev.Name),
			logger.String("path", path),
		)
	}
}

func (b *Bus) invoke(ctx context.Context, s *subscription, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerFailure(ev.Name, "panic")
			b.logger.Error(ctx, "event handler panicked",
				logger.String("event", ev.Name),
				logger.Any("panic", r),
			)
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		metrics.RecordHandlerFailure(ev.Name, "error")
		b.logger.Error(ctx, "event handler failed",
			logger.String("event", ev.Name),
			logger.Error(err),
		)
	}
}

// Flush blocks until every task queued before the call has run.
func (b *Bus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	barrier := func(context.Context) { close(done) }
	for !b.queue.Enqueue(ctx, barrier) {
		if b.queue.IsClosed() {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(flushRetry):
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops transport delivery, runs every queued task and stops the loop.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	tsub := b.tsub
	b.tsub = nil
	b.mu.Unlock()

	var errs []error
	if tsub != nil {
		if err := tsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport subscription: %w", err))
		}
	}
	if err := b.loop.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	b.logger.Info(ctx, "bus closed", logger.String("node", b.id))
	return errors.Join(errs...)
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

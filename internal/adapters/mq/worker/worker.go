// Package worker runs the single dispatch loop of a node.
//
// Every task read off the queue runs on one goroutine, so handlers of a node
// never execute concurrently with each other.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/chorus/internal/adapters/mq/queue"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

// Loop drains a queue on a single goroutine.
type Loop struct {
	queue queue.Queue
	name  string

	startOnce sync.Once
	mu        sync.Mutex
	started   bool
	done      chan struct{}

	logger logger.Logger
}

// NewLoop creates a dispatch loop reading from q.
func NewLoop(q queue.Queue, opts ...Option) *Loop {
	l := &Loop{
		queue:  q,
		name:   "dispatch",
		done:   make(chan struct{}),
		logger: logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.name != "dispatch" {
		l.logger = l.logger.Named(l.name)
	}

	return l
}

// Start runs the loop in its own goroutine. Calling it more than once has no effect.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		go l.run(ctx)
	})
}

// Run runs the loop on the calling goroutine until the queue is closed and
// drained or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ran := false
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		ran = true
	})
	if !ran {
		return
	}
	l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	tasks := l.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			metrics.UpdateQueueSize(l.queue.Len())
			l.execute(ctx, task)
		}
	}
}

// execute runs one task. A panicking task is logged and the loop continues.
func (l *Loop) execute(ctx context.Context, task queue.Task) {
	start := time.Now()
	defer func() {
		metrics.RecordDispatchLatency(float64(time.Since(start).Microseconds()) / 1000)
		if r := recover(); r != nil {
			metrics.RecordHandlerFailure("task", "panic")
			l.logger.Error(ctx, "dispatch task panicked", logger.Any("panic", r))
		}
	}()
	task(ctx)
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Shutdown closes the queue and waits for the loop to run every task that
// was already queued.
func (l *Loop) Shutdown(ctx context.Context) error {
	if err := l.queue.Close(); err != nil {
		l.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn(ctx, "shutdown timed out", logger.Int("pending", l.queue.Len()))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

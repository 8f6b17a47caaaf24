package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/chorus/internal/adapters/mq/queue"
	"github.com/okian/chorus/internal/adapters/mq/worker"
	logging "github.com/okian/chorus/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu  sync.Mutex
	got []int
}

func (r *recorder) task(i int) queue.Task {
	return func(context.Context) {
		r.mu.Lock()
		r.got = append(r.got, i)
		r.mu.Unlock()
	}
}

func (r *recorder) values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.got...)
}

func TestLoop(t *testing.T) {
	convey.Convey("Given a dispatch loop over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		loop := worker.NewLoop(q, worker.WithName("test-loop"), worker.WithLogger(logging.Nop()))
		rec := &recorder{}
		ctx := context.Background()

		convey.Convey("When tasks are queued before the loop starts", func() {
			for i := 0; i < 10; i++ {
				convey.So(q.Enqueue(ctx, rec.task(i)), convey.ShouldBeTrue)
			}
			loop.Start(ctx)
			shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			convey.So(loop.Shutdown(shutdownCtx), convey.ShouldBeNil)

			convey.Convey("Then every task runs in FIFO order", func() {
				convey.So(rec.values(), convey.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
			})
		})

		convey.Convey("When a task panics", func() {
			convey.So(q.Enqueue(ctx, rec.task(1)), convey.ShouldBeTrue)
			convey.So(q.Enqueue(ctx, func(context.Context) { panic("boom") }), convey.ShouldBeTrue)
			convey.So(q.Enqueue(ctx, rec.task(2)), convey.ShouldBeTrue)
			loop.Start(ctx)
			shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			convey.So(loop.Shutdown(shutdownCtx), convey.ShouldBeNil)

			convey.Convey("Then the loop keeps running later tasks", func() {
				convey.So(rec.values(), convey.ShouldResemble, []int{1, 2})
			})
		})

		convey.Convey("When tasks run concurrently with producers", func() {
			loop.Start(ctx)
			var inFlight, maxInFlight int
			var mu sync.Mutex
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						for !q.Enqueue(ctx, func(context.Context) {
							mu.Lock()
							inFlight++
							if inFlight > maxInFlight {
								maxInFlight = inFlight
							}
							mu.Unlock()
							time.Sleep(100 * time.Microsecond)
							mu.Lock()
							inFlight--
							mu.Unlock()
						}) {
							time.Sleep(time.Millisecond)
						}
					}
				}()
			}
			wg.Wait()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			convey.So(loop.Shutdown(shutdownCtx), convey.ShouldBeNil)

			convey.Convey("Then no two tasks ever overlap", func() {
				convey.So(maxInFlight, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the loop was never started", func() {
			convey.Convey("Then shutdown closes the queue and returns", func() {
				convey.So(loop.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			runCtx, cancel := context.WithCancel(ctx)
			loop.Start(runCtx)
			cancel()

			convey.Convey("Then the loop exits", func() {
				select {
				case <-loop.Done():
				case <-time.After(time.Second):
					convey.So("loop did not exit", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/chorus/internal/adapters/http/api"
	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/adapters/repository/sqlite"
	"github.com/okian/chorus/internal/adapters/transport/memory"
	service "github.com/okian/chorus/internal/app"
	"github.com/okian/chorus/internal/config"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

func TestBuildBackends(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)

		convey.Convey("When the backends are built", func() {
			b, err := buildBackends(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			defer b.close(ctx, logger.Nop())

			convey.Convey("Then memory implementations are used", func() {
				_, isHub := b.transport.(*memory.Hub)
				convey.So(isHub, convey.ShouldBeTrue)
				_, isMemory := b.store.(*repository.MemoryStore)
				convey.So(isMemory, convey.ShouldBeTrue)
				convey.So(len(b.closers), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When sqlite is selected", func() {
			cfg.Store = config.StoreSQLite
			cfg.SQLitePath = filepath.Join(t.TempDir(), "chorus.db")
			b, err := buildBackends(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			defer b.close(ctx, logger.Nop())

			convey.Convey("Then the sqlite store is used", func() {
				_, isSQLite := b.store.(*sqlite.Store)
				convey.So(isSQLite, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When redis is unreachable", func() {
			cfg.Transport = config.TransportRedis
			cfg.RedisAddr = "127.0.0.1:1"
			dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			convey.Convey("Then building fails", func() {
				_, err := buildBackends(dialCtx, cfg)
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestServiceOptions(t *testing.T) {
	convey.Convey("Given a configured node", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.NodeID = "node-main"
		cfg.UserID = "me"
		cfg.Autonomous = false
		cfg.Actors = []config.Actor{{ID: "a1", Name: "Ada"}}

		hub := memory.NewHub()
		store := repository.NewMemoryStore()
		catalog := achievement.DefaultCatalog()
		svc := service.New(hub, serviceOptions(cfg, catalog, store, logger.Nop())...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Shutdown(ctx) }()

		convey.Convey("Then the configuration reaches the node", func() {
			convey.So(svc.ID(), convey.ShouldEqual, "node-main")
			convey.So(svc.UserID(), convey.ShouldEqual, "me")
			stats := svc.GetStats()
			convey.So(stats["autonomous"], convey.ShouldEqual, false)
			convey.So(stats["sharedStore"], convey.ShouldEqual, false)
			convey.So(stats["badges"], convey.ShouldEqual, catalog.Len())
		})

		convey.Convey("Then the HTTP surface drives the node", func() {
			mux := http.NewServeMux()
			api.NewServer(svc).Register(mux)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			convey.So(svc.Emit(ctx, model.EventProgressUpdate, model.ProgressUpdate{
				UserID: "me", Kind: model.ProgressBookCompleted, GroupID: "club-1", Genre: "poetry",
			}), convey.ShouldBeNil)
			convey.So(svc.Flush(ctx), convey.ShouldBeNil)

			awards, err := svc.Badges(ctx, "me")
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(awards), convey.ShouldEqual, 1)
		})

		convey.Convey("Then timers are published under their component names", func() {
			updateServiceMetrics(svc)
			families, err := metrics.GetRegistry().Gather()
			convey.So(err, convey.ShouldBeNil)
			var components []string
			for _, f := range families {
				if f.GetName() != "chorus_core_pending_timers" {
					continue
				}
				for _, m := range f.GetMetric() {
					for _, lp := range m.GetLabel() {
						if lp.GetName() == "component" {
							components = append(components, lp.GetValue())
						}
					}
				}
			}
			convey.So(components, convey.ShouldContain, "bots")
			convey.So(components, convey.ShouldNotContain, "scheduler")
		})

		convey.Convey("Then the metrics updater stops with its context", func() {
			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startServiceMetricsUpdater(tctx, svc) }, convey.ShouldNotPanic)
		})
	})

	convey.Convey("Given a redis store configuration", t, func() {
		cfg := config.New(context.Background())
		cfg.Store = config.StoreRedis

		convey.Convey("Then derived state is owned by the origin node", func() {
			convey.So(cfg.SharedStore(), convey.ShouldBeTrue)
		})
	})
}

func TestMetricsOptions(t *testing.T) {
	convey.Convey("Given a node with a fixed id and custom metric names", t, func() {
		cfg := config.New(context.Background())
		cfg.NodeID = "node-7"
		cfg.MetricsNamespace = "library"
		cfg.MetricsLatencyBuckets = []float64{1, 10, 100}

		convey.Convey("When the process metrics are configured from it", func() {
			metrics.Configure(metricsOptions(cfg)...)
			defer metrics.Configure()
			metrics.UpdatePendingTimers("bots", 3)

			convey.Convey("Then series carry the namespace and node label", func() {
				families, err := metrics.GetRegistry().Gather()
				convey.So(err, convey.ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() != "library_core_pending_timers" {
						continue
					}
					found = true
					labels := map[string]string{}
					for _, lp := range f.GetMetric()[0].GetLabel() {
						labels[lp.GetName()] = lp.GetValue()
					}
					convey.So(labels["node"], convey.ShouldEqual, "node-7")
					convey.So(labels["component"], convey.ShouldEqual, "bots")
				}
				convey.So(found, convey.ShouldBeTrue)
			})
		})
	})
}

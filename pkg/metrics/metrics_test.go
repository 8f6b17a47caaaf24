package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a custom registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("bus"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"node": "n1"}),
				WithPrometheusRegistry(registry),
			)
			manager.eventsEmitted.WithLabelValues("vote_cast").Inc()

			Convey("Then the metrics use the configured names and labels", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_bus_events_emitted_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldNotBeEmpty)
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording bus metrics", func() {
			before := testutil.ToFloat64(current().eventsEmitted.WithLabelValues("presence_update"))
			RecordEventEmitted("presence_update")
			RecordEventEmitted("presence_update")

			Convey("Then the counter moves", func() {
				after := testutil.ToFloat64(current().eventsEmitted.WithLabelValues("presence_update"))
				So(after-before, ShouldEqual, 2)
			})

			Convey("And the other recorders do not panic", func() {
				So(func() {
					RecordEventDelivered("vote_cast", "local")
					RecordEventDropped("queue_full")
					RecordEventSuppressed()
					RecordEventMalformed()
					RecordHandlerFailure("vote_cast", "panic")
					RecordDispatchLatency(0.4)
					RecordTransportError("publish")
				}, ShouldNotPanic)
			})
		})

		Convey("When recording derived-state metrics", func() {
			So(func() {
				UpdateQueueSize(3)
				UpdateQueueCapacity(1024)
				RecordQueueRejected("closed")
				UpdatePresenceEntries(4)
				RecordPresenceExpiration()
				UpdatePendingTimers("bots", 2)
				RecordSyntheticActivity("rating")
				RecordReactionsScheduled("vote_cast", 2)
				RecordBadgeAwarded("streak-3")
				RecordNotificationCreated("achievement")
				RecordNotificationSuppressed("activity")
				RecordStoreError("set")
			}, ShouldNotPanic)

			Convey("Then gauges hold the last value", func() {
				So(testutil.ToFloat64(current().presenceEntries), ShouldEqual, 4)
				So(testutil.ToFloat64(current().pendingTimers.WithLabelValues("bots")), ShouldEqual, 2)
			})
		})

		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("events", "POST", "202")
				RecordHTTPRequestDuration("events", "POST", "202", 3.0)
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the process metrics reconfigured for one node", t, func() {
		Configure(
			WithNamespace("reader"),
			WithSubsystem("node"),
			WithHistogramBuckets([]float64{1, 10}),
			WithConstLabels(map[string]string{"node": "n1"}),
		)
		defer Configure()

		RecordEventEmitted("vote_cast")
		RecordDispatchLatency(5)

		Convey("Then recorders write to the new registry", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
				if f.GetName() == "reader_node_dispatch_latency_milliseconds" {
					So(len(f.GetMetric()[0].GetHistogram().GetBucket()), ShouldEqual, 2)
				}
			}
			So(names["reader_node_events_emitted_total"], ShouldBeTrue)
			So(names["chorus_core_events_emitted_total"], ShouldBeFalse)
		})
	})
}

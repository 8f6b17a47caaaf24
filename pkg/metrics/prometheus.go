// Package metrics provides Prometheus metrics for the chorus event core.
package metrics

import (
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the event core.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Event bus
	eventsEmitted    *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventsSuppressed prometheus.Counter
	eventsMalformed  prometheus.Counter
	handlerFailures  *prometheus.CounterVec
	dispatchLatency  prometheus.Histogram
	transportErrors  *prometheus.CounterVec

	// Dispatch queue
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueRejected *prometheus.CounterVec

	// Derived state
	presenceEntries      prometheus.Gauge
	presenceExpirations  prometheus.Counter
	pendingTimers        *prometheus.GaugeVec
	syntheticActivity    *prometheus.CounterVec
	reactionsScheduled   *prometheus.CounterVec
	badgesAwarded        *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
	storeErrors          *prometheus.CounterVec

	// HTTP host surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// process is the manager and registry the package-level recorders write to.
type process struct {
	manager  *Manager
	registry *prometheus.Registry
}

var active atomic.Pointer[process] //nolint:gochecknoglobals // process-wide metrics

func init() { //nolint:gochecknoinits // recorders must work before Configure
	Configure()
}

// Configure replaces the process metrics with collectors built from opts on
// a fresh registry. Call it at startup, before metrics are served.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append(slices.Clone(opts), WithPrometheusRegistry(registry))...)
	active.Store(&process{manager: m, registry: registry})
}

func current() *Manager {
	return active.Load().manager
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "chorus",
		subsystem:        "core",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsEmitted = m.counterVec("events_emitted_total", "Events emitted by this process", "event")
	m.eventsDelivered = m.counterVec("events_delivered_total", "Handler invocations by delivery path", "event", "path")
	m.eventsDropped = m.counterVec("events_dropped_total", "Events dropped before dispatch", "reason")
	m.eventsSuppressed = m.counter("events_suppressed_total", "Transport messages dropped by origin suppression")
	m.eventsMalformed = m.counter("events_malformed_total", "Transport messages that could not be decoded")
	m.handlerFailures = m.counterVec("handler_failures_total", "Subscriber handlers that panicked or returned an error", "event", "kind")
	m.dispatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "dispatch_latency_milliseconds",
		Help:        "Time spent running all handlers of one event",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
	m.transportErrors = m.counterVec("transport_errors_total", "Transport publish/subscribe failures", "op")

	m.queueSize = m.gauge("queue_size", "Tasks waiting in dispatch queues")
	m.queueCapacity = m.gauge("queue_capacity", "Configured dispatch queue capacity")
	m.queueRejected = m.counterVec("queue_rejected_total", "Tasks rejected by a dispatch queue", "reason")

	m.presenceEntries = m.gauge("presence_entries", "Presence entries currently tracked")
	m.presenceExpirations = m.counter("presence_expirations_total", "Typing entries demoted to idle by timeout")
	m.pendingTimers = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "pending_timers",
		Help:        "Timers armed and not yet fired or cancelled",
		ConstLabels: m.constLabels,
	}, []string{"component"})
	m.syntheticActivity = m.counterVec("synthetic_activity_total", "Autonomous synthetic actor events", "kind")
	m.reactionsScheduled = m.counterVec("reactions_scheduled_total", "Synthetic reactions scheduled", "action")
	m.badgesAwarded = m.counterVec("badges_awarded_total", "Badges newly awarded", "badge")
	m.notificationsCreated = m.counterVec("notifications_created_total", "Notifications created", "type")
	m.notificationsDropped = m.counterVec("notifications_suppressed_total", "Notifications suppressed by throttling", "type")
	m.storeErrors = m.counterVec("store_errors_total", "Key-value store failures", "op")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordEventEmitted counts one Emit call.
func RecordEventEmitted(event string) {
	current().eventsEmitted.WithLabelValues(event).Inc()
}

// RecordEventDelivered counts one handler invocation; path is "local" or "remote".
func RecordEventDelivered(event, path string) {
	current().eventsDelivered.WithLabelValues(event, path).Inc()
}

// RecordEventDropped counts an event that never reached its handlers.
func RecordEventDropped(reason string) {
	current().eventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventSuppressed counts a transport message rejected by origin.
func RecordEventSuppressed() {
	current().eventsSuppressed.Inc()
}

// RecordEventMalformed counts an undecodable transport message.
func RecordEventMalformed() {
	current().eventsMalformed.Inc()
}

// RecordHandlerFailure counts a panicking ("panic") or failing ("error") handler.
func RecordHandlerFailure(event, kind string) {
	current().handlerFailures.WithLabelValues(event, kind).Inc()
}

// RecordDispatchLatency records the time spent dispatching one event.
func RecordDispatchLatency(latencyMs float64) {
	current().dispatchLatency.Observe(latencyMs)
}

// RecordTransportError counts a transport failure for op ("publish", "subscribe").
func RecordTransportError(op string) {
	current().transportErrors.WithLabelValues(op).Inc()
}

// UpdateQueueSize sets the dispatch queue backlog.
func UpdateQueueSize(size int) {
	current().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the configured dispatch queue capacity.
func UpdateQueueCapacity(capacity int) {
	current().queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts a task the queue refused.
func RecordQueueRejected(reason string) {
	current().queueRejected.WithLabelValues(reason).Inc()
}

// UpdatePresenceEntries sets the number of tracked presence entries.
func UpdatePresenceEntries(count int) {
	current().presenceEntries.Set(float64(count))
}

// RecordPresenceExpiration counts a typing-to-idle demotion.
func RecordPresenceExpiration() {
	current().presenceExpirations.Inc()
}

// UpdatePendingTimers sets the armed timer count for component.
func UpdatePendingTimers(component string, count int) {
	current().pendingTimers.WithLabelValues(component).Set(float64(count))
}

// RecordSyntheticActivity counts an autonomous synthetic event of kind.
func RecordSyntheticActivity(kind string) {
	current().syntheticActivity.WithLabelValues(kind).Inc()
}

// RecordReactionsScheduled adds n scheduled reactions for action.
func RecordReactionsScheduled(action string, n int) {
	current().reactionsScheduled.WithLabelValues(action).Add(float64(n))
}

// RecordBadgeAwarded counts a newly earned badge.
func RecordBadgeAwarded(badgeID string) {
	current().badgesAwarded.WithLabelValues(badgeID).Inc()
}

// RecordNotificationCreated counts a stored notification.
func RecordNotificationCreated(kind string) {
	current().notificationsCreated.WithLabelValues(kind).Inc()
}

// RecordNotificationSuppressed counts a throttled notification.
func RecordNotificationSuppressed(kind string) {
	current().notificationsDropped.WithLabelValues(kind).Inc()
}

// RecordStoreError counts a key-value store failure.
func RecordStoreError(op string) {
	current().storeErrors.WithLabelValues(op).Inc()
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry holding the process metrics.
func GetRegistry() *prometheus.Registry {
	return active.Load().registry
}

// Package metrics provides Prometheus metrics for the kindred funnel service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Funnel
	surveySubmissions *prometheus.CounterVec
	surveyCreated     prometheus.Counter
	surveyCompleted   prometheus.Counter
	waitlistJoins     *prometheus.CounterVec
	unsubscribes      prometheus.Counter

	// Store
	storeLatency   *prometheus.HistogramVec
	storeConflicts prometheus.Counter
	storeRecords   *prometheus.GaugeVec

	// Rate limiting
	rateLimitDecisions *prometheus.CounterVec
	rateLimitEntries   prometheus.Gauge

	// Notifications
	notifyQueueSize     prometheus.Gauge
	notifyQueueDropped  prometheus.Counter
	notifications       *prometheus.CounterVec
	notifyLatency       prometheus.Histogram
	notifyWorkers       prometheus.Gauge
	circuitBreakerState *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "kindred",
		subsystem:        "funnel",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.surveySubmissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "survey_submissions_total",
		Help: "Survey step submissions by outcome",
	}, []string{"outcome"})

	m.surveyCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "survey_responses_created_total",
		Help: "Survey response records created",
	})

	m.surveyCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "survey_responses_completed_total",
		Help: "Survey responses that transitioned to complete",
	})

	m.waitlistJoins = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "waitlist_joins_total",
		Help: "Waitlist join attempts by outcome",
	}, []string{"outcome"})

	m.unsubscribes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "email_unsubscribes_total",
		Help: "Unsubscribe requests received",
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "store_operation_duration_milliseconds",
		Help:    "Record store operation latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"operation"})

	m.storeConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "store_txn_conflicts_total",
		Help: "Store transactions retried after a write conflict",
	})

	m.storeRecords = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "store_records",
		Help: "Records held by the store per collection",
	}, []string{"collection"})

	m.rateLimitDecisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ratelimit_decisions_total",
		Help: "Rate limiter decisions by route and result",
	}, []string{"route", "result"})

	m.rateLimitEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ratelimit_entries",
		Help: "Live rate limiter windows held in memory",
	})

	m.notifyQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notify_queue_size",
		Help: "Notifications waiting for a worker",
	})

	m.notifyQueueDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notify_queue_dropped_total",
		Help: "Notifications dropped because the queue was full or closed",
	})

	m.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notifications_total",
		Help: "Notification delivery results by kind and status",
	}, []string{"kind", "status"})

	m.notifyLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "notify_send_duration_milliseconds",
		Help:    "Email API send latency in milliseconds",
		Buckets: m.histogramBuckets,
	})

	m.notifyWorkers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notify_workers",
		Help: "Notification workers running",
	})

	m.circuitBreakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "errors_total",
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name: "memory_usage_bytes",
		Help: "Allocated heap memory in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name: "goroutines",
		Help: "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "system",
		Name:    "gc_pause_milliseconds",
		Help:    "Average GC pause in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	})
}

// RecordSurveySubmission counts a submission with the given outcome
// (created, updated, completed, invalid, failed).
func RecordSurveySubmission(outcome string) {
	globalManager.surveySubmissions.WithLabelValues(outcome).Inc()
}

// RecordSurveyCreated counts a newly created response record.
func RecordSurveyCreated() {
	globalManager.surveyCreated.Inc()
}

// RecordSurveyCompleted counts a false->true completion transition.
func RecordSurveyCompleted() {
	globalManager.surveyCompleted.Inc()
}

// RecordWaitlistJoin counts a waitlist join attempt.
func RecordWaitlistJoin(outcome string) {
	globalManager.waitlistJoins.WithLabelValues(outcome).Inc()
}

// RecordUnsubscribe counts an unsubscribe request.
func RecordUnsubscribe() {
	globalManager.unsubscribes.Inc()
}

// RecordStoreLatency observes a store operation duration.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordStoreConflict counts a retried transaction.
func RecordStoreConflict() {
	globalManager.storeConflicts.Inc()
}

// UpdateStoreRecords sets the record count of a collection.
func UpdateStoreRecords(collection string, n int) {
	globalManager.storeRecords.WithLabelValues(collection).Set(float64(n))
}

// RecordRateLimitDecision counts an admit/deny decision.
func RecordRateLimitDecision(route string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	globalManager.rateLimitDecisions.WithLabelValues(route, result).Inc()
}

// UpdateRateLimitEntries sets the number of live limiter windows.
func UpdateRateLimitEntries(n int) {
	globalManager.rateLimitEntries.Set(float64(n))
}

// UpdateNotifyQueueSize sets the notification backlog.
func UpdateNotifyQueueSize(n int) {
	globalManager.notifyQueueSize.Set(float64(n))
}

// RecordNotifyDropped counts a notification that never reached the queue.
func RecordNotifyDropped() {
	globalManager.notifyQueueDropped.Inc()
}

// RecordNotification counts a delivery result (sent, failed, duplicate).
func RecordNotification(kind, status string) {
	globalManager.notifications.WithLabelValues(kind, status).Inc()
}

// RecordNotifyLatency observes an email send duration.
func RecordNotifyLatency(latencyMs float64) {
	globalManager.notifyLatency.Observe(latencyMs)
}

// UpdateNotifyWorkers sets the number of running notification workers.
func UpdateNotifyWorkers(n int) {
	globalManager.notifyWorkers.Set(float64(n))
}

// UpdateCircuitBreakerState sets a breaker's state gauge.
func UpdateCircuitBreakerState(name string, state float64) {
	globalManager.circuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

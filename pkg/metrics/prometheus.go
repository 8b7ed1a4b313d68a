// Package metrics provides Prometheus metrics for the CalmMind service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the CalmMind service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Insight pipeline
	insightsEvaluated prometheus.Counter
	actionsSelected   *prometheus.CounterVec
	interventions     prometheus.Counter
	weeklySummaries   prometheus.Counter
	evaluationLatency prometheus.Histogram

	// Cohort tuning
	tuningSubmissions    *prometheus.CounterVec
	commitConflicts      prometheus.Counter
	commitAttempts       prometheus.Histogram
	commitLatency        prometheus.Histogram
	duplicateSubmissions prometheus.Counter
	tuningFallbacks      *prometheus.CounterVec
	cohortsTracked       prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec

	// Audit
	auditRecordsWritten prometheus.Counter
	auditRecordsDropped prometheus.Counter

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "calmmind",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Collectors still work but nothing scrapes them.
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
		Buckets:     buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
		Buckets:     buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.insightsEvaluated = m.counter("insights_evaluated_total", "Total number of daily insights evaluated")
	m.actionsSelected = m.counterVec("actions_selected_total", "Total number of selected actions by action", "action")
	m.interventions = m.counter("interventions_total", "Total number of insights at or above the risk threshold")
	m.weeklySummaries = m.counter("weekly_summaries_total", "Total number of weekly summaries built")
	m.evaluationLatency = m.histogram("evaluation_latency_milliseconds", "Histogram of insight evaluation latency in milliseconds", m.histogramBuckets)

	m.tuningSubmissions = m.counterVec("tuning_submissions_total", "Total number of tuning submissions by cohort and outcome", "cohort", "outcome")
	m.commitConflicts = m.counter("commit_conflicts_total", "Total number of cohort commits rejected by a version conflict")
	m.commitAttempts = m.histogram("commit_attempts", "Read-modify-write attempts needed per tuning submission",
		[]float64{1, 2, 3, 5, 8, 13, 21, 34, 64})
	m.commitLatency = m.histogram("commit_latency_milliseconds", "Histogram of cohort commit latency in milliseconds, retries included", m.histogramBuckets)
	m.duplicateSubmissions = m.counter("duplicate_submissions_total", "Total number of replayed idempotency keys")
	m.tuningFallbacks = m.counterVec("tuning_fallbacks_total", "Total number of local tuning estimates used by the client", "reason")
	m.cohortsTracked = m.gauge("cohorts_tracked", "Number of cohorts with stored statistics")

	m.storeLatency = m.histogramVec("store_operation_latency_milliseconds", "Cohort store operation latency in milliseconds",
		m.histogramBuckets, "backend", "operation")

	m.auditRecordsWritten = m.counter("audit_records_written_total", "Total number of submission records written to the audit sink")
	m.auditRecordsDropped = m.counter("audit_records_dropped_total", "Total number of submission records dropped on a full queue")

	m.queueSize = m.gauge("queue_size", "Current size of the audit queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the audit queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Audit queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of records enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of records dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Time records wait in the queue in milliseconds", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Current number of audit workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Number of audit workers currently writing")
	m.workerIdleCount = m.gauge("worker_idle_count", "Number of idle audit workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Audit write latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of failed audit writes")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordInsightEvaluated counts one evaluated day and its action.
func RecordInsightEvaluated(action string, intervention bool, latencyMs float64) {
	globalManager.insightsEvaluated.Inc()
	globalManager.actionsSelected.WithLabelValues(action).Inc()
	if intervention {
		globalManager.interventions.Inc()
	}
	globalManager.evaluationLatency.Observe(latencyMs)
}

// RecordWeeklySummary increments the weekly summaries counter.
func RecordWeeklySummary() {
	globalManager.weeklySummaries.Inc()
}

// RecordTuningSubmission records a tuning submission outcome for a cohort.
func RecordTuningSubmission(cohort, outcome string) {
	globalManager.tuningSubmissions.WithLabelValues(cohort, outcome).Inc()
}

// RecordCommitConflict increments the commit conflict counter.
func RecordCommitConflict() {
	globalManager.commitConflicts.Inc()
}

// RecordCommit records attempts and latency of one read-modify-write cycle.
func RecordCommit(attempts int, latencyMs float64) {
	globalManager.commitAttempts.Observe(float64(attempts))
	globalManager.commitLatency.Observe(latencyMs)
}

// RecordDuplicateSubmission increments the duplicate submission counter.
func RecordDuplicateSubmission() {
	globalManager.duplicateSubmissions.Inc()
}

// RecordTuningFallback records a client fallback with its reason.
func RecordTuningFallback(reason string) {
	globalManager.tuningFallbacks.WithLabelValues(reason).Inc()
}

// UpdateCohortsTracked sets the number of cohorts with stats.
func UpdateCohortsTracked(count int) {
	globalManager.cohortsTracked.Set(float64(count))
}

// RecordStoreLatency records the latency of a cohort store operation.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
}

// RecordAuditWritten increments the audit written counter.
func RecordAuditWritten() {
	globalManager.auditRecordsWritten.Inc()
}

// RecordAuditDropped increments the audit dropped counter.
func RecordAuditDropped() {
	globalManager.auditRecordsDropped.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a record waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RefreshInterval is how often callers should refresh sampled gauges.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

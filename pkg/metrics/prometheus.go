// Package metrics provides Prometheus metrics for the trust scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scoreBuckets cover the whole [0,100] trust score range in steps of ten.
var scoreBuckets = prometheus.LinearBuckets(0, 10, 11) //nolint:gochecknoglobals // fixed bucket layout

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Scoring engine
	eventsApplied   *prometheus.CounterVec
	rulesFired      *prometheus.CounterVec
	commitConflicts prometheus.Counter
	commitFailures  *prometheus.CounterVec
	commitAttempts  prometheus.Histogram
	applyLatency    prometheus.Histogram
	committedScores prometheus.Histogram
	riskTransitions *prometheus.CounterVec

	// Accounts and credentials
	accountsRegistered prometheus.Counter
	logins             *prometheus.CounterVec
	duplicateEvents    prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec

	// Alert queue and workers
	alertQueueSize     prometheus.Gauge
	alertQueueCapacity prometheus.Gauge
	alertsEnqueued     prometheus.Counter
	alertsDropped      *prometheus.CounterVec
	alertsDelivered    prometheus.Counter
	alertWorkerErrors  prometheus.Counter
	alertWorkers       prometheus.Gauge

	// Alert sinks
	streamClients   prometheus.Gauge
	alertsPublished *prometheus.CounterVec

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

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "trust",
		subsystem:        "scoring",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.eventsApplied = auto.NewCounterVec(m.counterOpts("events_applied_total", "Security events committed to a trust score, by kind"), []string{"kind"})
	m.rulesFired = auto.NewCounterVec(m.counterOpts("rules_fired_total", "Scoring rules that contributed a delta, by rule"), []string{"rule"})
	m.commitConflicts = auto.NewCounter(m.counterOpts("commit_conflicts_total", "Compare-and-set conflicts while committing a score"))
	m.commitFailures = auto.NewCounterVec(m.counterOpts("commit_failures_total", "Score commits that were abandoned, by reason"), []string{"reason"})
	m.commitAttempts = auto.NewHistogram(m.histogramOpts("commit_attempts", "Attempts needed to commit one event", []float64{1, 2, 3, 5, 8, 13}))
	m.applyLatency = auto.NewHistogram(m.histogramOpts("apply_latency_milliseconds", "End-to-end latency of applying one event", m.histogramBuckets))
	m.committedScores = auto.NewHistogram(m.histogramOpts("committed_score", "Distribution of committed trust scores", scoreBuckets))
	m.riskTransitions = auto.NewCounterVec(m.counterOpts("risk_transitions_total", "Risk label changes caused by a commit"), []string{"from", "to"})

	m.accountsRegistered = auto.NewCounter(m.counterOpts("accounts_registered_total", "Accounts created"))
	m.logins = auto.NewCounterVec(m.counterOpts("logins_total", "Login attempts, by result"), []string{"result"})
	m.duplicateEvents = auto.NewCounter(m.counterOpts("events_duplicate_total", "Events skipped because their idempotency key was already seen"))

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds", "Store operation latency", m.histogramBuckets), []string{"backend", "op"})

	m.alertQueueSize = auto.NewGauge(m.gaugeOpts("alert_queue_size", "Risk alerts waiting for delivery"))
	m.alertQueueCapacity = auto.NewGauge(m.gaugeOpts("alert_queue_capacity", "Maximum number of queued risk alerts"))
	m.alertsEnqueued = auto.NewCounter(m.counterOpts("alerts_enqueued_total", "Risk alerts accepted by the queue"))
	m.alertsDropped = auto.NewCounterVec(m.counterOpts("alerts_dropped_total", "Risk alerts rejected by the queue, by reason"), []string{"reason"})
	m.alertsDelivered = auto.NewCounter(m.counterOpts("alerts_delivered_total", "Risk alerts delivered to the notifier"))
	m.alertWorkerErrors = auto.NewCounter(m.counterOpts("alert_worker_errors_total", "Notifier failures seen by alert workers"))
	m.alertWorkers = auto.NewGauge(m.gaugeOpts("alert_workers", "Running alert workers"))

	m.streamClients = auto.NewGauge(m.gaugeOpts("stream_clients", "Connected alert stream clients"))
	m.alertsPublished = auto.NewCounterVec(m.counterOpts("alerts_published_total", "Risk alerts published to the broker, by result"), []string{"result"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "Average GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordEventApplied counts a committed event of the given kind.
func RecordEventApplied(kind string) {
	globalManager.eventsApplied.WithLabelValues(kind).Inc()
}

// RecordRuleFired counts a rule that contributed to a commit.
func RecordRuleFired(rule string) {
	globalManager.rulesFired.WithLabelValues(rule).Inc()
}

// RecordCommitConflict counts one lost compare-and-set race.
func RecordCommitConflict() {
	globalManager.commitConflicts.Inc()
}

// RecordCommitFailure counts an abandoned commit.
func RecordCommitFailure(reason string) {
	globalManager.commitFailures.WithLabelValues(reason).Inc()
}

// RecordCommitAttempts observes how many attempts a commit took.
func RecordCommitAttempts(attempts int) {
	globalManager.commitAttempts.Observe(float64(attempts))
}

// RecordApplyLatency observes apply latency in milliseconds.
func RecordApplyLatency(latencyMs float64) {
	globalManager.applyLatency.Observe(latencyMs)
}

// RecordCommittedScore observes a committed score.
func RecordCommittedScore(score int) {
	globalManager.committedScores.Observe(float64(score))
}

// RecordRiskTransition counts a risk label change.
func RecordRiskTransition(from, to string) {
	globalManager.riskTransitions.WithLabelValues(from, to).Inc()
}

// RecordAccountRegistered counts a new account.
func RecordAccountRegistered() {
	globalManager.accountsRegistered.Inc()
}

// RecordLogin counts a login attempt; result is "success", "failure" or "unknown_account".
func RecordLogin(result string) {
	globalManager.logins.WithLabelValues(result).Inc()
}

// RecordDuplicateEvent counts an idempotent replay.
func RecordDuplicateEvent() {
	globalManager.duplicateEvents.Inc()
}

// RecordStoreLatency observes one store operation.
func RecordStoreLatency(backend, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// UpdateAlertQueueSize sets the current alert backlog.
func UpdateAlertQueueSize(size int) {
	globalManager.alertQueueSize.Set(float64(size))
}

// UpdateAlertQueueCapacity sets the alert queue capacity.
func UpdateAlertQueueCapacity(capacity int) {
	globalManager.alertQueueCapacity.Set(float64(capacity))
}

// RecordAlertEnqueued counts an accepted alert.
func RecordAlertEnqueued() {
	globalManager.alertsEnqueued.Inc()
}

// RecordAlertDropped counts a rejected alert.
func RecordAlertDropped(reason string) {
	globalManager.alertsDropped.WithLabelValues(reason).Inc()
}

// RecordAlertDelivered counts a delivered alert.
func RecordAlertDelivered() {
	globalManager.alertsDelivered.Inc()
}

// RecordAlertWorkerError counts a notifier failure.
func RecordAlertWorkerError() {
	globalManager.alertWorkerErrors.Inc()
}

// UpdateAlertWorkers sets the number of running alert workers.
func UpdateAlertWorkers(count int) {
	globalManager.alertWorkers.Set(float64(count))
}

// UpdateStreamClients sets the number of connected alert stream clients.
func UpdateStreamClients(count int) {
	globalManager.streamClients.Set(float64(count))
}

// RecordAlertPublished counts a broker publish attempt by result.
func RecordAlertPublished(result string) {
	globalManager.alertsPublished.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent counts an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime observes average GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry that holds the service metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the monitor
type PrometheusMetrics struct {
	// Sweep metrics
	SweepsTotal    *prometheus.CounterVec
	SweepDuration  *prometheus.HistogramVec
	TargetsSwept   prometheus.Counter
	TargetsSkipped prometheus.Counter

	// Scan metrics
	PostsScannedTotal  *prometheus.CounterVec
	SpamDetectedTotal  *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	CheckpointAdvances prometheus.Counter

	// Bridge metrics
	BridgeRequestsTotal   *prometheus.CounterVec
	BridgeRequestDuration *prometheus.HistogramVec
	BridgeErrorsTotal     *prometheus.CounterVec

	// Moderation metrics
	DeletionsTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge

	// Target metrics
	TargetsMonitored   prometheus.Gauge
	TargetsUnreachable prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		// Sweep metrics
		SweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_sweeps_total",
				Help: "Total number of sweep passes per target",
			},
			[]string{"target_id", "status"},
		),

		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepy_sweep_duration_seconds",
				Help:    "Time spent on a full sweep of one target",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target_id"},
		),

		TargetsSwept: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keepy_targets_swept_total",
				Help: "Total number of target sweeps started",
			},
		),

		TargetsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keepy_targets_skipped_total",
				Help: "Total number of sweeps skipped because the target was busy",
			},
		),

		// Scan metrics
		PostsScannedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_posts_scanned_total",
				Help: "Total number of board posts examined",
			},
			[]string{"target_id"},
		),

		SpamDetectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_spam_detected_total",
				Help: "Total number of posts judged as spam",
			},
			[]string{"target_id"},
		),

		ScanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepy_scan_duration_seconds",
				Help:    "Time spent scanning one batch of posts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target_id"},
		),

		CheckpointAdvances: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keepy_checkpoint_advances_total",
				Help: "Total number of successful checkpoint advances",
			},
		),

		// Bridge metrics
		BridgeRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_bridge_requests_total",
				Help: "Total number of requests sent to remote bridges",
			},
			[]string{"action", "status"},
		),

		BridgeRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepy_bridge_request_duration_seconds",
				Help:    "Duration of bridge requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		BridgeErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_bridge_errors_total",
				Help: "Total number of bridge request failures",
			},
			[]string{"action", "error_code"},
		),

		// Moderation metrics
		DeletionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_deletions_total",
				Help: "Total number of remote post deletions attempted",
			},
			[]string{"target_id", "outcome"},
		),

		// Storage metrics
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepy_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepy_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepy_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepy_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keepy_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepy_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepy_goroutines",
				Help: "Number of running goroutines",
			},
		),

		// Target metrics
		TargetsMonitored: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepy_targets_monitored",
				Help: "Number of active targets currently being monitored",
			},
		),

		TargetsUnreachable: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepy_targets_unreachable",
				Help: "Number of targets whose last health check failed",
			},
		),
	}
}

// RecordSweep records a completed sweep pass for a target
func (m *PrometheusMetrics) RecordSweep(targetID, status string, duration time.Duration) {
	m.SweepsTotal.WithLabelValues(targetID, status).Inc()
	m.SweepDuration.WithLabelValues(targetID).Observe(duration.Seconds())
}

// RecordSweepStarted records a sweep being dispatched
func (m *PrometheusMetrics) RecordSweepStarted() {
	m.TargetsSwept.Inc()
}

// RecordSweepSkipped records a sweep skipped because the target was busy
func (m *PrometheusMetrics) RecordSweepSkipped() {
	m.TargetsSkipped.Inc()
}

// RecordPostsScanned records examined posts for a target
func (m *PrometheusMetrics) RecordPostsScanned(targetID string, count int) {
	m.PostsScannedTotal.WithLabelValues(targetID).Add(float64(count))
}

// RecordSpamDetected records a spam judgment for a target
func (m *PrometheusMetrics) RecordSpamDetected(targetID string) {
	m.SpamDetectedTotal.WithLabelValues(targetID).Inc()
}

// RecordScanDuration records the time taken to scan one batch
func (m *PrometheusMetrics) RecordScanDuration(targetID string, duration time.Duration) {
	m.ScanDuration.WithLabelValues(targetID).Observe(duration.Seconds())
}

// RecordCheckpointAdvance records a successful checkpoint move
func (m *PrometheusMetrics) RecordCheckpointAdvance() {
	m.CheckpointAdvances.Inc()
}

// RecordBridgeRequest records a bridge request
func (m *PrometheusMetrics) RecordBridgeRequest(action, status string, duration time.Duration) {
	m.BridgeRequestsTotal.WithLabelValues(action, status).Inc()
	m.BridgeRequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordBridgeError records a bridge request failure
func (m *PrometheusMetrics) RecordBridgeError(action, errorCode string) {
	m.BridgeErrorsTotal.WithLabelValues(action, errorCode).Inc()
}

// RecordDeletion records a remote deletion attempt
func (m *PrometheusMetrics) RecordDeletion(targetID, outcome string) {
	m.DeletionsTotal.WithLabelValues(targetID, outcome).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateTargetsMonitored updates the number of monitored targets
func (m *PrometheusMetrics) UpdateTargetsMonitored(count int) {
	m.TargetsMonitored.Set(float64(count))
}

// UpdateTargetsUnreachable updates the number of unreachable targets
func (m *PrometheusMetrics) UpdateTargetsUnreachable(count int) {
	m.TargetsUnreachable.Set(float64(count))
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

// MetricsSnapshot is a lightweight view of engine activity for the ops endpoints.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	RenewalOperations        uint64    `json:"renewal_operations"`
	RenewalFailures          uint64    `json:"renewal_failures"`
	EventsDropped            uint64    `json:"events_dropped"`
	EnrollmentsRefreshed     uint64    `json:"enrollments_refreshed"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	eventDispatch     *prometheus.CounterVec
	sweeperRuns       *prometheus.CounterVec
	sweeperRefreshed  *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec

	requestCount         uint64
	operationCount       uint64
	operationFailures    uint64
	eventsDropped        uint64
	refreshedCount       uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	operationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renewal_operation_duration_seconds",
		Help:    "Duration of renewal engine operations by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_status_transitions_total",
		Help: "Renewal request status transitions",
	}, []string{"from", "to"})

	eventDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_events_total",
		Help: "Renewal events by kind and dispatch outcome",
	}, []string{"kind", "outcome"})

	sweeperRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_sweeper_runs_total",
		Help: "Completed enrollment sweeps by outcome",
	}, []string{"outcome"})

	sweeperRefreshed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_status_refreshed_total",
		Help: "Cached enrollment statuses rewritten by the sweeper",
	}, []string{"status"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, operationDuration, transitions, eventDispatch, sweeperRuns, sweeperRefreshed, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		operationDuration: operationDuration,
		transitions:       transitions,
		eventDispatch:     eventDispatch,
		sweeperRuns:       sweeperRuns,
		sweeperRefreshed:  sweeperRefreshed,
		dbQueryDuration:   dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// ObserveRenewalOperation records the latency of one engine operation.
func (m *MetricsService) ObserveRenewalOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	atomic.AddUint64(&m.operationCount, 1)
	if outcome != "ok" {
		atomic.AddUint64(&m.operationFailures, 1)
	}
}

// RecordRenewalTransition counts a committed status change. An empty from marks creation.
func (m *MetricsService) RecordRenewalTransition(from, to models.RenewalStatus) {
	if m == nil {
		return
	}
	label := string(from)
	if label == "" {
		label = "none"
	}
	m.transitions.WithLabelValues(label, string(to)).Inc()
}

// RecordEventDispatch counts event hand-offs and deliveries.
func (m *MetricsService) RecordEventDispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventDispatch.WithLabelValues(kind, outcome).Inc()
	if outcome == "dropped" {
		atomic.AddUint64(&m.eventsDropped, 1)
	}
}

// RecordSweep counts a finished sweep and the statuses it rewrote.
func (m *MetricsService) RecordSweep(outcome string, refreshed map[models.EnrollmentStatus]int) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(outcome).Inc()
	for status, count := range refreshed {
		m.sweeperRefreshed.WithLabelValues(string(status)).Add(float64(count))
		atomic.AddUint64(&m.refreshedCount, uint64(count))
	}
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics suitable for the ops endpoints.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            atomic.LoadUint64(&m.requestCount),
		RenewalOperations:        atomic.LoadUint64(&m.operationCount),
		RenewalFailures:          atomic.LoadUint64(&m.operationFailures),
		EventsDropped:            atomic.LoadUint64(&m.eventsDropped),
		EnrollmentsRefreshed:     atomic.LoadUint64(&m.refreshedCount),
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

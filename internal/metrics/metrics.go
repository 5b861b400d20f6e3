// Package metrics provides Prometheus metrics for schedver
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for schedver. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Engine operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Versioning metrics
	VersionsCreatedTotal prometheus.Counter
	RollbacksTotal       prometheus.Counter
	ConflictsTotal       *prometheus.CounterVec
	LockAttemptsTotal    *prometheus.CounterVec
	VersionsReplayed     prometheus.Histogram
	ReconciledTotal      *prometheus.CounterVec

	ServerStartTime time.Time
}

// NewMetrics creates all collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedver_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedver_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedver_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedver_engine_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedver_engine_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.VersionsCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "schedver_versions_created_total",
			Help: "Total number of accepted versions",
		},
	)

	m.RollbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "schedver_rollbacks_total",
			Help: "Total number of rollbacks",
		},
	)

	m.ConflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedver_conflicts_total",
			Help: "Rejected mutations by conflict kind",
		},
		[]string{"kind"},
	)

	m.LockAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedver_lock_attempts_total",
			Help: "Lock and unlock attempts by outcome",
		},
		[]string{"action", "result"},
	)

	m.VersionsReplayed = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedver_versions_replayed",
			Help:    "Number of versions folded per state reconstruction",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	m.ReconciledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedver_orphans_reconciled_total",
			Help: "Orphan version nodes handled by reconciliation",
		},
		[]string{"outcome"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "schedver_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOperation records an engine operation
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVersionCreated counts an accepted version
func (m *Metrics) RecordVersionCreated() {
	if m == nil {
		return
	}
	m.VersionsCreatedTotal.Inc()
}

// RecordRollback counts a rollback
func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.RollbacksTotal.Inc()
}

// RecordConflict counts a rejected mutation; kind is "lock" or "version"
func (m *Metrics) RecordConflict(kind string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(kind).Inc()
}

// RecordLock records a lock or unlock outcome
func (m *Metrics) RecordLock(action string, ok bool) {
	if m == nil {
		return
	}
	result := "acquired"
	if !ok {
		result = "rejected"
	}
	m.LockAttemptsTotal.WithLabelValues(action, result).Inc()
}

// RecordReplay records how many versions a reconstruction folded
func (m *Metrics) RecordReplay(versions int) {
	if m == nil {
		return
	}
	m.VersionsReplayed.Observe(float64(versions))
}

// RecordReconciled counts adopted or discarded orphans
func (m *Metrics) RecordReconciled(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconciledTotal.WithLabelValues(outcome).Add(float64(n))
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Audit metrics
	AuditRecordsTotal    *prometheus.CounterVec
	AuditEventsTotal     *prometheus.CounterVec
	AuditDroppedTotal    *prometheus.CounterVec
	CensoredRecordsTotal prometheus.Counter

	// Log file metrics
	LogRotationsTotal prometheus.Counter
	PrunedFilesTotal  *prometheus.CounterVec

	// Lifecycle metrics
	LifecycleOperationsTotal   *prometheus.CounterVec
	LifecycleOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_audit_records_total",
				Help: "Total number of audit records persisted",
			},
			[]string{"operation", "item_type"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_audit_events_total",
				Help: "Total number of audit events persisted",
			},
			[]string{"level"},
		),
		AuditDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_audit_dropped_total",
				Help: "Total number of audit artifacts not persisted",
			},
			[]string{"kind", "reason"},
		),
		CensoredRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_censored_records_total",
				Help: "Total number of audit records touched by censorship",
			},
		),
		LogRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_log_rotations_total",
				Help: "Total number of log files created by rotation",
			},
		),
		PrunedFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_pruned_files_total",
				Help: "Total number of rotated log files handled by retention",
			},
			[]string{"action"},
		),
		LifecycleOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_lifecycle_operations_total",
				Help: "Total number of entity lifecycle operations",
			},
			[]string{"operation", "item_type", "status"},
		),
		LifecycleOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_lifecycle_operation_duration_seconds",
				Help:    "Entity lifecycle operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.AuditRecordsTotal,
		m.AuditEventsTotal,
		m.AuditDroppedTotal,
		m.CensoredRecordsTotal,
		m.LogRotationsTotal,
		m.PrunedFilesTotal,
		m.LifecycleOperationsTotal,
		m.LifecycleOperationDuration,
	)

	return m
}

// RecordAudit counts a persisted audit record
func (m *Metrics) RecordAudit(operation, itemType string) {
	if m == nil {
		return
	}
	m.AuditRecordsTotal.WithLabelValues(operation, itemType).Inc()
}

// RecordEvent counts a persisted audit event
func (m *Metrics) RecordEvent(level string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(level).Inc()
}

// RecordDropped counts an artifact that was gated or lost to a sink failure
func (m *Metrics) RecordDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordCensored counts records touched by a censorship run
func (m *Metrics) RecordCensored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CensoredRecordsTotal.Add(float64(n))
}

// RecordRotation counts a newly created log file
func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.LogRotationsTotal.Inc()
}

// RecordPruned counts a rotated file that was archived or removed
func (m *Metrics) RecordPruned(action string) {
	if m == nil {
		return
	}
	m.PrunedFilesTotal.WithLabelValues(action).Inc()
}

// RecordLifecycle counts a lifecycle operation and observes its duration
func (m *Metrics) RecordLifecycle(operation, itemType string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LifecycleOperationsTotal.WithLabelValues(operation, itemType, status).Inc()
	m.LifecycleOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

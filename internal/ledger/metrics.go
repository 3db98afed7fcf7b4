package ledger

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger writes and reconciliation.
type Metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	mismatches *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the ledger metrics. A nil registerer uses the Prometheus default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapline_ledger_operations_total",
			Help: "Ledger operations recorded by target kind, field and mode.",
		}, []string{"kind", "field", "mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapline_ledger_failures_total",
			Help: "Ledger writes rejected or rolled back, by target kind and reason.",
		}, []string{"kind", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tapline_ledger_record_duration_seconds",
			Help:    "Time spent recording ledger operations, lock wait included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapline_ledger_reconcile_mismatches_total",
			Help: "Targets whose cached value differs from the fold of their ledger.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.operations, m.failures, m.duration, m.mismatches)
	return m
}

func (m *Metrics) observe(kind TargetKind, ops []Operation, start time.Time) {
	if m == nil {
		return
	}
	for _, op := range ops {
		m.operations.WithLabelValues(string(kind), string(op.Field), string(op.Mode)).Inc()
	}
	m.duration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) fail(kind TargetKind, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) mismatch(kind TargetKind) {
	if m == nil {
		return
	}
	m.mismatches.WithLabelValues(string(kind)).Inc()
}

package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for database operations.
type Metrics struct {
	Registry *prometheus.Registry

	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	DecodeErrors       *prometheus.CounterVec
	TopKReturned       prometheus.Histogram
	WorkloadsCommitted prometheus.Counter
	RecordsCommitted   prometheus.Counter
}

// NewMetrics creates and registers all collectors on a dedicated registry,
// so tests and embedded databases never collide on the global one.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Database operations by name and status.",
			},
			[]string{"op", "status"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of database operations in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Stored entries that failed to decode, by error code.",
			},
			[]string{"code"},
		),

		TopKReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "topk_returned_records",
				Help:      "Number of records returned by GetTopK.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),

		WorkloadsCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workloads_committed_total",
				Help:      "Calls to CommitWorkload that returned a workload.",
			},
		),

		RecordsCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_committed_total",
				Help:      "Tuning records committed.",
			},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.DecodeErrors,
		m.TopKReturned,
		m.WorkloadsCommitted,
		m.RecordsCommitted,
	)

	return m
}

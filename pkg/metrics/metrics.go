// Package metrics provides Prometheus instrumentation for bufstream components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for bufstream components.
type Registry struct {
	// Producer Metrics
	ProducersStarted  *prometheus.CounterVec
	ProducersActive   *prometheus.GaugeVec
	ProducersFinished *prometheus.CounterVec
	ProducersCanceled *prometheus.CounterVec
	ChunksWritten     *prometheus.CounterVec
	BytesWritten      *prometheus.CounterVec

	// Sink Metrics
	SinkWriteErrors *prometheus.CounterVec
	SinkPacingWait  *prometheus.HistogramVec

	// Store Metrics
	StoreFetches *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by bufstream components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithNamespace(reg, DefaultNamespace)
}

// NewRegistryWithNamespace is NewRegistry with a custom metric namespace.
func NewRegistryWithNamespace(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Registry{
		ProducersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "started_total",
				Help:      "Total number of chunk producers started",
			},
			[]string{"producer_name"},
		),

		ProducersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "active",
				Help:      "Number of chunk producers currently streaming",
			},
			[]string{"producer_name"},
		),

		ProducersFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "finished_total",
				Help:      "Total number of producers that delivered their whole buffer",
			},
			[]string{"producer_name"},
		),

		ProducersCanceled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "canceled_total",
				Help:      "Total number of producers stopped before exhausting their buffer",
			},
			[]string{"producer_name"},
		),

		ChunksWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "chunks_written_total",
				Help:      "Total number of chunks handed to sinks",
			},
			[]string{"producer_name"},
		),

		BytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "bytes_written_total",
				Help:      "Total bytes handed to sinks",
			},
			[]string{"producer_name"},
		),

		SinkWriteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "write_errors_total",
				Help:      "Total number of failed transport writes",
			},
			[]string{"sink_name"},
		),

		SinkPacingWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "pacing_wait_seconds",
				Help:      "Time spent waiting on the byte-rate limiter between chunks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink_name"},
		),

		StoreFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "fetches_total",
				Help:      "Total number of body store lookups",
			},
			[]string{"backend", "result"},
		),
	}
}

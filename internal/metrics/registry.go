// Package metrics provides Prometheus metrics for the serial driver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the driver.
type Registry struct {
	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QuerySplits   prometheus.Counter

	// Frame metrics
	FrameErrors *prometheus.CounterVec

	// Write path metrics
	WritesTotal   *prometheus.CounterVec
	PendingWrites prometheus.Gauge
	FlushLatency  prometheus.Histogram

	// Port metrics
	PortReopens prometheus.Counter

	// Event metrics
	ValueEvents prometheus.Counter
	ErrorEvents prometheus.Counter
}

// NewRegistry creates a registry on the default Prometheus registerer.
func NewRegistry() *Registry {
	return NewRegistryWith(prometheus.DefaultRegisterer)
}

// NewRegistryWith creates a registry on an explicit registerer; a private
// registerer lets several registries coexist in one process.
func NewRegistryWith(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "queries_total",
			Help:      "Total protocol queries by device and outcome",
		}, []string{"device_id", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "query_duration_seconds",
			Help:      "Request/response round trip duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"device_id"}),
		QuerySplits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "query_splits_total",
			Help:      "Queries split after an address or value rejection",
		}),

		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "port",
			Name:      "frame_errors_total",
			Help:      "Rejected response frames by failure kind",
		}, []string{"kind"}),

		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "writes_total",
			Help:      "Asynchronous write requests by device and outcome",
		}, []string{"device_id", "status"}),
		PendingWrites: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "pending_writes",
			Help:      "Writes queued and not yet flushed to the bus",
		}),
		FlushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "serialdriver",
			Subsystem: "bus",
			Name:      "flush_latency_seconds",
			Help:      "Time from write enqueue to completion of its bus transaction",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PortReopens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "port",
			Name:      "reopens_total",
			Help:      "Successful port reopens after fatal transport errors",
		}),

		ValueEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "events",
			Name:      "value_changes_total",
			Help:      "Value-changed events delivered to the consumer",
		}),
		ErrorEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "serialdriver",
			Subsystem: "events",
			Name:      "error_transitions_total",
			Help:      "Error-state transitions delivered to the consumer",
		}),
	}
}

// RecordQuery records one executed query.
func (r *Registry) RecordQuery(deviceID, status string, seconds float64) {
	r.QueriesTotal.WithLabelValues(deviceID, status).Inc()
	r.QueryDuration.WithLabelValues(deviceID).Observe(seconds)
}

// RecordFrameError records a rejected response frame.
func (r *Registry) RecordFrameError(kind string) {
	r.FrameErrors.WithLabelValues(kind).Inc()
}

// RecordWrite records one flushed write request.
func (r *Registry) RecordWrite(deviceID, status string, queued float64) {
	r.WritesTotal.WithLabelValues(deviceID, status).Inc()
	r.FlushLatency.Observe(queued)
}

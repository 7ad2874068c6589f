// Package metrics collects the operational counters exposed by the agent:
// reserve attempts and outcomes, dataplane activation latency, and
// in-flight connection counts, grounded on the pack's use of
// github.com/prometheus/client_golang for service-level metrics (seen in
// the controller examples under other_examples/ and in
// rockstar-0000-aistore's go.mod).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the Backend and Aggregator update.
// Registered once at process start against a *prometheus.Registry and
// served over HTTP by the CLI's serve command.
type Metrics struct {
	ReserveTotal        *prometheus.CounterVec
	ActivationLatency   prometheus.Histogram
	ActiveConnections   prometheus.Gauge
	AggregateFanoutSize prometheus.Histogram
}

// New constructs and registers all collectors against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ReserveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opennsa",
			Name:      "reserve_total",
			Help:      "Reserve attempts by outcome.",
		}, []string{"outcome"}),
		ActivationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opennsa",
			Name:      "activation_latency_seconds",
			Help:      "Duration of the connection manager's link setup call on dataplane activation.",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opennsa",
			Name:      "active_connections",
			Help:      "Connections with an active dataplane.",
		}),
		AggregateFanoutSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opennsa",
			Name:      "aggregate_fanout_size",
			Help:      "Number of path segments a reservation fanned out to.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),
	}
	reg.MustRegister(m.ReserveTotal, m.ActivationLatency, m.ActiveConnections, m.AggregateFanoutSize)
	return m
}

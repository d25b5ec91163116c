package dht

import "github.com/prometheus/client_golang/prometheus"

// metrics groups the counters/gauges exposed per Node: routing table size,
// per-query latency (feeding the adaptive-timeout estimator's
// observability, per spec.md §5), and verified/rejected BEP-44 writes.
// Each Node gets its own registry so multiple Nodes (dht.Multi's
// dual-stack siblings, or parallel tests) never collide on metric names.
type metrics struct {
	registry *prometheus.Registry

	routingTableSize prometheus.Gauge
	queryLatency     *prometheus.HistogramVec
	queriesTotal     *prometheus.CounterVec
	putRejected      *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		routingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ouinet_dht_routing_table_size",
			Help: "Number of contacts currently held in the routing table.",
		}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ouinet_dht_query_latency_seconds",
			Help:    "Round-trip latency of successfully answered outbound queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ouinet_dht_queries_total",
			Help: "Outbound queries sent, partitioned by query type and outcome.",
		}, []string{"query", "outcome"}),
		putRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ouinet_dht_put_rejected_total",
			Help: "Inbound BEP-44 put requests rejected, partitioned by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.routingTableSize, m.queryLatency, m.queriesTotal, m.putRejected)
	return m
}

func (m *metrics) observeQuery(query string, outcome string) {
	m.queriesTotal.WithLabelValues(query, outcome).Inc()
}

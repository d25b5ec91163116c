package multipeer

import "github.com/prometheus/client_golang/prometheus"

// metrics groups the counters a Reader exposes: blocks verified versus
// rejected (peers sending bad bytes), and how many peers were raced
// for each verified block. Each Reader gets its own registry so
// parallel Readers (tests, or multiple concurrent fetches sharing a
// process) never collide on metric names.
type metrics struct {
	registry *prometheus.Registry

	blocksTotal      *prometheus.CounterVec
	peerRaceSize     prometheus.Histogram
	peersBlacklisted prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		blocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ouinet_multipeer_blocks_total",
			Help: "Blocks fetched from peers, partitioned by outcome (verified, rejected).",
		}, []string{"outcome"}),
		peerRaceSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ouinet_multipeer_peer_race_size",
			Help:    "Number of peers raced to deliver each verified block.",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		}),
		peersBlacklisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ouinet_multipeer_peers_blacklisted_total",
			Help: "Peers marked bad for returning unverifiable bytes.",
		}),
	}
	reg.MustRegister(m.blocksTotal, m.peerRaceSize, m.peersBlacklisted)
	return m
}

func (m *metrics) observeBlock(outcome string) {
	m.blocksTotal.WithLabelValues(outcome).Inc()
}

package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryStatsTimeoutDefaultsWithNoSamples(t *testing.T) {
	s := newQueryStats()
	assert.Equal(t, DefaultQueryTimeout, s.Timeout())
}

func TestQueryStatsTimeoutTracksObservedLatency(t *testing.T) {
	s := newQueryStats()
	for i := 0; i < statsWindowSize; i++ {
		s.Observe(50 * time.Millisecond)
	}
	// Mean ~50ms, stddev ~0 -> adaptive timeout should be far below the
	// 3s ceiling once enough consistent samples land.
	assert.Less(t, s.Timeout(), 500*time.Millisecond)
}

func TestQueryStatsTimeoutClampsToDefaultCeiling(t *testing.T) {
	s := newQueryStats()
	for i := 0; i < statsWindowSize; i++ {
		s.Observe(10 * time.Second)
	}
	assert.Equal(t, DefaultQueryTimeout, s.Timeout())
}

func TestQueryStatsRingDropsOldestSample(t *testing.T) {
	s := newQueryStats()
	for i := 0; i < statsWindowSize; i++ {
		s.Observe(1 * time.Second)
	}
	// Push statsWindowSize more near-zero samples; the 1s samples should
	// have been fully evicted from the ring.
	for i := 0; i < statsWindowSize; i++ {
		s.Observe(time.Millisecond)
	}
	assert.Less(t, s.Timeout(), 100*time.Millisecond)
}

func TestStatsByTypeIsolatesQueryKinds(t *testing.T) {
	sb := newStatsByType()
	for i := 0; i < statsWindowSize; i++ {
		sb.Observe("ping", time.Millisecond)
		sb.Observe("get_peers", 2*time.Second)
	}
	assert.Less(t, sb.Timeout("ping"), sb.Timeout("get_peers"))
}

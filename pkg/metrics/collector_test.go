package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticSource struct {
	snap Snapshot
}

func (s *staticSource) Snapshot() Snapshot { return s.snap }

func TestCollectorCopiesSnapshot(t *testing.T) {
	src := &staticSource{snap: Snapshot{
		WorkerConns:    3,
		TrainerConns:   1,
		BufferDepth:    42,
		WeightsVersion: 7,
		HasWeights:     true,
	}}

	c := NewCollector(src)
	c.collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(ConnectionsActive.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionsActive.WithLabelValues("trainer")))
	assert.Equal(t, 42.0, testutil.ToFloat64(BufferDepth.WithLabelValues("relay")))
	assert.Equal(t, 7.0, testutil.ToFloat64(WeightsVersion))
}

func TestCollectorSkipsVersionBeforeFirstWeights(t *testing.T) {
	WeightsVersion.Set(0)

	src := &staticSource{snap: Snapshot{WeightsVersion: 99, HasWeights: false}}
	c := NewCollector(src)
	c.collect()

	assert.Equal(t, 0.0, testutil.ToFloat64(WeightsVersion))
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(&staticSource{})
	c.Start()
	c.Stop()
}

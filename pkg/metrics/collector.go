package metrics

import (
	"time"

	"github.com/droverml/drover/pkg/types"
)

// Snapshot is the gauge state a role exposes for periodic collection.
// Counters are incremented at the call sites; gauges that describe current
// state are easier to scrape from one place.
type Snapshot struct {
	WorkerConns    int
	TrainerConns   int
	BufferDepth    int
	WeightsVersion uint64
	HasWeights     bool
}

// Source exposes the gauge state a Collector copies out periodically.
// The relay implements it; clients update their gauges inline instead.
type Source interface {
	Snapshot() Snapshot
}

const collectInterval = 15 * time.Second

// Collector periodically copies a Source's snapshot into the registered
// gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a collector for source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting, with one immediate pass.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	ConnectionsActive.WithLabelValues(string(types.RoleWorker)).Set(float64(snap.WorkerConns))
	ConnectionsActive.WithLabelValues(string(types.RoleTrainer)).Set(float64(snap.TrainerConns))
	BufferDepth.WithLabelValues("relay").Set(float64(snap.BufferDepth))
	if snap.HasWeights {
		WeightsVersion.Set(float64(snap.WeightsVersion))
	}
}

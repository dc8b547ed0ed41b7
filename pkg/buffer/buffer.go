package buffer

import (
	"sync"

	"github.com/droverml/drover/pkg/types"
)

// AggregationBuffer accumulates samples between transfers. It is bounded:
// once full, appending drops the oldest samples first. Alongside the samples
// it carries the most recent episode statistics, which merges overwrite
// wholesale rather than accumulate.
//
// All methods are safe for concurrent use. The internal lock is never held
// across anything slower than a slice copy, so callers that need to ship the
// contents over a socket use TakeAll/Requeue instead of reading in place.
type AggregationBuffer struct {
	mu      sync.Mutex
	maxLen  int
	samples []types.Sample
	stats   types.EpisodeStats
}

// New returns an empty buffer holding at most maxLen samples.
func New(maxLen int) *AggregationBuffer {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &AggregationBuffer{maxLen: maxLen}
}

// Append adds one sample, dropping the oldest if the buffer is full.
func (b *AggregationBuffer) Append(s types.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, s)
	b.clip()
}

// Merge appends another buffer's samples after the resident ones and
// replaces the episode statistics with the incoming values. Incoming
// statistics win even when zero: the sender is the authority on its own
// most recent episode.
func (b *AggregationBuffer) Merge(samples []types.Sample, stats types.EpisodeStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
	b.stats = stats
	b.clip()
}

// RecordTrainEpisode overwrites the training-episode statistics.
func (b *AggregationBuffer) RecordTrainEpisode(ret float64, steps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TrainReturn = ret
	b.stats.TrainSteps = steps
}

// RecordTestEpisode overwrites the evaluation-episode statistics.
func (b *AggregationBuffer) RecordTestEpisode(ret float64, steps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TestReturn = ret
	b.stats.TestSteps = steps
}

// Len reports the number of buffered samples.
func (b *AggregationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Stats returns a snapshot of the episode statistics.
func (b *AggregationBuffer) Stats() types.EpisodeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// TakeAll removes and returns every buffered sample together with the
// current statistics. The statistics stay resident; only the samples leave.
// Callers that fail to deliver the samples hand them back with Requeue.
func (b *AggregationBuffer) TakeAll() ([]types.Sample, types.EpisodeStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := b.samples
	b.samples = nil
	return taken, b.stats
}

// TakeIfAtLeast is TakeAll gated on a minimum batch size. It reports false
// and takes nothing when fewer than min samples are buffered.
func (b *AggregationBuffer) TakeIfAtLeast(min int) ([]types.Sample, types.EpisodeStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) < min {
		return nil, types.EpisodeStats{}, false
	}
	taken := b.samples
	b.samples = nil
	return taken, b.stats, true
}

// Requeue reinserts samples taken by TakeAll ahead of anything appended
// since, preserving overall order. The capacity bound still applies, so the
// oldest requeued samples are the first to go if the buffer overflows.
func (b *AggregationBuffer) Requeue(samples []types.Sample) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]types.Sample, 0, len(samples)+len(b.samples))
	merged = append(merged, samples...)
	merged = append(merged, b.samples...)
	b.samples = merged
	b.clip()
}

// Clear drops all samples. Statistics survive until the next overwrite.
func (b *AggregationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// clip enforces the capacity bound. Callers hold b.mu.
func (b *AggregationBuffer) clip() {
	if len(b.samples) <= b.maxLen {
		return
	}
	excess := len(b.samples) - b.maxLen
	kept := make([]types.Sample, b.maxLen)
	copy(kept, b.samples[excess:])
	b.samples = kept
}

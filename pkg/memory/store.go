package memory

import (
	"github.com/droverml/drover/pkg/types"
)

// Store is the trainer's replay memory: samples accumulate up to a
// capacity, old ones fall off the front, and training rounds draw uniform
// random batches.
type Store interface {
	// Append adds samples and overwrites the episode statistics with the
	// batch's values.
	Append(samples []types.Sample, stats types.EpisodeStats) error

	// SampleBatch draws n samples uniformly at random with replacement.
	// It fails when the store is empty.
	SampleBatch(n int) ([]types.Sample, error)

	// Len reports the number of stored samples.
	Len() int

	// Stats returns the most recently recorded episode statistics.
	Stats() types.EpisodeStats

	// Close releases the backing resources.
	Close() error
}

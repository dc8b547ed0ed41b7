package memory

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/droverml/drover/pkg/types"
)

// RingStore is an in-memory replay memory with the same contract as
// BoltStore, for runs that do not need the dataset to survive a restart.
type RingStore struct {
	mu      sync.Mutex
	maxLen  int
	samples []types.Sample
	stats   types.EpisodeStats
	rng     *rand.Rand
}

// NewRingStore creates an empty in-memory store.
func NewRingStore(maxLen int) *RingStore {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &RingStore{
		maxLen: maxLen,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Append adds samples, crops to capacity, and overwrites the statistics.
func (s *RingStore) Append(samples []types.Sample, stats types.EpisodeStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	if len(s.samples) > s.maxLen {
		excess := len(s.samples) - s.maxLen
		kept := make([]types.Sample, s.maxLen)
		copy(kept, s.samples[excess:])
		s.samples = kept
	}
	s.stats = stats
	return nil
}

// SampleBatch draws n samples uniformly at random with replacement.
func (s *RingStore) SampleBatch(n int) ([]types.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return nil, fmt.Errorf("replay memory is empty")
	}
	batch := make([]types.Sample, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, s.samples[s.rng.Intn(len(s.samples))])
	}
	return batch, nil
}

// Len reports the number of stored samples.
func (s *RingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Stats returns the most recently recorded episode statistics.
func (s *RingStore) Stats() types.EpisodeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close is a no-op for the in-memory store.
func (s *RingStore) Close() error {
	return nil
}

package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverml/drover/pkg/types"
)

func makeSamples(rewards ...float64) []types.Sample {
	out := make([]types.Sample, len(rewards))
	for i, r := range rewards {
		out[i] = types.Sample{Action: []float64{1}, Obs: []float64{r, -r}, Reward: r}
	}
	return out
}

// both implementations must satisfy the same contract
func stores(t *testing.T, maxLen int) map[string]Store {
	t.Helper()
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "replay.db"), maxLen)
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"bolt": bolt,
		"ring": NewRingStore(maxLen),
	}
}

func TestAppendAndLen(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(makeSamples(1, 2, 3), types.EpisodeStats{TrainSteps: 3}))
			assert.Equal(t, 3, s.Len())
			assert.Equal(t, 3, s.Stats().TrainSteps)

			require.NoError(t, s.Append(makeSamples(4), types.EpisodeStats{TrainSteps: 1}))
			assert.Equal(t, 4, s.Len())
			assert.Equal(t, 1, s.Stats().TrainSteps)
		})
	}
}

func TestCapacityCropsOldest(t *testing.T) {
	for name, s := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(makeSamples(1, 2, 3, 4, 5), types.EpisodeStats{}))
			assert.Equal(t, 3, s.Len())

			// only the newest rewards survive; sample a lot and check the
			// observed set
			batch, err := s.SampleBatch(100)
			require.NoError(t, err)
			seen := map[float64]bool{}
			for _, sample := range batch {
				seen[sample.Reward] = true
				assert.GreaterOrEqual(t, sample.Reward, 3.0)
			}
			assert.NotEmpty(t, seen)
		})
	}
}

func TestSampleBatchDistribution(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(makeSamples(1, 2, 3, 4, 5), types.EpisodeStats{}))

			batch, err := s.SampleBatch(200)
			require.NoError(t, err)
			require.Len(t, batch, 200)

			seen := map[float64]int{}
			for _, sample := range batch {
				seen[sample.Reward]++
			}
			// with 200 draws over 5 samples every one should appear
			assert.Len(t, seen, 5)
		})
	}
}

func TestSampleBatchEmptyFails(t *testing.T) {
	for name, s := range stores(t, 10) {
		t.Run(name, func(t *testing.T) {
			_, err := s.SampleBatch(1)
			assert.Error(t, err)
		})
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := NewBoltStore(path, 100)
	require.NoError(t, err)
	require.NoError(t, s.Append(makeSamples(1, 2, 3), types.EpisodeStats{TrainReturn: 7}))
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(path, 100)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Len())
	assert.Equal(t, 7.0, reopened.Stats().TrainReturn)

	batch, err := reopened.SampleBatch(10)
	require.NoError(t, err)
	assert.Len(t, batch, 10)
}

func TestBoltStoreCropPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := NewBoltStore(path, 2)
	require.NoError(t, err)
	require.NoError(t, s.Append(makeSamples(1, 2, 3), types.EpisodeStats{}))
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(path, 2)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	batch, err := reopened.SampleBatch(50)
	require.NoError(t, err)
	for _, sample := range batch {
		assert.GreaterOrEqual(t, sample.Reward, 2.0)
	}
}

func TestSampleRoundtripPreservesFields(t *testing.T) {
	for name, s := range stores(t, 10) {
		t.Run(name, func(t *testing.T) {
			in := types.Sample{
				Action:     []float64{0.5},
				Obs:        []float64{1, 2, 3, 4},
				Reward:     -2.5,
				Terminated: true,
				Info:       map[string]string{"episode": "9"},
			}
			require.NoError(t, s.Append([]types.Sample{in}, types.EpisodeStats{}))

			batch, err := s.SampleBatch(1)
			require.NoError(t, err)
			assert.Equal(t, in, batch[0])
		})
	}
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/types"
)

// scriptedEnv terminates after a fixed number of steps, or never when
// stepsToDone is zero.
type scriptedEnv struct {
	stepsToDone int
	steps       int
}

func (e *scriptedEnv) Reset() []float64 {
	e.steps = 0
	return []float64{0, 0}
}

func (e *scriptedEnv) Step(action int) ([]float64, float64, bool, bool) {
	e.steps++
	done := e.stepsToDone > 0 && e.steps >= e.stepsToDone
	return []float64{float64(e.steps), float64(action)}, 1, done, false
}

type stagedEpisode struct {
	samples []types.Sample
	stats   types.EpisodeStats
}

type fakeSink struct {
	mu       sync.Mutex
	episodes []stagedEpisode
	applies  int
}

func (f *fakeSink) Stage(samples []types.Sample, stats types.EpisodeStats) {
	f.mu.Lock()
	f.episodes = append(f.episodes, stagedEpisode{samples: samples, stats: stats})
	f.mu.Unlock()
}

func (f *fakeSink) ApplyPendingWeights(policy.Policy) error {
	f.mu.Lock()
	f.applies++
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.episodes)
}

func (f *fakeSink) episode(i int) stagedEpisode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.episodes[i]
}

func (f *fakeSink) applied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

func runUntilEpisodes(t *testing.T, r *Runner, sink *fakeSink, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() >= n },
		3*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestRunnerStagesFinishedEpisodes(t *testing.T) {
	sink := &fakeSink{}
	pol := policy.NewLinear(2, 2, 0.1, 1)
	r := NewRunner(RunnerConfig{BufferMaxLen: 100}, sink, &scriptedEnv{stepsToDone: 3}, pol)

	runUntilEpisodes(t, r, sink, 2)

	ep := sink.episode(0)
	require.Len(t, ep.samples, 3)
	assert.Equal(t, float64(3), ep.stats.TrainReturn)
	assert.Equal(t, 3, ep.stats.TrainSteps)

	// the final sample carries the terminal flag
	assert.True(t, ep.samples[2].Terminated)
	assert.False(t, ep.samples[0].Terminated)
	for _, s := range ep.samples {
		require.Len(t, s.Obs, 2)
		require.Len(t, s.Action, 1)
		assert.Contains(t, []float64{0, 1}, s.Action[0])
	}
}

func TestRunnerAppliesWeightsAfterEveryEpisode(t *testing.T) {
	sink := &fakeSink{}
	pol := policy.NewLinear(2, 2, 0.1, 1)
	r := NewRunner(RunnerConfig{BufferMaxLen: 100}, sink, &scriptedEnv{stepsToDone: 2}, pol)

	runUntilEpisodes(t, r, sink, 3)

	assert.GreaterOrEqual(t, sink.applied(), 3)
}

func TestRunnerEvaluationEpisodes(t *testing.T) {
	sink := &fakeSink{}
	pol := policy.NewLinear(2, 2, 0.1, 1)
	r := NewRunner(RunnerConfig{
		BufferMaxLen:        100,
		TestEpisodeInterval: 2,
	}, sink, &scriptedEnv{stepsToDone: 4}, pol)

	runUntilEpisodes(t, r, sink, 2)

	// episode 1 trains, episode 2 evaluates
	train := sink.episode(0)
	test := sink.episode(1)

	require.Len(t, train.samples, 4)
	assert.Equal(t, float64(4), train.stats.TrainReturn)
	assert.Zero(t, train.stats.TestSteps)

	// evaluation contributes statistics but no samples
	assert.Empty(t, test.samples)
	assert.Equal(t, float64(4), test.stats.TestReturn)
	assert.Equal(t, 4, test.stats.TestSteps)
	// the training stats from episode 1 ride along unchanged
	assert.Equal(t, float64(4), test.stats.TrainReturn)
}

func TestRunnerCutsEpisodesAtSampleBound(t *testing.T) {
	sink := &fakeSink{}
	pol := policy.NewLinear(2, 2, 0.1, 1)
	// the environment never terminates on its own
	r := NewRunner(RunnerConfig{
		BufferMaxLen:         100,
		MaxSamplesPerEpisode: 7,
	}, sink, &scriptedEnv{}, pol)

	runUntilEpisodes(t, r, sink, 2)

	require.Len(t, sink.episode(0).samples, 7)
	require.Len(t, sink.episode(1).samples, 7)
	assert.Equal(t, 7, sink.episode(0).stats.TrainSteps)
}

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverml/drover/pkg/types"
)

func TestActGreedyPicksArgmax(t *testing.T) {
	p := NewLinear(2, 2, 0.1, 1)
	p.state.B = []float64{0, 3}

	for i := 0; i < 10; i++ {
		action, err := p.Act([]float64{0, 0}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, action)
	}
}

func TestActSamplesBothActions(t *testing.T) {
	p := NewLinear(2, 2, 0.1, 1)

	seen := map[int]int{}
	for i := 0; i < 200; i++ {
		action, err := p.Act([]float64{0.5, -0.5}, false)
		require.NoError(t, err)
		seen[action]++
	}
	// Uniform logits, so both actions must show up over 200 draws.
	assert.Positive(t, seen[0])
	assert.Positive(t, seen[1])
}

func TestActRejectsWrongObsDim(t *testing.T) {
	p := NewLinear(4, 2, 0.1, 1)

	_, err := p.Act([]float64{1, 2}, false)
	assert.Error(t, err)
}

func TestLearnShiftsDistributionTowardRewardedAction(t *testing.T) {
	p := NewLinear(2, 2, 0.1, 1)
	obs := []float64{1, 0}

	batch := make([]types.Sample, 0, 20)
	for i := 0; i < 20; i++ {
		batch = append(batch, types.Sample{
			Action: []float64{1},
			Obs:    obs,
			Reward: 1,
		})
	}
	for i := 0; i < 10; i++ {
		_, err := p.Learn(batch)
		require.NoError(t, err)
	}

	action, err := p.Act(obs, true)
	require.NoError(t, err)
	assert.Equal(t, 1, action)
}

func TestLearnReturnsShrinkingLoss(t *testing.T) {
	p := NewLinear(1, 2, 0.1, 1)
	batch := []types.Sample{
		{Action: []float64{0}, Obs: []float64{1}, Reward: 1},
	}

	first, err := p.Learn(batch)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err := p.Learn(batch)
		require.NoError(t, err)
	}
	last, err := p.Learn(batch)
	require.NoError(t, err)

	// The value baseline converges on the constant reward.
	assert.Less(t, last, first)
}

func TestLearnRejectsBadSamples(t *testing.T) {
	p := NewLinear(2, 2, 0.1, 1)

	_, err := p.Learn(nil)
	assert.Error(t, err)

	_, err = p.Learn([]types.Sample{{Action: []float64{5}, Obs: []float64{1, 2}, Reward: 1}})
	assert.Error(t, err)

	_, err = p.Learn([]types.Sample{{Action: []float64{0}, Obs: []float64{1}, Reward: 1}})
	assert.Error(t, err)
}

func TestStateBytesRoundTrip(t *testing.T) {
	src := NewLinear(4, 2, 0.1, 1)
	batch := []types.Sample{
		{Action: []float64{1}, Obs: []float64{0.1, -0.2, 0.3, -0.4}, Reward: 1},
	}
	_, err := src.Learn(batch)
	require.NoError(t, err)

	blob, err := src.StateBytes()
	require.NoError(t, err)

	dst := NewLinear(4, 2, 0.1, 2)
	require.NoError(t, dst.LoadStateBytes(blob))

	assert.Equal(t, src.state.W, dst.state.W)
	assert.Equal(t, src.state.B, dst.state.B)
	assert.Equal(t, src.state.VW, dst.state.VW)
	assert.Equal(t, src.state.VB, dst.state.VB)
}

func TestLoadStateBytesRejectsMismatchedShape(t *testing.T) {
	src := NewLinear(4, 2, 0.1, 1)
	blob, err := src.StateBytes()
	require.NoError(t, err)

	dst := NewLinear(6, 3, 0.1, 1)
	assert.Error(t, dst.LoadStateBytes(blob))
	assert.Error(t, dst.LoadStateBytes([]byte("not json")))
	assert.Error(t, dst.LoadStateBytes([]byte(`{"obs_dim":0,"actions":0}`)))
}

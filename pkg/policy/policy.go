package policy

import (
	"github.com/droverml/drover/pkg/types"
)

// Policy is the acting-side abstraction: choose actions and swap
// parameters in and out as opaque bytes. Implementations must be safe for
// the owner goroutine pattern used here (one goroutine acts, another may
// load new parameters).
type Policy interface {
	// Act picks an action for an observation. In test mode the choice is
	// greedy; otherwise it samples from the action distribution.
	Act(obs []float64, test bool) (int, error)

	// StateBytes serializes the current parameters.
	StateBytes() ([]byte, error)

	// LoadStateBytes replaces the parameters from a serialized blob.
	LoadStateBytes(data []byte) error
}

// Trainable is the trainer-side extension: update parameters from a batch
// of experience.
type Trainable interface {
	Policy

	// Learn performs one update step on a batch and returns the loss.
	Learn(batch []types.Sample) (float64, error)
}

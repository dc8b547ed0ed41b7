package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/droverml/drover/pkg/types"
)

// ErrBadEnvelope reports a payload that decoded but is not a valid
// envelope. Callers treat it like a transport failure: drop the connection
// and let the reconnect path clean up.
var ErrBadEnvelope = errors.New("malformed payload envelope")

// envelopeVersion is bumped when the payload schema changes incompatibly.
const envelopeVersion = 1

// Envelope kinds.
const (
	KindBuffer  = "buffer"
	KindWeights = "weights"
)

// Envelope is the JSON payload carried inside every data frame. Exactly one
// of the kind-specific field groups is populated.
type Envelope struct {
	V       int                  `json:"v"`
	Kind    string               `json:"kind"`
	Samples []types.Sample       `json:"samples,omitempty"`
	Stats   *types.EpisodeStats  `json:"stats,omitempty"`
	Weights *types.WeightsUpdate `json:"weights,omitempty"`
}

// EncodeBuffer serializes a buffer snapshot for transfer.
func EncodeBuffer(samples []types.Sample, stats types.EpisodeStats) ([]byte, error) {
	env := Envelope{
		V:       envelopeVersion,
		Kind:    KindBuffer,
		Samples: samples,
		Stats:   &stats,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode buffer payload: %w", err)
	}
	return data, nil
}

// EncodeWeights serializes a weights update for broadcast.
func EncodeWeights(update types.WeightsUpdate) ([]byte, error) {
	env := Envelope{
		V:       envelopeVersion,
		Kind:    KindWeights,
		Weights: &update,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode weights payload: %w", err)
	}
	return data, nil
}

// Decode parses and validates an envelope. Any structural problem returns
// ErrBadEnvelope; the bytes are not trustworthy enough to partially use.
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, env.V)
	}
	switch env.Kind {
	case KindBuffer:
		if env.Stats == nil {
			return nil, fmt.Errorf("%w: buffer envelope without stats", ErrBadEnvelope)
		}
		if env.Weights != nil {
			return nil, fmt.Errorf("%w: buffer envelope carrying weights", ErrBadEnvelope)
		}
	case KindWeights:
		if env.Weights == nil {
			return nil, fmt.Errorf("%w: weights envelope without weights", ErrBadEnvelope)
		}
		if len(env.Samples) > 0 || env.Stats != nil {
			return nil, fmt.Errorf("%w: weights envelope carrying samples", ErrBadEnvelope)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadEnvelope, env.Kind)
	}
	return &env, nil
}

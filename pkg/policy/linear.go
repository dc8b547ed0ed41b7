package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/droverml/drover/pkg/types"
)

// linearState is the serialized form of a Linear policy. The actor is a
// softmax over a linear map of the observation, the critic a linear value
// head used as a baseline during learning.
type linearState struct {
	ObsDim  int         `json:"obs_dim"`
	Actions int         `json:"actions"`
	W       [][]float64 `json:"w"`
	B       []float64   `json:"b"`
	VW      []float64   `json:"vw"`
	VB      float64     `json:"vb"`
}

// Linear is a linear softmax policy with a linear value baseline. It
// implements both Policy and Trainable.
type Linear struct {
	mu      sync.Mutex
	state   linearState
	lr      float64
	valueLR float64
	rng     *rand.Rand
}

// NewLinear creates a zero-initialized linear policy for the given
// observation and action dimensions.
func NewLinear(obsDim, actions int, lr float64, seed int64) *Linear {
	w := make([][]float64, actions)
	for a := range w {
		w[a] = make([]float64, obsDim)
	}
	return &Linear{
		state: linearState{
			ObsDim:  obsDim,
			Actions: actions,
			W:       w,
			B:       make([]float64, actions),
			VW:      make([]float64, obsDim),
		},
		lr:      lr,
		valueLR: lr,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Act picks an action for obs. In test mode it returns the argmax of the
// action distribution, otherwise it samples from it.
func (l *Linear) Act(obs []float64, test bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(obs) != l.state.ObsDim {
		return 0, fmt.Errorf("policy: observation has %d dims, want %d", len(obs), l.state.ObsDim)
	}
	probs := l.probs(obs)
	if test {
		return argmax(probs), nil
	}
	return sampleCategorical(probs, l.rng), nil
}

// Learn runs one gradient step over the batch. Each sample contributes a
// policy-gradient update weighted by its advantage over the value
// baseline, and a value update toward the observed reward. The returned
// loss is the mean squared advantage.
func (l *Linear) Learn(batch []types.Sample) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(batch) == 0 {
		return 0, fmt.Errorf("policy: empty batch")
	}
	var loss float64
	for _, s := range batch {
		if len(s.Obs) != l.state.ObsDim {
			return 0, fmt.Errorf("policy: sample observation has %d dims, want %d", len(s.Obs), l.state.ObsDim)
		}
		if len(s.Action) == 0 {
			return 0, fmt.Errorf("policy: sample has no action")
		}
		action := int(s.Action[0])
		if action < 0 || action >= l.state.Actions {
			return 0, fmt.Errorf("policy: action %d out of range [0,%d)", action, l.state.Actions)
		}

		probs := l.probs(s.Obs)
		value := l.value(s.Obs)
		adv := s.Reward - value
		loss += adv * adv

		for a := 0; a < l.state.Actions; a++ {
			grad := -probs[a]
			if a == action {
				grad++
			}
			step := l.lr * adv * grad
			for i, o := range s.Obs {
				l.state.W[a][i] += step * o
			}
			l.state.B[a] += step
		}
		vstep := l.valueLR * adv
		for i, o := range s.Obs {
			l.state.VW[i] += vstep * o
		}
		l.state.VB += vstep
	}
	return loss / float64(len(batch)), nil
}

// StateBytes serializes the parameters as JSON.
func (l *Linear) StateBytes() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(&l.state)
}

// LoadStateBytes replaces the parameters from a serialized blob. The blob
// must carry matching dimensions.
func (l *Linear) LoadStateBytes(data []byte) error {
	var st linearState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("policy: decode state: %w", err)
	}
	if err := validateState(&st); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st.ObsDim != l.state.ObsDim || st.Actions != l.state.Actions {
		return fmt.Errorf("policy: state is %dx%d, want %dx%d",
			st.Actions, st.ObsDim, l.state.Actions, l.state.ObsDim)
	}
	l.state = st
	return nil
}

func validateState(st *linearState) error {
	if st.ObsDim <= 0 || st.Actions <= 0 {
		return fmt.Errorf("policy: invalid dimensions %dx%d", st.Actions, st.ObsDim)
	}
	if len(st.W) != st.Actions || len(st.B) != st.Actions || len(st.VW) != st.ObsDim {
		return fmt.Errorf("policy: state shape does not match its dimensions")
	}
	for _, row := range st.W {
		if len(row) != st.ObsDim {
			return fmt.Errorf("policy: state shape does not match its dimensions")
		}
	}
	return nil
}

// probs computes the softmax action distribution for obs. Callers hold mu.
func (l *Linear) probs(obs []float64) []float64 {
	logits := make([]float64, l.state.Actions)
	for a := 0; a < l.state.Actions; a++ {
		v := l.state.B[a]
		for i, o := range obs {
			v += l.state.W[a][i] * o
		}
		logits[a] = v
	}
	return softmax(logits)
}

// value computes the baseline estimate for obs. Callers hold mu.
func (l *Linear) value(obs []float64) float64 {
	v := l.state.VB
	for i, o := range obs {
		v += l.state.VW[i] * o
	}
	return v
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}

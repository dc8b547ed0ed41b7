package types

// Role identifies which of the three processes a component runs in.
type Role string

const (
	RoleRelay   Role = "relay"
	RoleTrainer Role = "trainer"
	RoleWorker  Role = "worker"
)

// Sample is one recorded experience transition. The relay layer treats it as
// opaque cargo: nothing below the training loop ever inspects the fields,
// only the count of samples in flight.
type Sample struct {
	Action     []float64         `json:"action"`
	Obs        []float64         `json:"obs"`
	Reward     float64           `json:"reward"`
	Terminated bool              `json:"terminated"`
	Truncated  bool              `json:"truncated"`
	Info       map[string]string `json:"info,omitempty"`
}

// EpisodeStats carries the per-episode summary scalars that ride along with
// every buffer hand-off. Merging buffers overwrites these wholesale with the
// incoming side's values (last writer wins); they are never accumulated.
type EpisodeStats struct {
	TrainReturn float64 `json:"train_return"`
	TestReturn  float64 `json:"test_return"`
	TrainSteps  int     `json:"train_steps"`
	TestSteps   int     `json:"test_steps"`
}

// WeightsUpdate is an opaque serialized policy plus its version counter.
// Versions are assigned by the relay, increase monotonically, and a node
// never applies an update older than one it has already applied.
type WeightsUpdate struct {
	Version uint64 `json:"version"`
	Blob    []byte `json:"blob"`
}

// ConnPhase is the outbound-direction state of one connection: either
// nothing is in flight, or exactly one payload awaits acknowledgment.
type ConnPhase int

const (
	PhaseIdle ConnPhase = iota
	PhaseAwaitingAck
)

func (p ConnPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAck:
		return "awaiting_ack"
	default:
		return "unknown"
	}
}

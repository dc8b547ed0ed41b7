/*
Package types defines the core data structures shared across drover.

This package contains the domain model for distributed experience collection:
samples, episode statistics, weight updates, process roles, and connection
phases. All other packages build on these types.

# Core Types

Experience:
  - Sample: one environment transition (action, observation, reward,
    terminated, truncated, auxiliary info). Opaque to the relay layer.
  - EpisodeStats: the four summary scalars (train/test return, train/test
    step counts) that accompany every buffer hand-off.

Synchronization:
  - WeightsUpdate: serialized policy parameters plus a monotonically
    increasing version counter assigned by the relay.
  - ConnPhase: idle vs. awaiting-ack, the two states of the per-direction
    reliability discipline.
  - Role: relay, trainer, or worker.

# Design Patterns

Enumerations use typed string or int constants. All wire-visible types are
JSON-serializable with snake_case tags; the wire envelope in pkg/wire is the
single place that encodes and decodes them.

Types here are read-safe for concurrent use and write-unsafe: mutation is
synchronized by the owning package (pkg/buffer, pkg/relay, the clients).
*/
package types

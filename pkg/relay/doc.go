// Package relay implements the rendezvous process between one trainer and
// an open set of workers.
//
// # Topology
//
// Two listeners, one per peer role, each feeding an accept loop that spawns
// a handler goroutine per connection. Handlers share exactly two pieces of
// state: the aggregation buffer (worker samples waiting for the trainer)
// and the weights slot (newest trainer weights plus a version counter
// stamped here). Each has its own lock, and neither lock is ever held
// across a network call.
//
// # Worker connections
//
// A worker handler merges every inbound buffer into the aggregate and
// pushes the stored weights whenever this connection has not yet been sent
// the current version. A fresh connection starts at version zero, so a
// reconnecting worker receives the newest weights right away.
//
// # Trainer connections
//
// A trainer handler forwards the entire aggregate once it reaches the
// configured minimum batch size, and stores inbound weights under the next
// version. The samples are taken out of the buffer before the send and
// requeued at the front if the send fails; they are gone for good only once
// the send call succeeds.
//
// The relay holds nothing durably. Restarting it resets the aggregate, the
// weights slot, and the version counter; peers simply reconnect and refill
// it. Several simultaneous trainer connections are tolerated without
// fencing: the most recent weights writer wins, which is the documented
// behavior of the single-trainer deployment model.
package relay

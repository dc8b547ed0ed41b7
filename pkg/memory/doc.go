// Package memory implements the trainer's replay memory: a capacity-bound
// sample store that training rounds draw random batches from.
//
// Two implementations share the Store interface. BoltStore persists
// samples to a bbolt database so a trainer restart resumes with its
// dataset intact; RingStore keeps everything in memory for ephemeral runs
// and tests. Both crop from the oldest end when full and track the episode
// statistics of the most recent batch, matching the aggregation buffer's
// last-writer-wins rule.
package memory

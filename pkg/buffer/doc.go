// Package buffer implements the bounded sample buffer every role
// accumulates into between transfers.
//
// The buffer is the unit of transfer in the system: workers fill one and
// ship it to the relay, the relay merges worker buffers into a per-trainer
// buffer, and the trainer drains its copy into replay memory. Merging
// concatenates samples but overwrites episode statistics, so statistics
// always reflect the most recent contributor.
package buffer

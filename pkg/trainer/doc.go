// Package trainer implements the trainer side of the distribution triangle:
// a Client that keeps a relay session alive (redialing forever on failure)
// while staging weights out and buffering sample batches in, and a Loop
// that drives training rounds against the replay memory and broadcasts the
// updated parameters after each one.
//
// Transport failures never reach the training loop. The client absorbs
// them, reconnects with a fixed backoff, and the loop simply sees an empty
// receive buffer until samples flow again. Only learning, storage, and
// checkpoint failures stop a run.
package trainer

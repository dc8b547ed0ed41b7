// Package policy defines the policy abstraction shared by the trainer and
// the workers, and a linear softmax implementation of it.
//
// A Policy chooses actions and exposes its parameters as opaque bytes, which
// is all the transport layer ever sees of a model. Trainable extends it with
// a Learn step for the trainer side. The Linear implementation is a softmax
// over a linear map of the observation with a linear value baseline, small
// enough to train on a CPU while exercising the full distribution pipeline.
package policy

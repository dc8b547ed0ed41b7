// Package worker implements the sample-producing side of the distribution
// triangle: a Client that keeps a relay session alive while shipping
// episode buffers out and parking inbound weights updates, and a Runner
// that plays episodes with the live policy and hands them to the client.
//
// Weights updates are applied between episodes, never mid-episode: the
// client parks the newest update in a slot and the runner calls
// ApplyPendingWeights after each episode, which persists the blob to the
// model file, optionally archives a dated copy, and reloads the policy from
// the file it just wrote. An update whose version is at or below the one
// already applied is discarded, so replays after a reconnect are harmless.
package worker

// Package health provides the reachability probes behind the status
// command: a TCP probe for the relay's ports and an HTTP probe for a
// metrics endpoint, plus a small Report aggregating named probe results.
//
// These are active, from-the-outside probes for operators. The passive
// component health served at /healthz lives in pkg/metrics.
package health

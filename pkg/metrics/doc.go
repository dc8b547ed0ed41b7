// Package metrics exposes Prometheus collectors for connections,
// transfers, weights propagation, and training progress, together with
// JSON health endpoints served next to /metrics.
//
// Counters are incremented where the event happens; gauges describing
// current state (open connections, buffer depth, weights version) are
// refreshed by a Collector polling a Source snapshot. Readiness is
// role-specific: each role declares its critical components via
// SetCritical and keeps them updated.
package metrics

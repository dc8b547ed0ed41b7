package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults for in-process
// deployments (30s timeout, 50ms interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 50*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForConnected waits until the relay sees the trainer and every worker.
func (w *Waiter) WaitForConnected(ctx context.Context, d *Deployment) error {
	return w.WaitFor(ctx, func() bool {
		snap := d.Relay.Snapshot()
		return snap.TrainerConns == 1 && snap.WorkerConns == len(d.Workers)
	}, fmt.Sprintf("trainer and %d workers connected to relay", len(d.Workers)))
}

// WaitForWeightsApplied waits until the worker has loaded weights of at
// least the given version into its policy.
func (w *Waiter) WaitForWeightsApplied(ctx context.Context, node *WorkerNode, version uint64) error {
	return w.WaitFor(ctx, func() bool {
		return node.Client.AppliedVersion() >= version
	}, fmt.Sprintf("worker applied weights version >= %d", version))
}

// WaitForSamples waits until at least n samples have reached the trainer
// side, counting both the client's receive buffer and the replay memory.
func (w *Waiter) WaitForSamples(ctx context.Context, d *Deployment, n int) error {
	return w.WaitFor(ctx, func() bool {
		return d.Trainer.Buffered()+d.Memory.Len() >= n
	}, fmt.Sprintf("%d samples reached the trainer", n))
}

package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a TCP endpoint by completing a connection, which is
// enough to tell whether a relay port is accepting.
type TCPChecker struct {
	// Addr is the address to connect to, e.g. "relay-host:55555".
	Addr string

	// Timeout bounds the connection attempt.
	Timeout time.Duration
}

// NewTCPChecker creates a TCP probe with a 5 second timeout.
func NewTCPChecker(addr string) *TCPChecker {
	return &TCPChecker{
		Addr:    addr,
		Timeout: 5 * time.Second,
	}
}

// Check attempts the connection and closes it immediately on success.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connect failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepting connections", t.Addr),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe mechanism.
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

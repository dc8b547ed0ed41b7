package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrAcceptTimeout reports an accept window that elapsed with no incoming
// connection. Accept loops treat it as a cue to check for shutdown and try
// again.
var ErrAcceptTimeout = errors.New("accept window elapsed")

// Dial establishes a TCP connection within timeout, honoring ctx
// cancellation.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

// Listener accepts connections in bounded windows so its owner can
// interleave shutdown checks. The underlying socket stays open across
// windows; peers can connect at any time and wait in the backlog.
type Listener struct {
	ln *net.TCPListener
}

// Listen binds a TCP listener on addr.
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr reports the bound address, useful when the port was chosen by the OS.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits up to timeout for one connection. It returns
// ErrAcceptTimeout if none arrived, or ctx.Err if the context was already
// canceled when the window opened.
func (l *Listener) Accept(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to arm accept deadline: %w", err)
	}
	conn, err := l.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrAcceptTimeout
		}
		return nil, fmt.Errorf("accept failed: %w", err)
	}
	return conn, nil
}

// Close shuts the listener down, waking any blocked Accept.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Sleep pauses for d unless ctx is canceled first. It reports whether the
// full pause elapsed, which loop bodies use as their keep-going signal.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

var (
	// ErrBusy reports a send attempted while a previous payload is still
	// unacknowledged. The protocol allows at most one outstanding payload
	// per connection per direction.
	ErrBusy = errors.New("previous payload still awaiting ack")
	// ErrAckTimeout reports an ack that did not arrive within the deadline.
	// The connection must be dropped; the outstanding payload is lost.
	ErrAckTimeout = errors.New("ack deadline exceeded")
	// ErrIdleTimeout reports a peer that sent nothing for longer than the
	// receive window. Client loops drop the connection and redial.
	ErrIdleTimeout = errors.New("no inbound traffic within the receive window")
)

// Link enforces the acknowledgement discipline on top of a framed
// connection: after sending a payload the link refuses further payload
// sends until the peer's ACK arrives or the ack deadline expires.
//
// A Link belongs to exactly one exchange loop and is not safe for
// concurrent use.
type Link struct {
	conn       *wire.Conn
	ackTimeout time.Duration
	phase      types.ConnPhase
	sentAt     time.Time
	lastRTT    time.Duration
	lastActive time.Time
}

// New wraps an established framed connection. ackTimeout bounds how long a
// sent payload may wait for its ACK.
func New(conn *wire.Conn, ackTimeout time.Duration) *Link {
	return &Link{
		conn:       conn,
		ackTimeout: ackTimeout,
		phase:      types.PhaseIdle,
		lastActive: time.Now(),
	}
}

// Phase reports whether the link is idle or awaiting an ack.
func (l *Link) Phase() types.ConnPhase {
	return l.phase
}

// Idle reports whether a new payload may be sent.
func (l *Link) Idle() bool {
	return l.phase == types.PhaseIdle
}

// LastActivity is the time anything last arrived from the peer. Client
// loops use it to declare a silent relay dead.
func (l *Link) LastActivity() time.Time {
	return l.lastActive
}

// LastAckRTT is the delay between the most recent send and its ack, zero
// until the first ack arrives.
func (l *Link) LastAckRTT() time.Duration {
	return l.lastRTT
}

// RemoteAddr reports the peer address for logging.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr()
}

// Close tears down the underlying connection.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Send writes one payload and arms the ack deadline. It fails with ErrBusy
// when the previous payload has not been acknowledged yet; any other error
// means the connection is dead.
func (l *Link) Send(payload []byte) error {
	if l.phase != types.PhaseIdle {
		return fmt.Errorf("%w (sent %s ago)", ErrBusy, time.Since(l.sentAt).Round(time.Millisecond))
	}
	if err := l.conn.Send(payload); err != nil {
		return err
	}
	l.phase = types.PhaseAwaitingAck
	l.sentAt = time.Now()
	return nil
}

// SendPing writes a keepalive probe. Probes are not acknowledged and do not
// touch the ack state.
func (l *Link) SendPing() error {
	return l.conn.SendPing()
}

// Poll drains at most one inbound frame and keeps the ack state current.
// An expired ack deadline surfaces as ErrAckTimeout even when a frame was
// pending: the peer is already considered failed at that point.
//
// EventAck flips the link back to idle. Payloads arriving while an ack is
// outstanding are delivered normally; the two directions are independent.
func (l *Link) Poll() (wire.Event, []byte, error) {
	if l.phase == types.PhaseAwaitingAck && time.Since(l.sentAt) > l.ackTimeout {
		return wire.EventNone, nil, fmt.Errorf("%w after %s", ErrAckTimeout, l.ackTimeout)
	}
	ev, payload, err := l.conn.Poll()
	if err != nil {
		return ev, nil, err
	}
	if ev != wire.EventNone {
		l.lastActive = time.Now()
	}
	if ev == wire.EventAck {
		if l.phase == types.PhaseAwaitingAck {
			l.lastRTT = time.Since(l.sentAt)
			l.phase = types.PhaseIdle
		}
		// a spurious ack on an idle link is ignored
	}
	return ev, payload, nil
}

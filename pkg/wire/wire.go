package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Errors surfaced by the framing layer. Every one of them means the
// connection is unusable and must be torn down by the caller; the protocol
// has no in-band recovery.
var (
	// ErrConnLost reports a read or write that failed mid-frame.
	ErrConnLost = errors.New("connection lost")
	// ErrBadHeader reports a header that is neither a control token nor a
	// well-formed decimal length.
	ErrBadHeader = errors.New("malformed frame header")
	// ErrPayloadTooLarge reports a declared length above the configured
	// maximum, caught before any allocation.
	ErrPayloadTooLarge = errors.New("declared payload too large")
)

// Control tokens carried in the header field of body-less frames.
const (
	tokenAck  = "ACK"
	tokenPing = "PING"
	tokenPong = "PONG"
)

// Event classifies what Poll pulled off the connection.
type Event int

const (
	// EventNone means nothing was pending.
	EventNone Event = iota
	// EventPayload means a full payload arrived and was acknowledged.
	EventPayload
	// EventAck means the peer acknowledged our last payload.
	EventAck
	// EventPing means the peer sent a keepalive; a PONG went back already.
	EventPing
	// EventPong means the peer answered a keepalive of ours.
	EventPong
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventPayload:
		return "payload"
	case EventAck:
		return "ack"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Options holds the transport knobs a Conn needs. The zero value is not
// usable; start from DefaultOptions.
type Options struct {
	HeaderWidth       int
	ChunkSize         int
	MaxPayloadBytes   int64
	IOTimeout         time.Duration
	WriteReadyTimeout time.Duration
	PollInterval      time.Duration
}

// DefaultOptions mirrors the transport defaults in pkg/config.
func DefaultOptions() Options {
	return Options{
		HeaderWidth:       12,
		ChunkSize:         64 * 1024,
		MaxPayloadBytes:   256 * 1024 * 1024,
		IOTimeout:         30 * time.Second,
		WriteReadyTimeout: 30 * time.Second,
		PollInterval:      time.Millisecond,
	}
}

// Conn frames payloads over a single TCP connection. Frames are a
// fixed-width ASCII header followed by the payload bytes; control frames
// put a token in the header and carry no payload.
//
// A Conn is not safe for concurrent use. The exchange loops own their
// connection exclusively, which is what keeps the ack discipline simple.
type Conn struct {
	nc   net.Conn
	opts Options
	hdr  []byte
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts Options) *Conn {
	return &Conn{
		nc:   nc,
		opts: opts,
		hdr:  make([]byte, opts.HeaderWidth),
	}
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	if addr := c.nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// Close tears the connection down.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Send frames and writes one payload. It does not wait for the peer's ACK;
// that is the caller's state machine. Any error means the connection is dead.
func (c *Conn) Send(payload []byte) error {
	if int64(len(payload)) > c.opts.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	hdr, err := c.lengthHeader(len(payload))
	if err != nil {
		return err
	}
	if err := c.writeFull(hdr); err != nil {
		return err
	}
	return c.writeFull(payload)
}

// SendAck writes a bare ACK frame.
func (c *Conn) SendAck() error {
	return c.writeFull(c.tokenHeader(tokenAck))
}

// SendPing writes a keepalive probe.
func (c *Conn) SendPing() error {
	return c.writeFull(c.tokenHeader(tokenPing))
}

// SendPong answers a keepalive probe.
func (c *Conn) SendPong() error {
	return c.writeFull(c.tokenHeader(tokenPong))
}

// Poll checks the connection for one inbound frame without blocking beyond
// the poll interval. It returns EventNone when nothing is pending. Once the
// first header byte arrives the rest of the frame is read under the I/O
// timeout, so a peer that stalls mid-frame surfaces as ErrConnLost rather
// than a hang.
//
// Payload frames are acknowledged on the wire before Poll returns them:
// an (EventPayload, data, nil) result guarantees the ACK was written.
func (c *Conn) Poll() (Event, []byte, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.PollInterval)); err != nil {
		return EventNone, nil, fmt.Errorf("%w: %v", ErrConnLost, err)
	}
	n, err := c.nc.Read(c.hdr[:1])
	if n == 0 {
		if isTimeout(err) {
			return EventNone, nil, nil
		}
		if err != nil {
			return EventNone, nil, fmt.Errorf("%w: %v", ErrConnLost, err)
		}
		return EventNone, nil, nil
	}

	// A frame is on the wire; commit to reading all of it.
	if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.IOTimeout)); err != nil {
		return EventNone, nil, fmt.Errorf("%w: %v", ErrConnLost, err)
	}
	if _, err := io.ReadFull(c.nc, c.hdr[1:]); err != nil {
		return EventNone, nil, fmt.Errorf("%w: header: %v", ErrConnLost, err)
	}

	token, length, err := c.parseHeader()
	if err != nil {
		return EventNone, nil, err
	}
	switch token {
	case tokenAck:
		return EventAck, nil, nil
	case tokenPing:
		if err := c.SendPong(); err != nil {
			return EventNone, nil, err
		}
		return EventPing, nil, nil
	case tokenPong:
		return EventPong, nil, nil
	}

	payload, err := c.readPayload(length)
	if err != nil {
		return EventNone, nil, err
	}
	if err := c.SendAck(); err != nil {
		return EventNone, nil, err
	}
	return EventPayload, payload, nil
}

// lengthHeader encodes a payload length, left-justified and space-padded.
func (c *Conn) lengthHeader(n int) ([]byte, error) {
	s := fmt.Sprintf("%-*d", c.opts.HeaderWidth, n)
	if len(s) != c.opts.HeaderWidth {
		return nil, fmt.Errorf("%w: length %d does not fit header width %d",
			ErrPayloadTooLarge, n, c.opts.HeaderWidth)
	}
	return []byte(s), nil
}

// tokenHeader encodes a control token, left-justified and space-padded.
func (c *Conn) tokenHeader(token string) []byte {
	return []byte(fmt.Sprintf("%-*s", c.opts.HeaderWidth, token))
}

// parseHeader decodes c.hdr into a control token or a payload length.
func (c *Conn) parseHeader() (string, int64, error) {
	s := strings.TrimRight(string(c.hdr), " ")
	switch s {
	case tokenAck, tokenPing, tokenPong:
		return s, 0, nil
	}
	length, err := strconv.ParseInt(s, 10, 64)
	if err != nil || length < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadHeader, s)
	}
	if length > c.opts.MaxPayloadBytes {
		return "", 0, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, length)
	}
	return "", length, nil
}

// readPayload drains exactly length bytes in chunks, refreshing the read
// deadline between chunks so slow-but-live senders are not cut off.
func (c *Conn) readPayload(length int64) ([]byte, error) {
	payload := make([]byte, length)
	var got int64
	for got < length {
		end := got + int64(c.opts.ChunkSize)
		if end > length {
			end = length
		}
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.IOTimeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnLost, err)
		}
		n, err := io.ReadFull(c.nc, payload[got:end])
		got += int64(n)
		if err != nil {
			return nil, fmt.Errorf("%w: payload after %d/%d bytes: %v", ErrConnLost, got, length, err)
		}
	}
	return payload, nil
}

// writeFull writes b completely, in chunks, refreshing the write deadline
// before each chunk. A peer that stops draining its socket surfaces as
// ErrConnLost within the write-ready timeout.
func (c *Conn) writeFull(b []byte) error {
	for len(b) > 0 {
		end := c.opts.ChunkSize
		if end > len(b) {
			end = len(b)
		}
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteReadyTimeout)); err != nil {
			return fmt.Errorf("%w: %v", ErrConnLost, err)
		}
		n, err := c.nc.Write(b[:end])
		if err != nil {
			return fmt.Errorf("%w: write: %v", ErrConnLost, err)
		}
		b = b[n:]
	}
	return nil
}

// isTimeout reports whether err is a deadline expiry rather than a real
// connection failure.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

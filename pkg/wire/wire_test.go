package wire

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		HeaderWidth:       12,
		ChunkSize:         1024,
		MaxPayloadBytes:   1 << 20,
		IOTimeout:         500 * time.Millisecond,
		WriteReadyTimeout: 500 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

// tcpPair returns two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		ch <- accepted{c, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	srv := <-ch
	require.NoError(t, srv.err)

	t.Cleanup(func() {
		client.Close()
		srv.conn.Close()
	})
	return client, srv.conn
}

func connPair(t *testing.T, opts Options) (*Conn, *Conn) {
	t.Helper()
	a, b := tcpPair(t)
	return NewConn(a, opts), NewConn(b, opts)
}

// awaitEvent polls until something other than EventNone arrives.
func awaitEvent(t *testing.T, c *Conn) (Event, []byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, payload, err := c.Poll()
		require.NoError(t, err)
		if ev != EventNone {
			return ev, payload
		}
	}
	t.Fatal("timed out waiting for a frame")
	return EventNone, nil
}

// awaitError polls until Poll fails.
func awaitError(t *testing.T, c *Conn) error {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, _, err := c.Poll()
		if err != nil {
			return err
		}
		require.Equal(t, EventNone, ev)
	}
	t.Fatal("timed out waiting for a poll error")
	return nil
}

func rawHeader(field string, width int) []byte {
	return []byte(fmt.Sprintf("%-*s", width, field))
}

func TestSendAndPollRoundtrip(t *testing.T) {
	a, b := connPair(t, testOptions())
	payload := []byte(`{"hello":"world"}`)

	require.NoError(t, a.Send(payload))

	ev, got := awaitEvent(t, b)
	assert.Equal(t, EventPayload, ev)
	assert.Equal(t, payload, got)

	// the receiver acknowledged before surfacing the payload
	ev, _ = awaitEvent(t, a)
	assert.Equal(t, EventAck, ev)
}

func TestPollNothingPending(t *testing.T) {
	a, _ := connPair(t, testOptions())

	start := time.Now()
	ev, payload, err := a.Poll()
	require.NoError(t, err)
	assert.Equal(t, EventNone, ev)
	assert.Nil(t, payload)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestPingAnsweredWithPong(t *testing.T) {
	a, b := connPair(t, testOptions())

	require.NoError(t, a.SendPing())

	ev, _ := awaitEvent(t, b)
	assert.Equal(t, EventPing, ev)

	ev, _ = awaitEvent(t, a)
	assert.Equal(t, EventPong, ev)
}

func TestEmptyPayloadRoundtrip(t *testing.T) {
	a, b := connPair(t, testOptions())

	require.NoError(t, a.Send(nil))

	ev, got := awaitEvent(t, b)
	assert.Equal(t, EventPayload, ev)
	assert.Empty(t, got)

	ev, _ = awaitEvent(t, a)
	assert.Equal(t, EventAck, ev)
}

func TestPayloadLargerThanChunk(t *testing.T) {
	opts := testOptions()
	a, b := connPair(t, opts)

	payload := make([]byte, 10*opts.ChunkSize+37)
	rng := rand.New(rand.NewSource(1))
	rng.Read(payload)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Send(payload) }()

	ev, got := awaitEvent(t, b)
	assert.Equal(t, EventPayload, ev)
	assert.True(t, bytes.Equal(payload, got))
	require.NoError(t, <-errCh)
}

func TestSendRejectsOversizePayload(t *testing.T) {
	opts := testOptions()
	opts.MaxPayloadBytes = 16
	a, _ := connPair(t, opts)

	err := a.Send(make([]byte, 17))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPollRejectsOversizeDeclaredLength(t *testing.T) {
	opts := testOptions()
	opts.MaxPayloadBytes = 1024
	raw, peer := tcpPair(t)
	c := NewConn(peer, opts)

	_, err := raw.Write(rawHeader("999999", opts.HeaderWidth))
	require.NoError(t, err)

	err = awaitError(t, c)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPollRejectsGarbageHeader(t *testing.T) {
	opts := testOptions()
	raw, peer := tcpPair(t)
	c := NewConn(peer, opts)

	_, err := raw.Write(rawHeader("BOGUS", opts.HeaderWidth))
	require.NoError(t, err)

	err = awaitError(t, c)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestPollRejectsNegativeLength(t *testing.T) {
	opts := testOptions()
	raw, peer := tcpPair(t)
	c := NewConn(peer, opts)

	_, err := raw.Write(rawHeader("-5", opts.HeaderWidth))
	require.NoError(t, err)

	err = awaitError(t, c)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestConnLostMidPayload(t *testing.T) {
	opts := testOptions()
	raw, peer := tcpPair(t)
	c := NewConn(peer, opts)

	_, err := raw.Write(rawHeader("100", opts.HeaderWidth))
	require.NoError(t, err)
	_, err = raw.Write([]byte("only ten b"))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	err = awaitError(t, c)
	assert.ErrorIs(t, err, ErrConnLost)
}

func TestConnLostOnPeerClose(t *testing.T) {
	opts := testOptions()
	raw, peer := tcpPair(t)
	c := NewConn(peer, opts)

	require.NoError(t, raw.Close())

	err := awaitError(t, c)
	assert.ErrorIs(t, err, ErrConnLost)
}

func TestHeaderEncoding(t *testing.T) {
	c := &Conn{opts: testOptions()}

	hdr, err := c.lengthHeader(42)
	require.NoError(t, err)
	assert.Equal(t, []byte("42          "), hdr)

	assert.Equal(t, []byte("ACK         "), c.tokenHeader("ACK"))
	assert.Equal(t, []byte("PING        "), c.tokenHeader("PING"))
}

func TestHeaderTooNarrowForLength(t *testing.T) {
	opts := testOptions()
	opts.HeaderWidth = 3
	opts.MaxPayloadBytes = 10000
	c := &Conn{opts: opts, hdr: make([]byte, 3)}

	_, err := c.lengthHeader(10000)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

func testWireOptions() wire.Options {
	return wire.Options{
		HeaderWidth:       12,
		ChunkSize:         1024,
		MaxPayloadBytes:   1 << 20,
		IOTimeout:         500 * time.Millisecond,
		WriteReadyTimeout: 500 * time.Millisecond,
		PollInterval:      2 * time.Millisecond,
	}
}

func testClientConfig(addr string) ClientConfig {
	return ClientConfig{
		RelayAddr:      addr,
		ConnectTimeout: time.Second,
		AckTimeout:     2 * time.Second,
		ReconnectWait:  20 * time.Millisecond,
		LoopSleep:      2 * time.Millisecond,
		BufferMaxLen:   1000,
		Wire:           testWireOptions(),
	}
}

// relaySide binds a listener playing the relay's role in these tests.
func relaySide(t *testing.T) *link.Listener {
	t.Helper()
	ln, err := link.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func acceptPeer(t *testing.T, ln *link.Listener) *link.Link {
	t.Helper()
	conn, err := ln.Accept(context.Background(), 3*time.Second)
	require.NoError(t, err)
	l := link.New(wire.NewConn(conn, testWireOptions()), 2*time.Second)
	t.Cleanup(func() { l.Close() })
	return l
}

func awaitPayload(t *testing.T, l *link.Link) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ev, payload, err := l.Poll()
		require.NoError(t, err)
		if ev == wire.EventPayload {
			return payload
		}
	}
	t.Fatal("timed out waiting for a payload")
	return nil
}

func awaitAck(t *testing.T, l *link.Link) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, _, err := l.Poll()
		require.NoError(t, err)
		if l.Idle() {
			return
		}
	}
	t.Fatal("timed out waiting for an ack")
}

func makeSamples(rewards ...float64) []types.Sample {
	out := make([]types.Sample, len(rewards))
	for i, r := range rewards {
		out[i] = types.Sample{Action: []float64{0}, Obs: []float64{r}, Reward: r}
	}
	return out
}

func TestStagedWeightsReachRelay(t *testing.T) {
	ln := relaySide(t)
	c := New(testClientConfig(ln.Addr().String()))
	c.Start()
	t.Cleanup(c.Stop)

	c.Broadcast([]byte("params-1"))
	relay := acceptPeer(t, ln)

	env, err := wire.Decode(awaitPayload(t, relay))
	require.NoError(t, err)
	assert.Equal(t, wire.KindWeights, env.Kind)
	// the client leaves the version to the relay
	assert.Equal(t, uint64(0), env.Weights.Version)
	assert.Equal(t, []byte("params-1"), env.Weights.Blob)
}

func TestBroadcastReplacesUnsentBlob(t *testing.T) {
	ln := relaySide(t)
	c := New(testClientConfig(ln.Addr().String()))

	// both staged before any connection exists: only the newest survives
	c.Broadcast([]byte("stale"))
	c.Broadcast([]byte("fresh"))
	c.Start()
	t.Cleanup(c.Stop)

	relay := acceptPeer(t, ln)
	env, err := wire.Decode(awaitPayload(t, relay))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), env.Weights.Blob)

	// and nothing else follows
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		ev, _, err := relay.Poll()
		require.NoError(t, err)
		require.NotEqual(t, wire.EventPayload, ev, "stale blob was transmitted")
	}
}

func TestInboundBatchesAccumulate(t *testing.T) {
	ln := relaySide(t)
	c := New(testClientConfig(ln.Addr().String()))
	c.Start()
	t.Cleanup(c.Stop)

	relay := acceptPeer(t, ln)

	data, err := wire.EncodeBuffer(makeSamples(1, 2, 3), types.EpisodeStats{TrainReturn: 1})
	require.NoError(t, err)
	require.NoError(t, relay.Send(data))
	awaitAck(t, relay)

	data, err = wire.EncodeBuffer(makeSamples(4, 5), types.EpisodeStats{TrainReturn: 2})
	require.NoError(t, err)
	require.NoError(t, relay.Send(data))
	awaitAck(t, relay)

	require.Eventually(t, func() bool { return c.Buffered() == 5 },
		2*time.Second, 5*time.Millisecond)

	samples, stats := c.RetrieveAndResetBuffer()
	rewards := make([]float64, len(samples))
	for i, s := range samples {
		rewards[i] = s.Reward
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, rewards)
	// stats come from the last merged batch
	assert.Equal(t, float64(2), stats.TrainReturn)
	assert.Zero(t, c.Buffered())
}

func TestSilentRelayTriggersReconnect(t *testing.T) {
	ln := relaySide(t)
	cfg := testClientConfig(ln.Addr().String())
	cfg.RecvTimeout = 60 * time.Millisecond
	c := New(cfg)
	c.Start()
	t.Cleanup(c.Stop)

	first := acceptPeer(t, ln)
	assertConnDies(t, first)

	// the client must come back on its own
	second := acceptPeer(t, ln)
	data, err := wire.EncodeBuffer(makeSamples(9), types.EpisodeStats{})
	require.NoError(t, err)
	require.NoError(t, second.Send(data))
}

func TestAckTimeoutTriggersReconnect(t *testing.T) {
	ln := relaySide(t)
	cfg := testClientConfig(ln.Addr().String())
	cfg.AckTimeout = 80 * time.Millisecond
	c := New(cfg)
	c.Start()
	t.Cleanup(c.Stop)

	// this relay never polls, so it never acks the sent weights
	conn, err := ln.Accept(context.Background(), 3*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	c.Broadcast([]byte("doomed"))

	// the unacked send times out and the client redials
	second := acceptPeer(t, ln)
	require.NotNil(t, second)
}

func TestBlobStagedWhileDisconnectedIsDeliveredOnReconnect(t *testing.T) {
	ln := relaySide(t)
	c := New(testClientConfig(ln.Addr().String()))
	c.Start()
	t.Cleanup(c.Stop)

	first := acceptPeer(t, ln)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return !c.Connected() },
		2*time.Second, 5*time.Millisecond)

	c.Broadcast([]byte("queued-offline"))

	second := acceptPeer(t, ln)
	env, err := wire.Decode(awaitPayload(t, second))
	require.NoError(t, err)
	assert.Equal(t, []byte("queued-offline"), env.Weights.Blob)
}

// assertConnDies polls until the peer observes the connection failing.
func assertConnDies(t *testing.T, l *link.Link) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := l.Poll(); err != nil {
			return
		}
	}
	t.Fatal("connection stayed alive")
}

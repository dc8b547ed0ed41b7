package relay

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

func testConfig() Config {
	return Config{
		BindAddr:           "127.0.0.1",
		TrainerPort:        0,
		WorkerPort:         0,
		AcceptTimeout:      50 * time.Millisecond,
		MinSamplesPerBatch: 1,
		AckTimeoutTrainer:  2 * time.Second,
		AckTimeoutWorker:   2 * time.Second,
		BufferMaxLen:       1000,
		LoopSleep:          2 * time.Millisecond,
		Wire:               testWireOptions(),
	}
}

func startRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	r := New(cfg, nil)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

// dialPeer connects a scripted peer to one of the relay's ports.
func dialPeer(t *testing.T, addr string) *link.Link {
	t.Helper()
	conn, err := link.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	l := link.New(wire.NewConn(conn, testWireOptions()), 2*time.Second)
	t.Cleanup(func() { l.Close() })
	return l
}

// awaitPayload polls until a payload arrives, acking everything else.
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

// awaitAck polls until our last send is acknowledged.
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

func sampleRewards(samples []types.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Reward
	}
	return out
}

func TestWorkerBufferReachesTrainer(t *testing.T) {
	cfg := testConfig()
	cfg.MinSamplesPerBatch = 3
	r := startRelay(t, cfg)

	worker := dialPeer(t, r.WorkerAddr())
	trainer := dialPeer(t, r.TrainerAddr())

	stats := types.EpisodeStats{TrainReturn: 10, TrainSteps: 5}
	data, err := wire.EncodeBuffer(makeSamples(1, 2, 3, 4, 5), stats)
	require.NoError(t, err)
	require.NoError(t, worker.Send(data))
	awaitAck(t, worker)

	payload := awaitPayload(t, trainer)
	env, err := wire.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, wire.KindBuffer, env.Kind)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, sampleRewards(env.Samples))
	assert.Equal(t, stats, *env.Stats)

	// the aggregate is empty immediately after the forward
	assert.Eventually(t, func() bool { return r.AggregateLen() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestBatchHeldBelowMinSamples(t *testing.T) {
	cfg := testConfig()
	cfg.MinSamplesPerBatch = 10
	r := startRelay(t, cfg)

	worker := dialPeer(t, r.WorkerAddr())
	trainer := dialPeer(t, r.TrainerAddr())

	data, err := wire.EncodeBuffer(makeSamples(1, 2, 3, 4, 5), types.EpisodeStats{})
	require.NoError(t, err)
	require.NoError(t, worker.Send(data))
	awaitAck(t, worker)

	// below the threshold nothing must be forwarded
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		ev, _, err := trainer.Poll()
		require.NoError(t, err)
		require.NotEqual(t, wire.EventPayload, ev, "batch forwarded below min size")
	}
	assert.Equal(t, 5, r.AggregateLen())

	data, err = wire.EncodeBuffer(makeSamples(6, 7, 8, 9, 10), types.EpisodeStats{})
	require.NoError(t, err)
	require.NoError(t, worker.Send(data))

	payload := awaitPayload(t, trainer)
	env, err := wire.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sampleRewards(env.Samples))
}

func TestWeightsStoredAndPushedToWorker(t *testing.T) {
	r := startRelay(t, testConfig())

	worker := dialPeer(t, r.WorkerAddr())
	trainer := dialPeer(t, r.TrainerAddr())

	blob := []byte("model-parameters-v1")
	data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: blob})
	require.NoError(t, err)
	require.NoError(t, trainer.Send(data))
	awaitAck(t, trainer)

	assert.Equal(t, uint64(1), r.WeightsVersion())

	payload := awaitPayload(t, worker)
	env, err := wire.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, wire.KindWeights, env.Kind)
	assert.Equal(t, uint64(1), env.Weights.Version)
	assert.Equal(t, blob, env.Weights.Blob)
}

func TestWeightsVersionsIncrement(t *testing.T) {
	r := startRelay(t, testConfig())

	worker := dialPeer(t, r.WorkerAddr())
	trainer := dialPeer(t, r.TrainerAddr())

	for i := 1; i <= 3; i++ {
		data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: []byte{byte(i)}})
		require.NoError(t, err)
		require.NoError(t, trainer.Send(data))
		awaitAck(t, trainer)
	}
	assert.Equal(t, uint64(3), r.WeightsVersion())

	// the worker sees a strictly increasing version sequence; intermediate
	// versions may be skipped if a newer one lands before the push
	var versions []uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && (len(versions) == 0 || versions[len(versions)-1] < 3) {
		ev, payload, err := worker.Poll()
		require.NoError(t, err)
		if ev != wire.EventPayload {
			continue
		}
		env, err := wire.Decode(payload)
		require.NoError(t, err)
		versions = append(versions, env.Weights.Version)
	}
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	assert.Equal(t, uint64(3), versions[len(versions)-1])
}

func TestLateWorkerReceivesCurrentWeights(t *testing.T) {
	r := startRelay(t, testConfig())

	trainer := dialPeer(t, r.TrainerAddr())
	data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: []byte("late")})
	require.NoError(t, err)
	require.NoError(t, trainer.Send(data))
	awaitAck(t, trainer)

	// worker connects only after the weights were stored
	worker := dialPeer(t, r.WorkerAddr())
	payload := awaitPayload(t, worker)
	env, err := wire.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.Weights.Version)
	assert.Equal(t, []byte("late"), env.Weights.Blob)
}

func TestReconnectedWorkerReceivesWeightsAgain(t *testing.T) {
	r := startRelay(t, testConfig())

	trainer := dialPeer(t, r.TrainerAddr())
	data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: []byte("w")})
	require.NoError(t, err)
	require.NoError(t, trainer.Send(data))
	awaitAck(t, trainer)

	worker := dialPeer(t, r.WorkerAddr())
	payload := awaitPayload(t, worker)
	env, err := wire.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(1), env.Weights.Version)
	worker.Close()

	// a fresh connection has no memory of what was sent before
	worker2 := dialPeer(t, r.WorkerAddr())
	payload = awaitPayload(t, worker2)
	env, err = wire.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.Weights.Version)
}

func TestWrongKindPayloadDropsConnection(t *testing.T) {
	r := startRelay(t, testConfig())

	// a worker must not send weights
	worker := dialPeer(t, r.WorkerAddr())
	data, err := wire.EncodeWeights(types.WeightsUpdate{Version: 1, Blob: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, worker.Send(data))

	assertConnDies(t, worker)
	assert.Eventually(t, func() bool { return r.Snapshot().WorkerConns == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestGarbagePayloadDropsConnection(t *testing.T) {
	r := startRelay(t, testConfig())

	worker := dialPeer(t, r.WorkerAddr())
	require.NoError(t, worker.Send([]byte("definitely not json")))

	assertConnDies(t, worker)
	assert.Eventually(t, func() bool { return r.Snapshot().WorkerConns == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestAckTimeoutDropsWorkerConnection(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeoutWorker = 80 * time.Millisecond
	r := startRelay(t, cfg)

	trainer := dialPeer(t, r.TrainerAddr())
	data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: []byte("w")})
	require.NoError(t, err)
	require.NoError(t, trainer.Send(data))
	awaitAck(t, trainer)

	// this worker never polls, so it never acks the pushed weights
	conn, err := link.Dial(context.Background(), r.WorkerAddr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return r.Snapshot().WorkerConns == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestDeliveryOrderAcrossBatches(t *testing.T) {
	r := startRelay(t, testConfig())

	worker := dialPeer(t, r.WorkerAddr())
	trainer := dialPeer(t, r.TrainerAddr())

	for i := 0; i < 4; i++ {
		data, err := wire.EncodeBuffer(
			makeSamples(float64(2*i+1), float64(2*i+2)), types.EpisodeStats{})
		require.NoError(t, err)
		require.NoError(t, worker.Send(data))
		awaitAck(t, worker)
	}

	// however the relay batches them, the trainer must observe all eight
	// samples in their original order
	var got []float64
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < 8 && time.Now().Before(deadline) {
		ev, payload, err := trainer.Poll()
		require.NoError(t, err)
		if ev != wire.EventPayload {
			continue
		}
		env, err := wire.Decode(payload)
		require.NoError(t, err)
		got = append(got, sampleRewards(env.Samples)...)
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestSnapshotCountsConnections(t *testing.T) {
	r := startRelay(t, testConfig())

	dialPeer(t, r.WorkerAddr())
	dialPeer(t, r.WorkerAddr())
	dialPeer(t, r.TrainerAddr())

	assert.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.WorkerConns == 2 && snap.TrainerConns == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopTearsDownCleanly(t *testing.T) {
	r := New(testConfig(), nil)
	require.NoError(t, r.Start())

	worker := dialPeer(t, r.WorkerAddr())
	assert.Eventually(t, func() bool { return r.Snapshot().WorkerConns == 1 },
		2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	assertConnDies(t, worker)
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

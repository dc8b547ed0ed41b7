package framework

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/droverml/drover/pkg/cartpole"
	"github.com/droverml/drover/pkg/events"
	"github.com/droverml/drover/pkg/memory"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/relay"
	"github.com/droverml/drover/pkg/trainer"
	"github.com/droverml/drover/pkg/wire"
	"github.com/droverml/drover/pkg/worker"
)

// DeploymentConfig sizes an in-process test deployment
type DeploymentConfig struct {
	Workers        int
	BatchSize      int
	Epochs         int
	RoundsPerEpoch int
	DataDir        string
	LearningRate   float64
	Seed           int64
}

// DefaultDeploymentConfig returns a deployment small enough to finish a
// training run in a few seconds
func DefaultDeploymentConfig(dataDir string) *DeploymentConfig {
	return &DeploymentConfig{
		Workers:        1,
		BatchSize:      16,
		Epochs:         1,
		RoundsPerEpoch: 3,
		DataDir:        dataDir,
		LearningRate:   0.01,
		Seed:           1,
	}
}

// Deployment wires a relay, a trainer, and workers together inside one
// process, talking over real localhost sockets.
type Deployment struct {
	Config  *DeploymentConfig
	Relay   *relay.Relay
	Trainer *trainer.Client
	Loop    *trainer.Loop
	Policy  *policy.Linear
	Memory  memory.Store
	Workers []*WorkerNode

	broker *events.Broker
	ctx    context.Context
	cancel context.CancelFunc
}

// WorkerNode bundles one worker's client, episode runner, and policy.
type WorkerNode struct {
	Client *worker.Client
	Runner *worker.Runner
	Policy *policy.Linear

	done chan error
}

// NewDeployment creates a deployment with the given configuration
func NewDeployment(config *DeploymentConfig) (*Deployment, error) {
	if config == nil {
		return nil, fmt.Errorf("deployment config is required")
	}
	if config.Workers < 1 {
		return nil, fmt.Errorf("deployment needs at least one worker, got %d", config.Workers)
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("deployment needs a data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Deployment{
		Config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// testWireOptions keeps frame-level timeouts short so a failing test
// reports within seconds instead of minutes.
func testWireOptions() wire.Options {
	return wire.Options{
		HeaderWidth:       12,
		ChunkSize:         32 * 1024,
		MaxPayloadBytes:   16 * 1024 * 1024,
		IOTimeout:         2 * time.Second,
		WriteReadyTimeout: 2 * time.Second,
		PollInterval:      time.Millisecond,
	}
}

// Start brings the deployment up: relay first, then the trainer side,
// then the workers. Episode runners begin immediately.
func (d *Deployment) Start() error {
	d.broker = events.NewBroker()
	d.broker.Start()

	// Relay on ephemeral ports
	d.Relay = relay.New(relay.Config{
		BindAddr:           "127.0.0.1",
		TrainerPort:        0,
		WorkerPort:         0,
		AcceptTimeout:      time.Second,
		MinSamplesPerBatch: 1,
		AckTimeoutTrainer:  2 * time.Second,
		AckTimeoutWorker:   2 * time.Second,
		BufferMaxLen:       100000,
		LoopSleep:          5 * time.Millisecond,
		Wire:               testWireOptions(),
	}, d.broker)
	if err := d.Relay.Start(); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	// Trainer side
	d.Memory = memory.NewRingStore(100000)
	d.Policy = policy.NewLinear(cartpole.ObsDim, cartpole.Actions, d.Config.LearningRate, d.Config.Seed)
	d.Trainer = trainer.New(trainer.ClientConfig{
		RelayAddr:      d.Relay.TrainerAddr(),
		ConnectTimeout: 2 * time.Second,
		AckTimeout:     2 * time.Second,
		RecvTimeout:    time.Minute,
		ReconnectWait:  50 * time.Millisecond,
		LoopSleep:      5 * time.Millisecond,
		BufferMaxLen:   100000,
		Wire:           testWireOptions(),
	})
	d.Trainer.Start()
	d.Loop = trainer.NewLoop(trainer.LoopConfig{
		BatchSize:      d.Config.BatchSize,
		Epochs:         d.Config.Epochs,
		RoundsPerEpoch: d.Config.RoundsPerEpoch,
		IdleWait:       10 * time.Millisecond,
		ModelPath:      filepath.Join(d.Config.DataDir, "trainer.model"),
	}, d.Trainer, d.Policy, d.Memory)

	// Workers
	for i := 0; i < d.Config.Workers; i++ {
		if err := d.startWorker(i); err != nil {
			return fmt.Errorf("failed to start worker-%d: %w", i+1, err)
		}
	}
	return nil
}

func (d *Deployment) startWorker(i int) error {
	seed := d.Config.Seed + int64(i) + 1
	env := cartpole.New(seed)
	pol := policy.NewLinear(cartpole.ObsDim, cartpole.Actions, 0, seed)

	client := worker.New(worker.ClientConfig{
		RelayAddr:          d.Relay.WorkerAddr(),
		ConnectTimeout:     2 * time.Second,
		AckTimeout:         2 * time.Second,
		RecvTimeout:        time.Minute,
		ReconnectWait:      50 * time.Millisecond,
		LoopSleep:          5 * time.Millisecond,
		MinSamplesPerBatch: 1,
		BufferMaxLen:       100000,
		ModelPath:          filepath.Join(d.Config.DataDir, fmt.Sprintf("worker-%d.model", i)),
		ModelHistoryEvery:  0,
		Wire:               testWireOptions(),
	})
	runner := worker.NewRunner(worker.RunnerConfig{
		MaxSamplesPerEpisode: 200,
		TestEpisodeInterval:  0,
		BufferMaxLen:         100000,
	}, client, env, pol)

	node := &WorkerNode{
		Client: client,
		Runner: runner,
		Policy: pol,
		done:   make(chan error, 1),
	}
	client.Start()
	go func() {
		node.done <- runner.Run(d.ctx)
	}()

	d.Workers = append(d.Workers, node)
	return nil
}

// RunTraining drives the training loop to completion or until ctx fires.
func (d *Deployment) RunTraining(ctx context.Context) error {
	return d.Loop.Run(ctx)
}

// RestartRelay stops the relay and starts a fresh one on the same ports,
// simulating a rendezvous-point crash. Clients are expected to reconnect
// on their own.
func (d *Deployment) RestartRelay() error {
	trainerAddr := d.Relay.TrainerAddr()
	workerAddr := d.Relay.WorkerAddr()
	d.Relay.Stop()

	d.Relay = relay.New(relay.Config{
		BindAddr:           "127.0.0.1",
		TrainerPort:        portOf(trainerAddr),
		WorkerPort:         portOf(workerAddr),
		AcceptTimeout:      time.Second,
		MinSamplesPerBatch: 1,
		AckTimeoutTrainer:  2 * time.Second,
		AckTimeoutWorker:   2 * time.Second,
		BufferMaxLen:       100000,
		LoopSleep:          5 * time.Millisecond,
		Wire:               testWireOptions(),
	}, d.broker)
	return d.Relay.Start()
}

// Stop tears the deployment down in reverse order: episode runners, then
// clients, then the relay.
func (d *Deployment) Stop() {
	d.cancel()
	for _, node := range d.Workers {
		select {
		case <-node.done:
		case <-time.After(5 * time.Second):
		}
		node.Client.Stop()
	}
	if d.Trainer != nil {
		d.Trainer.Stop()
	}
	if d.Relay != nil {
		d.Relay.Stop()
	}
	if d.broker != nil {
		d.broker.Stop()
	}
}

// portOf extracts the numeric port from a host:port address.
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/buffer"
	"github.com/droverml/drover/pkg/events"
	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

// Config holds the relay's runtime knobs.
type Config struct {
	BindAddr           string
	TrainerPort        int
	WorkerPort         int
	AcceptTimeout      time.Duration
	MinSamplesPerBatch int
	AckTimeoutTrainer  time.Duration
	AckTimeoutWorker   time.Duration
	BufferMaxLen       int
	LoopSleep          time.Duration
	Wire               wire.Options
}

// Relay is the rendezvous between one logical trainer and any number of
// workers. It is a pass-through, not a store: samples flow workers ->
// trainer through one shared aggregation buffer, weights flow trainer ->
// workers through one shared versioned slot.
type Relay struct {
	cfg    Config
	logger zerolog.Logger
	broker *events.Broker

	aggregate *buffer.AggregationBuffer
	weights   weightsStore

	mu       sync.Mutex
	handlers map[string]*handler

	trainerLn *link.Listener
	workerLn  *link.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay. broker may be nil when nobody consumes events.
func New(cfg Config, broker *events.Broker) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		cfg:       cfg,
		logger:    log.WithComponent("relay"),
		broker:    broker,
		aggregate: buffer.New(cfg.BufferMaxLen),
		handlers:  make(map[string]*handler),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds both listeners and launches the accept loops.
func (r *Relay) Start() error {
	trainerAddr := fmt.Sprintf("%s:%d", r.cfg.BindAddr, r.cfg.TrainerPort)
	workerAddr := fmt.Sprintf("%s:%d", r.cfg.BindAddr, r.cfg.WorkerPort)

	var err error
	r.trainerLn, err = link.Listen(trainerAddr)
	if err != nil {
		return fmt.Errorf("trainer listener: %w", err)
	}
	r.workerLn, err = link.Listen(workerAddr)
	if err != nil {
		r.trainerLn.Close()
		return fmt.Errorf("worker listener: %w", err)
	}

	metrics.RegisterComponent("trainer_listener", true, "listening on "+r.trainerLn.Addr().String())
	metrics.RegisterComponent("worker_listener", true, "listening on "+r.workerLn.Addr().String())

	r.logger.Info().
		Str("trainer_addr", r.trainerLn.Addr().String()).
		Str("worker_addr", r.workerLn.Addr().String()).
		Msg("relay listening")

	r.wg.Add(2)
	go r.acceptLoop(r.trainerLn, types.RoleTrainer, r.cfg.AckTimeoutTrainer)
	go r.acceptLoop(r.workerLn, types.RoleWorker, r.cfg.AckTimeoutWorker)
	return nil
}

// Stop tears down the listeners and every live connection, then waits for
// all handler goroutines to exit.
func (r *Relay) Stop() {
	r.cancel()
	if r.trainerLn != nil {
		r.trainerLn.Close()
	}
	if r.workerLn != nil {
		r.workerLn.Close()
	}

	r.mu.Lock()
	for _, h := range r.handlers {
		h.link.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	metrics.UpdateComponent("trainer_listener", false, "stopped")
	metrics.UpdateComponent("worker_listener", false, "stopped")
	r.logger.Info().Msg("relay stopped")
}

// TrainerAddr reports the bound trainer-port address.
func (r *Relay) TrainerAddr() string {
	return r.trainerLn.Addr().String()
}

// WorkerAddr reports the bound worker-port address.
func (r *Relay) WorkerAddr() string {
	return r.workerLn.Addr().String()
}

// AggregateLen reports how many samples wait for the trainer.
func (r *Relay) AggregateLen() int {
	return r.aggregate.Len()
}

// WeightsVersion reports the version of the stored weights, zero if none
// arrived yet.
func (r *Relay) WeightsVersion() uint64 {
	update, ok := r.weights.get()
	if !ok {
		return 0
	}
	return update.Version
}

// Snapshot implements metrics.Source.
func (r *Relay) Snapshot() metrics.Snapshot {
	r.mu.Lock()
	var workers, trainers int
	for _, h := range r.handlers {
		switch h.role {
		case types.RoleWorker:
			workers++
		case types.RoleTrainer:
			trainers++
		}
	}
	r.mu.Unlock()

	snap := metrics.Snapshot{
		WorkerConns:  workers,
		TrainerConns: trainers,
		BufferDepth:  r.aggregate.Len(),
	}
	if update, ok := r.weights.get(); ok {
		snap.WeightsVersion = update.Version
		snap.HasWeights = true
	}
	return snap
}

// acceptLoop accepts connections in bounded windows until shutdown.
func (r *Relay) acceptLoop(ln *link.Listener, role types.Role, ackTimeout time.Duration) {
	defer r.wg.Done()
	logger := r.logger.With().Str("peer_role", string(role)).Logger()

	for {
		conn, err := ln.Accept(r.ctx, r.cfg.AcceptTimeout)
		if err != nil {
			switch {
			case errors.Is(err, link.ErrAcceptTimeout):
				continue
			case r.ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return
			default:
				logger.Warn().Err(err).Msg("accept failed, retrying")
				if !link.Sleep(r.ctx, r.cfg.LoopSleep) {
					return
				}
				continue
			}
		}
		h := r.newHandler(conn, role, ackTimeout)
		r.wg.Add(1)
		go h.run()
	}
}

// publish forwards an event when a broker is attached.
func (r *Relay) publish(ev *events.Event) {
	if r.broker != nil {
		r.broker.Publish(ev)
	}
}

func (r *Relay) removeHandler(id string) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// weightsStore is the shared weights slot. The version counter increments
// on every store; it is the authority workers use to detect new weights.
type weightsStore struct {
	mu      sync.Mutex
	current *types.WeightsUpdate
}

// put stores a blob under the next version and returns the stamped update.
func (s *weightsStore) put(blob []byte) types.WeightsUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := uint64(1)
	if s.current != nil {
		version = s.current.Version + 1
	}
	s.current = &types.WeightsUpdate{Version: version, Blob: blob}
	return *s.current
}

// get returns a copy of the stored update, false when nothing is stored.
func (s *weightsStore) get() (types.WeightsUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.WeightsUpdate{}, false
	}
	return *s.current, true
}

package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/buffer"
	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

// ClientConfig holds the trainer-side connection knobs.
type ClientConfig struct {
	RelayAddr      string
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	RecvTimeout    time.Duration
	ReconnectWait  time.Duration
	LoopSleep      time.Duration
	BufferMaxLen   int
	Wire           wire.Options
}

// Client keeps the trainer connected to the relay. It stages outbound
// weights (newest wins, older unsent updates are discarded) and accumulates
// inbound sample batches until the training loop collects them.
//
// The connection itself lives on a background goroutine that redials
// forever with a fixed backoff; the training loop never sees transport
// failures.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	recv *buffer.AggregationBuffer

	mu        sync.Mutex
	staged    []byte
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a trainer-side client.
func New(cfg ClientConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		logger: log.WithComponent("trainer_client"),
		recv:   buffer.New(cfg.BufferMaxLen),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the connection loop.
func (c *Client) Start() {
	metrics.RegisterComponent("relay_link", false, "connecting")
	c.wg.Add(1)
	go c.run()
}

// Stop tears the connection down and waits for the loop to exit.
func (c *Client) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Broadcast stages the policy's serialized parameters for transmission.
// Only the newest unsent update is ever transmitted: staging over a blob
// that never made it out replaces it.
func (c *Client) Broadcast(blob []byte) {
	c.mu.Lock()
	c.staged = blob
	c.mu.Unlock()
}

// RetrieveAndResetBuffer atomically takes everything received from the
// relay so far, leaving the receive buffer empty.
func (c *Client) RetrieveAndResetBuffer() ([]types.Sample, types.EpisodeStats) {
	samples, stats := c.recv.TakeAll()
	metrics.BufferDepth.WithLabelValues("trainer_recv").Set(0)
	return samples, stats
}

// Buffered reports how many received samples wait for the training loop.
func (c *Client) Buffered() int {
	return c.recv.Len()
}

// Connected reports whether a relay session is currently live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// run dials the relay forever. Connect failures and dropped sessions both
// land back here; the fixed backoff is the only retry policy.
func (c *Client) run() {
	defer c.wg.Done()
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			metrics.ReconnectsTotal.WithLabelValues(string(types.RoleTrainer)).Inc()
		}
		attempt++

		conn, err := link.Dial(c.ctx, c.cfg.RelayAddr, c.cfg.ConnectTimeout)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Str("addr", c.cfg.RelayAddr).Msg("relay dial failed, retrying")
			if !link.Sleep(c.ctx, c.cfg.ReconnectWait) {
				return
			}
			continue
		}
		c.exchange(link.New(wire.NewConn(conn, c.cfg.Wire), c.cfg.AckTimeout))
	}
}

// exchange drives one live session until the connection fails, the relay
// goes silent, or shutdown.
func (c *Client) exchange(l *link.Link) {
	defer l.Close()

	c.setConnected(true)
	metrics.ConnectsTotal.WithLabelValues(string(types.RoleRelay)).Inc()
	metrics.ConnectionsActive.WithLabelValues(string(types.RoleRelay)).Inc()
	metrics.UpdateComponent("relay_link", true, "connected to "+l.RemoteAddr())
	c.logger.Info().Str("peer", l.RemoteAddr()).Msg("connected to relay")

	reason := metrics.ReasonShutdown
	defer func() {
		c.setConnected(false)
		metrics.ConnectionsActive.WithLabelValues(string(types.RoleRelay)).Dec()
		metrics.DisconnectsTotal.WithLabelValues(string(types.RoleRelay), reason).Inc()
		metrics.UpdateComponent("relay_link", false, "disconnected: "+reason)
		c.logger.Info().Str("reason", reason).Msg("relay connection closed")
	}()

	for {
		if c.ctx.Err() != nil {
			return
		}
		if err := c.step(l); err != nil {
			reason = disconnectReason(err)
			c.logger.Warn().Err(err).Str("reason", reason).Msg("dropping relay connection")
			return
		}
		if !link.Sleep(c.ctx, c.cfg.LoopSleep) {
			return
		}
	}
}

// step performs one exchange iteration: drain at most one inbound frame,
// check the relay is still talking, then push any staged weights.
func (c *Client) step(l *link.Link) error {
	ev, payload, err := l.Poll()
	if err != nil {
		return err
	}
	switch ev {
	case wire.EventPayload:
		if err := c.acceptBatch(payload); err != nil {
			return err
		}
	case wire.EventAck:
		metrics.AckRoundtripSeconds.WithLabelValues(string(types.RoleRelay)).
			Observe(l.LastAckRTT().Seconds())
	}

	if c.cfg.RecvTimeout > 0 && time.Since(l.LastActivity()) > c.cfg.RecvTimeout {
		return fmt.Errorf("%w (%s)", link.ErrIdleTimeout, c.cfg.RecvTimeout)
	}
	return c.sendStaged(l)
}

// acceptBatch merges an inbound sample batch into the receive buffer.
func (c *Client) acceptBatch(payload []byte) error {
	env, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	if env.Kind != wire.KindBuffer {
		return fmt.Errorf("%w: %s payload from the relay", wire.ErrBadEnvelope, env.Kind)
	}
	c.recv.Merge(env.Samples, *env.Stats)
	metrics.BytesReceivedTotal.WithLabelValues(string(types.RoleRelay)).Add(float64(len(payload)))
	metrics.BufferDepth.WithLabelValues("trainer_recv").Set(float64(c.recv.Len()))
	c.logger.Debug().Int("samples", len(env.Samples)).Int("buffered", c.recv.Len()).
		Msg("received sample batch")
	return nil
}

// sendStaged pushes the staged blob when the link is free. The blob leaves
// the slot before the send; on failure it is restored only if the slot is
// still empty, so an update staged meanwhile wins.
func (c *Client) sendStaged(l *link.Link) error {
	if !l.Idle() {
		return nil
	}
	c.mu.Lock()
	blob := c.staged
	c.staged = nil
	c.mu.Unlock()
	if blob == nil {
		return nil
	}

	// Version zero: the relay stamps the authoritative version on receipt.
	data, err := wire.EncodeWeights(types.WeightsUpdate{Blob: blob})
	if err == nil {
		err = l.Send(data)
	}
	if err != nil {
		c.mu.Lock()
		if c.staged == nil {
			c.staged = blob
		}
		c.mu.Unlock()
		return err
	}
	metrics.WeightsBroadcastsTotal.Inc()
	metrics.BytesSentTotal.WithLabelValues(string(types.RoleRelay)).Add(float64(len(data)))
	c.logger.Debug().Int("bytes", len(blob)).Msg("sent weights to relay")
	return nil
}

// disconnectReason maps an exchange-loop error to a metrics label.
func disconnectReason(err error) string {
	switch {
	case errors.Is(err, link.ErrAckTimeout):
		return metrics.ReasonAckTimeout
	case errors.Is(err, link.ErrIdleTimeout):
		return metrics.ReasonIdle
	case errors.Is(err, wire.ErrBadEnvelope),
		errors.Is(err, wire.ErrBadHeader),
		errors.Is(err, wire.ErrPayloadTooLarge):
		return metrics.ReasonBadPayload
	default:
		return metrics.ReasonConnLost
	}
}

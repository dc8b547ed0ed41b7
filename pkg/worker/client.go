package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/buffer"
	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

// historyStamp is the timestamp layout of archived model copies,
// day_month_year_hour_minute_second.
const historyStamp = "02_01_2006_15_04_05"

// ClientConfig holds the worker-side connection and model-file knobs.
type ClientConfig struct {
	RelayAddr          string
	ConnectTimeout     time.Duration
	AckTimeout         time.Duration
	RecvTimeout        time.Duration
	ReconnectWait      time.Duration
	LoopSleep          time.Duration
	MinSamplesPerBatch int
	BufferMaxLen       int
	ModelPath          string
	// ModelHistoryDir receives a dated copy of the model file every
	// ModelHistoryEvery applied updates. Zero disables archiving.
	ModelHistoryDir   string
	ModelHistoryEvery int
	Wire              wire.Options
}

// Client keeps a worker connected to the relay: collected samples go out
// once enough accumulate, inbound weights land in a pending slot until the
// episode loop applies them.
//
// The mirror image of the trainer client, with the objects swapped.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	outbound *buffer.AggregationBuffer

	mu        sync.Mutex
	pending   *types.WeightsUpdate
	connected bool

	// lastApplied is under mu so status readers see it; historyCount is
	// touched only by the episode loop.
	lastApplied  uint64
	historyCount int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker-side client.
func New(cfg ClientConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		logger:   log.WithComponent("worker_client"),
		outbound: buffer.New(cfg.BufferMaxLen),
		ctx:      ctx,
		cancel:   cancel,
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

// Stage merges an episode's samples and statistics into the outbound
// buffer. The connection loop ships the buffer once it holds at least the
// configured minimum.
func (c *Client) Stage(samples []types.Sample, stats types.EpisodeStats) {
	c.outbound.Merge(samples, stats)
	metrics.BufferDepth.WithLabelValues("worker_outbound").Set(float64(c.outbound.Len()))
}

// Outstanding reports how many samples wait for transmission.
func (c *Client) Outstanding() int {
	return c.outbound.Len()
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

// PendingVersion reports the version waiting in the slot, zero when none.
func (c *Client) PendingVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0
	}
	return c.pending.Version
}

// AppliedVersion reports the version of the weights the live policy runs.
func (c *Client) AppliedVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastApplied
}

// ApplyPendingWeights takes the pending update, if any, persists it to the
// model file, archives a dated copy every Nth application, and reloads the
// policy from the just-written file. Updates at or below the already
// applied version are discarded without touching the file. File failures
// propagate; they are fatal for the run, not retried.
func (c *Client) ApplyPendingWeights(p policy.Policy) error {
	c.mu.Lock()
	update := c.pending
	c.pending = nil
	c.mu.Unlock()
	if update == nil {
		return nil
	}
	if update.Version <= c.appliedVersion() {
		c.logger.Debug().Uint64("version", update.Version).
			Uint64("applied", c.appliedVersion()).Msg("discarding stale weights update")
		return nil
	}

	if err := policy.SaveFile(c.cfg.ModelPath, update.Blob); err != nil {
		return err
	}
	if err := c.archive(); err != nil {
		return err
	}
	if err := policy.LoadFile(p, c.cfg.ModelPath); err != nil {
		return err
	}

	c.setAppliedVersion(update.Version)
	metrics.WeightsAppliedTotal.Inc()
	metrics.WeightsVersion.Set(float64(update.Version))
	c.logger.Info().Uint64("version", update.Version).Int("bytes", len(update.Blob)).
		Msg("applied weights update")
	return nil
}

func (c *Client) appliedVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastApplied
}

func (c *Client) setAppliedVersion(v uint64) {
	c.mu.Lock()
	c.lastApplied = v
	c.mu.Unlock()
}

// archive copies the model file into the history directory under a dated
// name once every ModelHistoryEvery applications, resetting the cyclic
// counter after each copy.
func (c *Client) archive() error {
	if c.cfg.ModelHistoryEvery <= 0 {
		return nil
	}
	c.historyCount++
	if c.historyCount < c.cfg.ModelHistoryEvery {
		return nil
	}
	c.historyCount = 0

	data, err := os.ReadFile(c.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read model file for archiving: %w", err)
	}
	base := filepath.Base(c.cfg.ModelPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s_%s%s", stem, time.Now().Format(historyStamp), ext)
	dst := filepath.Join(c.cfg.ModelHistoryDir, name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to archive model copy: %w", err)
	}
	c.logger.Info().Str("path", dst).Msg("archived model copy")
	return nil
}

// run dials the relay forever, mirroring the trainer client's loop.
func (c *Client) run() {
	defer c.wg.Done()
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			metrics.ReconnectsTotal.WithLabelValues(string(types.RoleWorker)).Inc()
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
// check the relay is still talking, then ship the outbound buffer if ready.
func (c *Client) step(l *link.Link) error {
	ev, payload, err := l.Poll()
	if err != nil {
		return err
	}
	switch ev {
	case wire.EventPayload:
		if err := c.acceptWeights(payload); err != nil {
			return err
		}
	case wire.EventAck:
		metrics.AckRoundtripSeconds.WithLabelValues(string(types.RoleRelay)).
			Observe(l.LastAckRTT().Seconds())
	}

	if c.cfg.RecvTimeout > 0 && time.Since(l.LastActivity()) > c.cfg.RecvTimeout {
		return fmt.Errorf("%w (%s)", link.ErrIdleTimeout, c.cfg.RecvTimeout)
	}
	return c.sendBuffer(l)
}

// acceptWeights parks an inbound update in the pending slot. The slot holds
// one update; a newer arrival replaces an unapplied older one.
func (c *Client) acceptWeights(payload []byte) error {
	env, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	if env.Kind != wire.KindWeights {
		return fmt.Errorf("%w: %s payload from the relay", wire.ErrBadEnvelope, env.Kind)
	}

	update := *env.Weights
	c.mu.Lock()
	c.pending = &update
	c.mu.Unlock()

	metrics.BytesReceivedTotal.WithLabelValues(string(types.RoleRelay)).Add(float64(len(payload)))
	c.logger.Debug().Uint64("version", update.Version).Int("bytes", len(update.Blob)).
		Msg("received weights update")
	return nil
}

// sendBuffer ships the outbound buffer once it holds enough samples and the
// link is free. The samples leave the buffer before the send; a failed send
// puts them back at the front so nothing is lost and order is kept.
func (c *Client) sendBuffer(l *link.Link) error {
	if !l.Idle() {
		return nil
	}
	samples, stats, ok := c.outbound.TakeIfAtLeast(c.cfg.MinSamplesPerBatch)
	if !ok {
		return nil
	}
	data, err := wire.EncodeBuffer(samples, stats)
	if err != nil {
		c.outbound.Requeue(samples)
		return err
	}
	if err := l.Send(data); err != nil {
		c.outbound.Requeue(samples)
		return err
	}
	metrics.BytesSentTotal.WithLabelValues(string(types.RoleRelay)).Add(float64(len(data)))
	metrics.BufferDepth.WithLabelValues("worker_outbound").Set(float64(c.outbound.Len()))
	c.logger.Debug().Int("samples", len(samples)).Msg("sent episode buffer to relay")
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

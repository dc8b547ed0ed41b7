package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/events"
	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/types"
	"github.com/droverml/drover/pkg/wire"
)

// handler owns one accepted connection until it dies.
type handler struct {
	id    string
	role  types.Role
	relay *Relay
	link  *link.Link
	log   zerolog.Logger

	// sentWeightsVersion is the last version pushed to this worker, zero
	// for a fresh connection so the current weights go out immediately.
	sentWeightsVersion uint64
}

func (r *Relay) newHandler(conn net.Conn, role types.Role, ackTimeout time.Duration) *handler {
	h := &handler{
		id:    uuid.New().String(),
		role:  role,
		relay: r,
		link:  link.New(wire.NewConn(conn, r.cfg.Wire), ackTimeout),
	}
	h.log = log.WithConn("relay", h.id, h.link.RemoteAddr())

	r.mu.Lock()
	r.handlers[h.id] = h
	r.mu.Unlock()

	metrics.ConnectsTotal.WithLabelValues(string(role)).Inc()
	metrics.ConnectionsActive.WithLabelValues(string(role)).Inc()

	connectedEvent := events.EventWorkerConnected
	if role == types.RoleTrainer {
		connectedEvent = events.EventTrainerConnected
	}
	r.publish(events.New(connectedEvent, h.id, "connection accepted", map[string]string{
		"peer": h.link.RemoteAddr(),
	}))
	h.log.Info().Str("peer_role", string(role)).Msg("connection accepted")
	return h
}

// run drives the exchange loop until the connection fails or the relay
// shuts down.
func (h *handler) run() {
	defer h.relay.wg.Done()
	reason := metrics.ReasonShutdown
	defer func() { h.teardown(reason) }()

	for {
		select {
		case <-h.relay.ctx.Done():
			return
		default:
		}
		if err := h.step(); err != nil {
			reason = disconnectReason(err)
			h.log.Warn().Err(err).Str("reason", reason).Msg("dropping connection")
			return
		}
		if !link.Sleep(h.relay.ctx, h.relay.cfg.LoopSleep) {
			return
		}
	}
}

// step performs one exchange-loop iteration: drain at most one inbound
// frame, then attempt the role's outbound duty.
func (h *handler) step() error {
	ev, payload, err := h.link.Poll()
	if err != nil {
		return err
	}
	switch ev {
	case wire.EventPayload:
		if err := h.handlePayload(payload); err != nil {
			return err
		}
	case wire.EventAck:
		metrics.AckRoundtripSeconds.WithLabelValues(string(h.role)).
			Observe(h.link.LastAckRTT().Seconds())
	}

	switch h.role {
	case types.RoleWorker:
		return h.pushWeights()
	case types.RoleTrainer:
		return h.forwardBatch()
	}
	return nil
}

// handlePayload dispatches an inbound payload by peer role.
func (h *handler) handlePayload(payload []byte) error {
	env, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	metrics.BytesReceivedTotal.WithLabelValues(string(h.role)).Add(float64(len(payload)))

	switch h.role {
	case types.RoleWorker:
		if env.Kind != wire.KindBuffer {
			return fmt.Errorf("%w: %s payload from a worker", wire.ErrBadEnvelope, env.Kind)
		}
		h.relay.aggregate.Merge(env.Samples, *env.Stats)
		metrics.SamplesMergedTotal.Add(float64(len(env.Samples)))
		h.relay.publish(events.New(events.EventBufferMerged, h.id, "worker buffer merged", map[string]string{
			"samples": strconv.Itoa(len(env.Samples)),
		}))
		h.log.Debug().Int("samples", len(env.Samples)).Int("aggregate", h.relay.aggregate.Len()).
			Msg("merged worker buffer")

	case types.RoleTrainer:
		if env.Kind != wire.KindWeights {
			return fmt.Errorf("%w: %s payload from a trainer", wire.ErrBadEnvelope, env.Kind)
		}
		update := h.relay.weights.put(env.Weights.Blob)
		metrics.WeightsStoredTotal.Inc()
		metrics.WeightsVersion.Set(float64(update.Version))
		h.relay.publish(events.New(events.EventWeightsStored, h.id, "weights stored", map[string]string{
			"version": strconv.FormatUint(update.Version, 10),
		}))
		h.log.Info().Uint64("version", update.Version).Int("bytes", len(env.Weights.Blob)).
			Msg("stored weights from trainer")
	}
	return nil
}

// pushWeights sends the current weights to a worker that has not seen this
// version yet. The version is marked sent as soon as the send is initiated;
// if the ack later times out the connection dies and a fresh handler
// restarts from version zero.
func (h *handler) pushWeights() error {
	if !h.link.Idle() {
		return nil
	}
	update, ok := h.relay.weights.get()
	if !ok || update.Version == h.sentWeightsVersion {
		return nil
	}
	data, err := wire.EncodeWeights(update)
	if err != nil {
		return err
	}
	if err := h.link.Send(data); err != nil {
		return err
	}
	h.sentWeightsVersion = update.Version
	metrics.WeightsBroadcastsTotal.Inc()
	metrics.BytesSentTotal.WithLabelValues(string(h.role)).Add(float64(len(data)))
	h.relay.publish(events.New(events.EventWeightsSent, h.id, "weights sent to worker", map[string]string{
		"version": strconv.FormatUint(update.Version, 10),
	}))
	h.log.Debug().Uint64("version", update.Version).Msg("sent weights to worker")
	return nil
}

// forwardBatch ships the aggregate to the trainer once it holds enough
// samples. The samples leave the buffer before the send; a failed send puts
// them back at the front so nothing is lost and order is kept.
func (h *handler) forwardBatch() error {
	if !h.link.Idle() {
		return nil
	}
	samples, stats, ok := h.relay.aggregate.TakeIfAtLeast(h.relay.cfg.MinSamplesPerBatch)
	if !ok {
		return nil
	}
	data, err := wire.EncodeBuffer(samples, stats)
	if err != nil {
		h.relay.aggregate.Requeue(samples)
		return err
	}
	if err := h.link.Send(data); err != nil {
		h.relay.aggregate.Requeue(samples)
		return err
	}
	metrics.BatchesForwardedTotal.Inc()
	metrics.SamplesForwardedTotal.Add(float64(len(samples)))
	metrics.BytesSentTotal.WithLabelValues(string(h.role)).Add(float64(len(data)))
	h.relay.publish(events.New(events.EventBatchForwarded, h.id, "batch forwarded to trainer", map[string]string{
		"samples": strconv.Itoa(len(samples)),
	}))
	h.log.Debug().Int("samples", len(samples)).Msg("forwarded batch to trainer")
	return nil
}

func (h *handler) teardown(reason string) {
	h.link.Close()
	h.relay.removeHandler(h.id)

	metrics.ConnectionsActive.WithLabelValues(string(h.role)).Dec()
	metrics.DisconnectsTotal.WithLabelValues(string(h.role), reason).Inc()

	disconnectedEvent := events.EventWorkerDisconnected
	if h.role == types.RoleTrainer {
		disconnectedEvent = events.EventTrainerDisconnected
	}
	h.relay.publish(events.New(disconnectedEvent, h.id, "connection closed", map[string]string{
		"reason": reason,
	}))
	h.log.Info().Str("reason", reason).Msg("connection closed")

	if reason == metrics.ReasonAckTimeout {
		h.relay.publish(events.New(events.EventAckTimeout, h.id, "ack deadline exceeded", nil))
	}
}

// disconnectReason maps an exchange-loop error to a metrics label.
func disconnectReason(err error) string {
	switch {
	case errors.Is(err, link.ErrAckTimeout):
		return metrics.ReasonAckTimeout
	case errors.Is(err, wire.ErrBadEnvelope),
		errors.Is(err, wire.ErrBadHeader),
		errors.Is(err, wire.ErrPayloadTooLarge):
		return metrics.ReasonBadPayload
	default:
		return metrics.ReasonConnLost
	}
}

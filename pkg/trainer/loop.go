package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/link"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/memory"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/types"
)

// Exchange is the slice of the client the training loop drives: stage
// weights out, collect received samples in.
type Exchange interface {
	Broadcast(blob []byte)
	RetrieveAndResetBuffer() ([]types.Sample, types.EpisodeStats)
}

// LoopConfig holds the training schedule.
type LoopConfig struct {
	BatchSize      int
	Epochs         int
	RoundsPerEpoch int
	// IdleWait is the pause between replay-memory checks while waiting for
	// enough samples to fill a batch.
	IdleWait  time.Duration
	ModelPath string
}

// Loop is the training-loop driver: once per round it drains the client's
// receive buffer into the replay memory, runs one learning step, and stages
// the updated parameters for broadcast. The model file is checkpointed at
// every epoch boundary.
type Loop struct {
	cfg      LoopConfig
	exchange Exchange
	pol      policy.Trainable
	mem      memory.Store
	logger   zerolog.Logger
}

// NewLoop assembles a training loop.
func NewLoop(cfg LoopConfig, exchange Exchange, pol policy.Trainable, mem memory.Store) *Loop {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 100 * time.Millisecond
	}
	return &Loop{
		cfg:      cfg,
		exchange: exchange,
		pol:      pol,
		mem:      mem,
		logger:   log.WithComponent("trainer_loop"),
	}
}

// Run executes the configured epochs and rounds. It returns early on
// context cancellation, on a learning failure, or on a checkpoint or
// storage failure; the latter are fatal for the run, not retried.
func (l *Loop) Run(ctx context.Context) error {
	for epoch := 1; epoch <= l.cfg.Epochs; epoch++ {
		for round := 1; round <= l.cfg.RoundsPerEpoch; round++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			loss, err := l.round(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return err
			}
			l.logger.Info().
				Int("epoch", epoch).
				Int("round", round).
				Float64("loss", loss).
				Int("memory", l.mem.Len()).
				Msg("training round complete")
		}
		if err := l.checkpoint(); err != nil {
			return err
		}
		stats := l.mem.Stats()
		l.logger.Info().
			Int("epoch", epoch).
			Float64("train_return", stats.TrainReturn).
			Float64("test_return", stats.TestReturn).
			Msg("epoch complete")
	}
	return nil
}

// round ingests pending samples, blocks until the replay memory can fill a
// batch, then learns and stages the new parameters.
func (l *Loop) round(ctx context.Context) (float64, error) {
	if err := l.ingest(); err != nil {
		return 0, err
	}
	for l.mem.Len() < l.cfg.BatchSize {
		if !link.Sleep(ctx, l.cfg.IdleWait) {
			return 0, ctx.Err()
		}
		if err := l.ingest(); err != nil {
			return 0, err
		}
	}

	batch, err := l.mem.SampleBatch(l.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	timer := metrics.NewTimer()
	loss, err := l.pol.Learn(batch)
	timer.ObserveDuration(metrics.TrainingRoundSeconds)
	if err != nil {
		return 0, fmt.Errorf("learning step failed: %w", err)
	}

	blob, err := l.pol.StateBytes()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize policy: %w", err)
	}
	l.exchange.Broadcast(blob)
	return loss, nil
}

// ingest moves everything the client received into the replay memory.
func (l *Loop) ingest() error {
	samples, stats := l.exchange.RetrieveAndResetBuffer()
	if len(samples) == 0 {
		return nil
	}
	if err := l.mem.Append(samples, stats); err != nil {
		return fmt.Errorf("failed to append to replay memory: %w", err)
	}
	metrics.BufferDepth.WithLabelValues("trainer_memory").Set(float64(l.mem.Len()))
	l.logger.Debug().Int("samples", len(samples)).Int("memory", l.mem.Len()).Msg("ingested samples")
	return nil
}

// checkpoint overwrites the model file with the current parameters.
func (l *Loop) checkpoint() error {
	if l.cfg.ModelPath == "" {
		return nil
	}
	blob, err := l.pol.StateBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize policy: %w", err)
	}
	if err := policy.SaveFile(l.cfg.ModelPath, blob); err != nil {
		return fmt.Errorf("failed to checkpoint model: %w", err)
	}
	l.logger.Info().Str("path", l.cfg.ModelPath).Msg("checkpointed model")
	return nil
}

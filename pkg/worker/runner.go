package worker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/droverml/drover/pkg/buffer"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/types"
)

// Env is the environment contract the runner drives. cartpole.Env
// implements it.
type Env interface {
	Reset() []float64
	Step(action int) (obs []float64, reward float64, terminated, truncated bool)
}

// Sink receives finished episodes and applies pending weights between them.
// *Client implements it.
type Sink interface {
	Stage(samples []types.Sample, stats types.EpisodeStats)
	ApplyPendingWeights(p policy.Policy) error
}

// RunnerConfig holds the episode-collection knobs.
type RunnerConfig struct {
	// MaxSamplesPerEpisode cuts an episode off regardless of the
	// environment's own limits. Zero means no extra bound.
	MaxSamplesPerEpisode int
	// TestEpisodeInterval runs a greedy evaluation episode every Nth
	// episode. Test episodes contribute statistics but no samples. Zero
	// disables them.
	TestEpisodeInterval int
	// BufferMaxLen caps the episode accumulation buffer.
	BufferMaxLen int
}

// Runner collects experience: it plays episodes against the environment
// with the live policy, stages each finished episode with the client, and
// applies any weights update that arrived in the meantime.
type Runner struct {
	cfg    RunnerConfig
	sink   Sink
	env    Env
	pol    policy.Policy
	local  *buffer.AggregationBuffer
	logger zerolog.Logger
}

// NewRunner assembles an episode runner.
func NewRunner(cfg RunnerConfig, sink Sink, env Env, pol policy.Policy) *Runner {
	return &Runner{
		cfg:    cfg,
		sink:   sink,
		env:    env,
		pol:    pol,
		local:  buffer.New(cfg.BufferMaxLen),
		logger: log.WithComponent("worker_runner"),
	}
}

// Run plays episodes until the context is canceled. Policy and model-file
// failures stop the run; everything transport-related is the client's
// problem.
func (r *Runner) Run(ctx context.Context) error {
	for episode := 1; ; episode++ {
		if ctx.Err() != nil {
			return nil
		}
		test := r.cfg.TestEpisodeInterval > 0 && episode%r.cfg.TestEpisodeInterval == 0

		ret, steps, err := r.episode(ctx, test)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			// partial episode, not worth staging
			return nil
		}

		mode := "train"
		if test {
			mode = "test"
		}
		metrics.EpisodesTotal.WithLabelValues(mode).Inc()
		metrics.EpisodeReturn.WithLabelValues(mode).Set(ret)
		r.logger.Info().
			Int("episode", episode).
			Str("mode", mode).
			Float64("return", ret).
			Int("steps", steps).
			Msg("episode complete")

		samples, stats := r.local.TakeAll()
		r.sink.Stage(samples, stats)
		if err := r.sink.ApplyPendingWeights(r.pol); err != nil {
			return err
		}
	}
}

// episode plays one episode to its end, appending samples to the local
// buffer unless it is an evaluation run.
func (r *Runner) episode(ctx context.Context, test bool) (float64, int, error) {
	obs := r.env.Reset()
	var ret float64
	steps := 0
	for {
		if ctx.Err() != nil {
			return ret, steps, nil
		}
		action, err := r.pol.Act(obs, test)
		if err != nil {
			return ret, steps, err
		}
		next, reward, terminated, truncated := r.env.Step(action)
		ret += reward
		steps++
		if !test {
			r.local.Append(types.Sample{
				Action:     []float64{float64(action)},
				Obs:        next,
				Reward:     reward,
				Terminated: terminated,
				Truncated:  truncated,
			})
		}
		obs = next
		if terminated || truncated {
			break
		}
		if r.cfg.MaxSamplesPerEpisode > 0 && steps >= r.cfg.MaxSamplesPerEpisode {
			break
		}
	}

	if test {
		r.local.RecordTestEpisode(ret, steps)
	} else {
		r.local.RecordTrainEpisode(ret, steps)
	}
	return ret, steps, nil
}

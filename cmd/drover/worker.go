package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/droverml/drover/pkg/cartpole"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/worker"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a rollout worker",
	Long: `Run a rollout worker: collect episodes from the environment with the
current policy, stream finished episodes to the relay, and apply weight
updates pushed back by the trainer.

Any number of workers can run against one relay. Episodes keep being
collected while the connection is down; samples are delivered once it
comes back.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("relay-host", "", "Host the relay runs on")
	workerCmd.Flags().String("model", "", "Path the current weights are saved to")
	workerCmd.Flags().Int64("seed", 0, "Environment seed (0 seeds from the clock)")

	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("relay-host"); host != "" {
		cfg.Worker.RelayHost = host
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Worker.ModelPath = model
	}
	seed, _ := cmd.Flags().GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	env := cartpole.New(seed)

	// Workers only run inference; the learning rate never applies
	pol := policy.NewLinear(cartpole.ObsDim, cartpole.Actions, 0, seed)
	if _, err := os.Stat(cfg.Worker.ModelPath); err == nil {
		if err := policy.LoadFile(pol, cfg.Worker.ModelPath); err != nil {
			return fmt.Errorf("failed to load model: %v", err)
		}
		fmt.Printf("✓ Resumed model from %s\n", cfg.Worker.ModelPath)
	}

	client := worker.New(worker.ClientConfig{
		RelayAddr:          cfg.WorkerRelayAddr(),
		ConnectTimeout:     cfg.Worker.ConnectTimeout,
		AckTimeout:         cfg.Worker.AckTimeout,
		RecvTimeout:        cfg.Worker.RecvTimeout,
		ReconnectWait:      cfg.Transport.ReconnectWait,
		LoopSleep:          cfg.Transport.LoopSleep,
		MinSamplesPerBatch: cfg.Worker.MinSamplesPerBatch,
		BufferMaxLen:       cfg.Buffer.MaxLen,
		ModelPath:          cfg.Worker.ModelPath,
		ModelHistoryDir:    cfg.Worker.ModelHistoryDir,
		ModelHistoryEvery:  cfg.Worker.ModelHistoryEvery,
		Wire:               wireOptions(cfg),
	})

	metrics.SetCritical("relay_link")
	client.Start()
	fmt.Printf("✓ Connecting to relay at %s\n", cfg.WorkerRelayAddr())

	runner := worker.NewRunner(worker.RunnerConfig{
		MaxSamplesPerEpisode: cfg.Worker.MaxSamplesPerEpisode,
		TestEpisodeInterval:  cfg.Worker.TestEpisodeInterval,
		BufferMaxLen:         cfg.Buffer.MaxLen,
	}, client, env, pol)

	errCh := make(chan error, 1)
	stopMetrics := startMetrics(cfg, errCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runner.Run(ctx)
	}()

	fmt.Println()
	fmt.Println("Worker is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-shutdownSignal():
		fmt.Println("\nShutting down...")
		cancel()
		<-doneCh
	case err := <-doneCh:
		if err != nil {
			runErr = fmt.Errorf("worker failed: %v", err)
		}
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		cancel()
		<-doneCh
	}

	client.Stop()
	stopMetrics()

	if runErr == nil {
		fmt.Println("✓ Shutdown complete")
	}
	return runErr
}

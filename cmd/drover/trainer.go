package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/droverml/drover/pkg/cartpole"
	"github.com/droverml/drover/pkg/memory"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/policy"
	"github.com/droverml/drover/pkg/trainer"
	"github.com/spf13/cobra"
)

var trainerCmd = &cobra.Command{
	Use:   "trainer",
	Short: "Run the training process",
	Long: `Run the trainer: connect to the relay, accumulate sample batches from
workers into replay memory, run training rounds, and broadcast updated
policy weights after every round.

Training runs for the configured number of epochs and exits. The model
file is checkpointed once per epoch and reloaded on the next start.`,
	RunE: runTrainer,
}

func init() {
	trainerCmd.Flags().String("relay-host", "", "Host the relay runs on")
	trainerCmd.Flags().Int("epochs", 0, "Number of epochs to train")
	trainerCmd.Flags().Int("rounds-per-epoch", 0, "Training rounds per epoch")
	trainerCmd.Flags().Int("batch-size", 0, "Samples per training batch")
	trainerCmd.Flags().String("model", "", "Path to the model checkpoint file")

	rootCmd.AddCommand(trainerCmd)
}

func runTrainer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("relay-host"); host != "" {
		cfg.Trainer.RelayHost = host
	}
	if epochs, _ := cmd.Flags().GetInt("epochs"); epochs > 0 {
		cfg.Trainer.Epochs = epochs
	}
	if rounds, _ := cmd.Flags().GetInt("rounds-per-epoch"); rounds > 0 {
		cfg.Trainer.RoundsPerEpoch = rounds
	}
	if batch, _ := cmd.Flags().GetInt("batch-size"); batch > 0 {
		cfg.Trainer.BatchSize = batch
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Trainer.ModelPath = model
	}

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	// Replay memory: disk-backed when a dataset path is configured, so
	// samples survive trainer restarts
	var mem memory.Store
	if cfg.Trainer.DatasetPath != "" {
		store, err := memory.NewBoltStore(
			filepath.Join(cfg.Trainer.DatasetPath, "replay.db"),
			cfg.Trainer.MemoryMaxLen,
		)
		if err != nil {
			return fmt.Errorf("failed to open replay store: %v", err)
		}
		defer store.Close()
		mem = store
		fmt.Printf("✓ Replay memory at %s (%d samples)\n", cfg.Trainer.DatasetPath, store.Len())
	} else {
		mem = memory.NewRingStore(cfg.Trainer.MemoryMaxLen)
		fmt.Println("✓ Replay memory in RAM")
	}

	pol := policy.NewLinear(cartpole.ObsDim, cartpole.Actions, cfg.Trainer.LearningRate, time.Now().UnixNano())
	if _, err := os.Stat(cfg.Trainer.ModelPath); err == nil {
		if err := policy.LoadFile(pol, cfg.Trainer.ModelPath); err != nil {
			return fmt.Errorf("failed to load model: %v", err)
		}
		fmt.Printf("✓ Resumed model from %s\n", cfg.Trainer.ModelPath)
	}

	client := trainer.New(trainer.ClientConfig{
		RelayAddr:      cfg.TrainerRelayAddr(),
		ConnectTimeout: cfg.Trainer.ConnectTimeout,
		AckTimeout:     cfg.Trainer.AckTimeout,
		RecvTimeout:    cfg.Trainer.RecvTimeout,
		ReconnectWait:  cfg.Transport.ReconnectWait,
		LoopSleep:      cfg.Transport.LoopSleep,
		BufferMaxLen:   cfg.Buffer.MaxLen,
		Wire:           wireOptions(cfg),
	})

	metrics.SetCritical("relay_link")
	client.Start()
	fmt.Printf("✓ Connecting to relay at %s\n", cfg.TrainerRelayAddr())

	loop := trainer.NewLoop(trainer.LoopConfig{
		BatchSize:      cfg.Trainer.BatchSize,
		Epochs:         cfg.Trainer.Epochs,
		RoundsPerEpoch: cfg.Trainer.RoundsPerEpoch,
		IdleWait:       cfg.Transport.LoopSleep,
		ModelPath:      cfg.Trainer.ModelPath,
	}, client, pol, mem)

	errCh := make(chan error, 1)
	stopMetrics := startMetrics(cfg, errCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- loop.Run(ctx)
	}()

	fmt.Println()
	fmt.Printf("Trainer is running (%d epochs x %d rounds). Press Ctrl+C to stop.\n",
		cfg.Trainer.Epochs, cfg.Trainer.RoundsPerEpoch)

	var runErr error
	select {
	case <-shutdownSignal():
		fmt.Println("\nShutting down...")
		cancel()
		<-doneCh
	case err := <-doneCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("training failed: %v", err)
		} else {
			fmt.Println("✓ Training complete")
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

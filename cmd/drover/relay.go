package main

import (
	"fmt"
	"os"

	"github.com/droverml/drover/pkg/events"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/relay"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay between workers and the trainer",
	Long: `Run the rendezvous server both sides connect to.

The relay listens on two ports: workers dial one, the trainer dials the
other. Sample batches from workers are merged into a shared buffer and
forwarded to the trainer; weight updates from the trainer are versioned
and pushed to every connected worker.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().String("bind-addr", "", "Address to bind both listeners to")
	relayCmd.Flags().Int("trainer-port", 0, "Port the trainer connects to")
	relayCmd.Flags().Int("worker-port", 0, "Port workers connect to")

	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("bind-addr"); addr != "" {
		cfg.Relay.BindAddr = addr
	}
	if port, _ := cmd.Flags().GetInt("trainer-port"); port > 0 {
		cfg.Relay.TrainerPort = port
	}
	if port, _ := cmd.Flags().GetInt("worker-port"); port > 0 {
		cfg.Relay.WorkerPort = port
	}

	broker := events.NewBroker()
	broker.Start()

	r := relay.New(relay.Config{
		BindAddr:           cfg.Relay.BindAddr,
		TrainerPort:        cfg.Relay.TrainerPort,
		WorkerPort:         cfg.Relay.WorkerPort,
		AcceptTimeout:      cfg.Relay.AcceptTimeout,
		MinSamplesPerBatch: cfg.Relay.MinSamplesPerBatch,
		AckTimeoutTrainer:  cfg.Relay.AckTimeoutTrainer,
		AckTimeoutWorker:   cfg.Relay.AckTimeoutWorker,
		BufferMaxLen:       cfg.Buffer.MaxLen,
		LoopSleep:          cfg.Transport.LoopSleep,
		Wire:               wireOptions(cfg),
	}, broker)

	if err := r.Start(); err != nil {
		broker.Stop()
		return fmt.Errorf("failed to start relay: %v", err)
	}
	fmt.Printf("✓ Relay listening (trainer %s, workers %s)\n", r.TrainerAddr(), r.WorkerAddr())

	// Mirror the event stream into the log
	sub := broker.Subscribe()
	go func() {
		logger := log.WithComponent("events")
		for ev := range sub {
			logger.Info().
				Str("type", string(ev.Type)).
				Str("conn_id", ev.ConnID).
				Msg(ev.Message)
		}
	}()

	metrics.SetCritical("trainer_listener", "worker_listener")
	collector := metrics.NewCollector(r)
	collector.Start()

	errCh := make(chan error, 1)
	stopMetrics := startMetrics(cfg, errCh)

	fmt.Println()
	fmt.Println("Relay is running. Press Ctrl+C to stop.")

	select {
	case <-shutdownSignal():
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	collector.Stop()
	stopMetrics()
	r.Stop()
	broker.Unsubscribe(sub)
	broker.Stop()

	fmt.Println("✓ Shutdown complete")
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/droverml/drover/pkg/config"
	"github.com/droverml/drover/pkg/log"
	"github.com/droverml/drover/pkg/metrics"
	"github.com/droverml/drover/pkg/wire"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - sample and weight transport for distributed training",
	Long: `Drover connects rollout workers to a central trainer over links that
are expected to drop. Workers stream experience samples up through a
relay, the trainer streams fresh policy weights back down, and every
connection reconnects forever with whatever it was carrying intact.

One binary runs all three roles: relay, trainer, and worker.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Drover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Drover version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads the configuration named by --config (defaults apply when
// the flag is empty) and initializes the global logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
		cfg.Log.JSON = true
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}

// wireOptions maps the transport section onto the frame codec knobs.
func wireOptions(cfg *config.Config) wire.Options {
	return wire.Options{
		HeaderWidth:       cfg.Transport.HeaderWidth,
		ChunkSize:         cfg.Transport.ChunkSize,
		MaxPayloadBytes:   cfg.Transport.MaxPayloadBytes,
		IOTimeout:         cfg.Transport.IOTimeout,
		WriteReadyTimeout: cfg.Transport.WriteReadyTimeout,
		PollInterval:      cfg.Transport.PollInterval,
	}
}

// startMetrics starts the Prometheus and health listener when an address is
// configured. The returned stop function is a no-op otherwise.
func startMetrics(cfg *config.Config, errCh chan<- error) func() {
	if cfg.Metrics.Addr == "" {
		return func() {}
	}

	srv := metrics.NewServer(cfg.Metrics.Addr)
	srv.Start(errCh)
	fmt.Printf("✓ Metrics listening on %s\n", cfg.Metrics.Addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}
}

// shutdownSignal returns a channel that fires on SIGINT or SIGTERM.
func shutdownSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/droverml/drover/pkg/config"
	"github.com/droverml/drover/pkg/health"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe a running deployment",
	Long: `Probe the relay ports and, when configured, the metrics endpoint of a
running deployment and report what answers.

Exits nonzero when any probe fails.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	probes := []health.Probe{
		{Name: "relay trainer port", Checker: health.NewTCPChecker(cfg.TrainerRelayAddr())},
		{Name: "relay worker port", Checker: health.NewTCPChecker(cfg.WorkerRelayAddr())},
	}
	if cfg.Metrics.Addr != "" {
		probes = append(probes, health.Probe{
			Name:    "metrics endpoint",
			Checker: health.NewHTTPChecker(healthzURL(cfg)),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := health.Run(ctx, probes)
	for _, e := range report.Entries {
		mark := "✓"
		if !e.Result.Healthy {
			mark = "✗"
		}
		fmt.Printf("%s %-20s [%s] %s (%s)\n",
			mark, e.Name, e.Type, e.Result.Message, e.Result.Duration.Round(time.Millisecond))
	}

	if !report.Healthy() {
		return fmt.Errorf("one or more probes failed")
	}
	fmt.Println("All probes healthy")
	return nil
}

// healthzURL builds the health URL for the configured metrics address. A
// bare ":port" is probed on localhost.
func healthzURL(cfg *config.Config) string {
	addr := cfg.Metrics.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return fmt.Sprintf("http://%s/healthz", addr)
}

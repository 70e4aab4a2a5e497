package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/schedule"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ingestion and the freshness watchdog on their schedules",
		Long: `Runs continuously: an ingestion pass at the configured cadence and a
freshness check at the configured interval. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := setup(ctx, setupOptions{notifier: true, telemetry: true})
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline := a.cfg.Pipeline.WithDefaults()
	ing := a.newIngestor()
	interval := schedule.Interval(pipeline.CadencePerMinute)
	ingestLoop := schedule.NewLoop("ingestor", interval, func(ctx context.Context) {
		// Each pass gets the ingest budget but never outlives shutdown.
		passCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
		defer cancel()
		if _, err := ing.Run(passCtx); err != nil {
			a.logger.Error("ingestor: pass aborted", "error", err)
		}
	}, a.logger)
	wd := watchdog.New(a.checkOptions(), pipeline.CheckInterval())

	ingestLoop.Start(ctx)
	wd.Start(ctx)
	color.Green("metricwatch running (ingest every %s, freshness every %s)", interval, pipeline.CheckInterval())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	color.Yellow("\nReceived %s, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	ingestLoop.Stop(shutdownCtx)
	wd.Stop(shutdownCtx)

	color.Green("Stopped gracefully")
	return nil
}

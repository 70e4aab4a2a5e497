package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "metricwatch",
		Short: "Track crypto market metrics and alert on spikes",
		Long: `metricwatch polls market summaries for every tracked (market, pair, metric),
stores the values, emails subscribers when a value spikes above its recent
mean, and alerts operators when fresh data stops arriving.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&commands.ConfigDir, "config-dir", ".", "Directory containing metricwatch.yaml")

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewMigrateCmd(),
		commands.NewIngestCmd(),
		commands.NewFreshnessCmd(),
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewSubscribeCmd(),
		commands.NewUnsubscribeCmd(),
		commands.NewListCmd(),
		commands.NewUserCmd(),
		commands.NewMetricTypeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

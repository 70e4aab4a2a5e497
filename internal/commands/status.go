package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/internal/schedule"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked metrics and data freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a, err := setup(ctx, setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return showStatus(ctx, os.Stdout, a.store, a.cfg.Pipeline.WithDefaults(), time.Now())
		},
	}
}

func showStatus(ctx context.Context, w io.Writer, store provider.Store, pipeline types.PipelineConfig, now time.Time) error {
	active, err := store.ListActiveMetrics(ctx)
	if err != nil {
		return fmt.Errorf("listing tracked metrics: %w", err)
	}

	bold := color.New(color.Bold)
	if len(active) == 0 {
		_, _ = fmt.Fprintln(w, "No metrics are being tracked.")
	} else {
		_, _ = bold.Fprintln(w, "Tracked Metrics:")
		for _, m := range active {
			_, _ = fmt.Fprintf(w, "  %-6d %-12s %-12s %-16s path=%v\n", m.ID, m.Market, m.Pair, m.MetricName, m.AccessPath)
		}
	}

	latest, err := store.LatestValueTime(ctx)
	if err != nil {
		return fmt.Errorf("reading latest value: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	if latest == nil {
		_, _ = fmt.Fprintln(w, color.YellowString("  Latest value: none"))
		return nil
	}
	age := now.Sub(*latest).Round(time.Second)
	line := fmt.Sprintf("  Latest value: %s (%s ago)", latest.Format(time.RFC3339), age)
	if age > schedule.ExpectedGap(pipeline.CadencePerMinute, pipeline.FreshnessThresholdFactor) {
		_, _ = fmt.Fprintln(w, color.RedString("%s STALE", line))
	} else {
		_, _ = fmt.Fprintln(w, color.GreenString("%s", line))
	}
	return nil
}

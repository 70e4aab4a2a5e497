package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/ingestor"
	"github.com/dwsmith1983/metricwatch/internal/marketdata"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const (
	ingestTimeout    = 10 * time.Minute
	freshnessTimeout = 30 * time.Second
)

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass over every tracked metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
			defer cancel()
			a, err := setup(ctx, setupOptions{notifier: true, telemetry: true})
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.newIngestor().Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(os.Stdout, sum); err != nil {
					return err
				}
			} else {
				printSummary(os.Stdout, sum)
			}
			return sum.Err()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}

// NewFreshnessCmd creates the freshness command.
func NewFreshnessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freshness",
		Short: "Check that metric values are still arriving",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), freshnessTimeout)
			defer cancel()
			a, err := setup(ctx, setupOptions{notifier: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res := watchdog.CheckFreshness(ctx, a.checkOptions())
			if err := printJSON(os.Stdout, freshnessView(res)); err != nil {
				return err
			}
			return res.Err
		},
	}
}

func (a *app) newIngestor() *ingestor.Ingestor {
	client := marketdata.FromConfig(a.cfg.MarketData, a.logger)
	return ingestor.New(ingestor.Options{
		Store:      a.store,
		NewFetcher: func() ingestor.Fetcher { return client.Session() },
		Notifier:   a.notifier,
		Locker:     a.locker,
		Logger:     a.logger,
		Pipeline:   a.cfg.Pipeline,
		Workers:    a.cfg.MarketData.Workers,
		OpsEmail:   a.cfg.Alerts.OpsEmail,
	})
}

func (a *app) checkOptions() watchdog.CheckOptions {
	return watchdog.CheckOptions{
		Store:    a.store,
		Notifier: a.notifier,
		Locker:   a.locker,
		Logger:   a.logger,
		Pipeline: a.cfg.Pipeline,
		OpsEmail: a.cfg.Alerts.OpsEmail,
	}
}

func printSummary(w io.Writer, sum *ingestor.RunSummary) {
	_, _ = fmt.Fprintf(w, "Run %s finished in %s\n", sum.RunID, sum.Elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  processed=%d succeeded=%d duplicates=%d pruned=%d retired=%d\n",
		sum.Processed, sum.Succeeded, sum.Duplicates, sum.Pruned, sum.Retired)
	_, _ = fmt.Fprintf(w, "  alerts queued=%d sent=%d failed=%d\n", sum.AlertsQueued, sum.AlertsSent, sum.AlertsFailed)
	for _, f := range sum.Failures {
		_, _ = fmt.Fprintln(w, color.RedString("  ✗ %s %s/%s step %d: %s", f.Metric, f.Market, f.Pair, f.Step, f.Message))
	}
	if sum.Slow {
		_, _ = fmt.Fprintln(w, color.YellowString("  ⚠ pass ran slow"))
	}
}

type freshnessReport struct {
	Status        types.FreshnessStatus `json:"status"`
	Subscriptions int64                 `json:"subscriptions"`
	Latest        *time.Time            `json:"latest,omitempty"`
	GapSeconds    float64               `json:"gapSeconds,omitempty"`
	BoundSeconds  float64               `json:"boundSeconds"`
	Alerted       bool                  `json:"alerted"`
	Error         string                `json:"error,omitempty"`
}

func freshnessView(res watchdog.FreshnessResult) freshnessReport {
	r := freshnessReport{
		Status:        res.Status,
		Subscriptions: res.Subscriptions,
		Latest:        res.Latest,
		GapSeconds:    res.Gap.Seconds(),
		BoundSeconds:  res.Bound.Seconds(),
		Alerted:       res.Alerted,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	return r
}

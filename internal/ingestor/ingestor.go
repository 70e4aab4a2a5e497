// Package ingestor runs one ingestion pass over every actively tracked metric:
// fetch, persist, evaluate, then prune history and flush alerts.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/metricwatch/internal/alert"
	"github.com/dwsmith1983/metricwatch/internal/anomaly"
	"github.com/dwsmith1983/metricwatch/internal/metrics"
	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/internal/schedule"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const (
	defaultMetricTimeout = 30 * time.Second
	slowAlertBucket      = time.Hour
	slowAlertLockTTL     = 2 * time.Hour
)

// Fetcher resolves the current value of one metric from the market-data API.
type Fetcher interface {
	Value(ctx context.Context, market, pair string, path []string) (float64, error)
}

// Options configures an Ingestor.
type Options struct {
	Store provider.Store
	// NewFetcher returns the fetcher for one pass, so summaries can be
	// memoized per pass.
	NewFetcher    func() Fetcher
	Notifier      alert.Notifier
	Locker        provider.Locker // optional; dedups running-slow alerts
	Logger        *slog.Logger
	Pipeline      types.PipelineConfig
	Workers       int
	MetricTimeout time.Duration // budget for all steps of one metric
	OpsEmail      string
	// Now is read once at the start and once at the end of a pass.
	Now func() time.Time
}

// Ingestor runs ingestion passes.
type Ingestor struct {
	opts   Options
	params anomaly.Params
	tracer trace.Tracer
}

// New creates an Ingestor.
func New(opts Options) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = types.DefaultMarketDataWorkers
	}
	if opts.MetricTimeout <= 0 {
		opts.MetricTimeout = defaultMetricTimeout
	}
	opts.Pipeline = opts.Pipeline.WithDefaults()
	return &Ingestor{
		opts:   opts,
		params: anomaly.ParamsFromConfig(opts.Pipeline),
		tracer: otel.Tracer(metrics.Scope),
	}
}

type metricResult struct {
	inserted bool
	failure  *MetricFailure
	alert    *types.Alert
}

// Run executes one pass. The returned error is non-nil only when the pass
// could not start; per-metric failures are reported in the summary.
func (i *Ingestor) Run(ctx context.Context) (*RunSummary, error) {
	start := i.opts.Now()
	sum := &RunSummary{RunID: ulid.Make().String(), StartedAt: start.UTC()}
	logger := i.opts.Logger.With("runId", sum.RunID)

	ctx, span := i.tracer.Start(ctx, "ingestor.Run", trace.WithAttributes(attribute.String("run.id", sum.RunID)))
	defer span.End()
	metrics.IngestRuns.Add(ctx, 1)

	retired, err := i.opts.Store.RetireSubscriptions(ctx, start.UTC())
	if err != nil {
		sum.UpkeepErr = fmt.Errorf("retiring subscriptions: %w", err)
		logger.Error("ingestor: upkeep failed", "error", err)
	} else if retired > 0 {
		sum.Retired = retired
		logger.Info("ingestor: retired subscriptions of retired metric types", "count", retired)
	}

	active, err := i.opts.Store.ListActiveMetrics(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing active metrics")
		return sum, fmt.Errorf("listing active metrics: %w", err)
	}

	results := i.processAll(ctx, active, start)
	var queued []types.Alert
	for _, res := range results {
		sum.Processed++
		switch {
		case res.failure != nil:
			sum.Failures = append(sum.Failures, *res.failure)
			metrics.MetricFailures.Add(ctx, 1, metrics.Kind(string(res.failure.Kind)))
		default:
			sum.Succeeded++
			if res.inserted {
				metrics.ValuesInserted.Add(ctx, 1)
			} else {
				sum.Duplicates++
			}
		}
		if res.alert != nil {
			queued = append(queued, *res.alert)
		}
	}
	metrics.MetricsProcessed.Add(ctx, int64(sum.Processed))

	cutoff := start.UTC().Add(-i.opts.Pipeline.Lookback())
	pruned, err := i.opts.Store.PruneValues(ctx, cutoff)
	if err != nil {
		sum.PruneErr = fmt.Errorf("pruning values before %s: %w", cutoff.Format(time.RFC3339), err)
		logger.Error("ingestor: prune failed", "error", err)
	} else {
		sum.Pruned = pruned
		metrics.ValuesPruned.Add(ctx, pruned)
	}

	sum.AlertsQueued = len(queued)
	metrics.AlertsQueued.Add(ctx, int64(len(queued)))
	i.flushAlerts(ctx, logger, queued, sum)

	sum.Elapsed = i.opts.Now().Sub(start)
	metrics.RunDuration.Record(ctx, sum.Elapsed.Seconds())
	i.checkSlowness(ctx, logger, sum)

	span.SetAttributes(
		attribute.Int("metrics.processed", sum.Processed),
		attribute.Int("metrics.failed", len(sum.Failures)),
		attribute.Int64("values.pruned", sum.Pruned),
	)
	if err := sum.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	logger.Info("ingestor: run complete",
		"processed", sum.Processed,
		"succeeded", sum.Succeeded,
		"failed", len(sum.Failures),
		"duplicates", sum.Duplicates,
		"pruned", sum.Pruned,
		"alertsQueued", sum.AlertsQueued,
		"alertsSent", sum.AlertsSent,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

// processAll runs every metric through the bounded worker pool. Results are
// positional so no locking is needed.
func (i *Ingestor) processAll(ctx context.Context, active []types.ActiveMetric, start time.Time) []metricResult {
	results := make([]metricResult, len(active))
	if len(active) == 0 {
		return results
	}
	var fetcher Fetcher
	if i.opts.NewFetcher != nil {
		fetcher = i.opts.NewFetcher()
	}

	var g errgroup.Group
	g.SetLimit(i.opts.Workers)
	for idx := range active {
		g.Go(func() error {
			results[idx] = i.processMetric(ctx, fetcher, active[idx], start)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// processMetric runs the numbered steps for one metric. Any error or panic is
// contained here and reported with the step it happened in.
func (i *Ingestor) processMetric(ctx context.Context, fetcher Fetcher, m types.ActiveMetric, start time.Time) (res metricResult) {
	step := StepFetch
	logger := i.opts.Logger.With("trackedMetricId", m.ID, "market", m.Market, "pair", m.Pair, "metric", m.MetricName)

	ctx, cancel := context.WithTimeout(ctx, i.opts.MetricTimeout)
	defer cancel()

	fail := func(err error) metricResult {
		kind := mwerr.KindOf(err)
		if kind == mwerr.KindInternal && errors.Is(err, context.DeadlineExceeded) {
			kind = mwerr.KindTimeout
		}
		logger.Warn("ingestor: metric failed", "step", step, "kind", kind, "error", err)
		return metricResult{failure: &MetricFailure{
			TrackedMetricID: m.ID,
			Market:          m.Market,
			Pair:            m.Pair,
			Metric:          m.MetricName,
			Step:            step,
			Kind:            kind,
			Err:             err,
			Message:         err.Error(),
		}}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("ingestor: panic in metric step", "step", step, "panic", r, "stack", string(debug.Stack()))
			res = fail(mwerr.New(mwerr.KindInternal, "panic: %v", r))
		}
	}()

	if fetcher == nil {
		return fail(mwerr.New(mwerr.KindInternal, "no fetcher configured"))
	}
	value, err := fetcher.Value(ctx, m.Market, m.Pair, m.AccessPath)
	if err != nil {
		return fail(err)
	}

	step = StepPersist
	queriedAt := schedule.TruncateMinute(start)
	inserted, err := i.opts.Store.InsertValue(ctx, types.MetricValue{
		TrackedMetricID: m.ID,
		Value:           value,
		QueriedAt:       queriedAt,
	})
	if err != nil {
		return fail(err)
	}
	res.inserted = inserted
	if !inserted {
		// Another tick already recorded this minute and evaluated it.
		logger.Debug("ingestor: value for minute already recorded", "queriedAt", queriedAt)
		return res
	}

	step = StepWindow
	window, err := i.opts.Store.WindowStats(ctx, m.ID, queriedAt.Add(-i.opts.Pipeline.AlertLookback()), queriedAt)
	if err != nil {
		return fail(err)
	}

	step = StepEvaluate
	d := anomaly.Evaluate(value, window, i.params)
	if d.Triggered {
		a := spikeAlert(m, d, i.params, start)
		res.alert = &a
		logger.Info("ingestor: spike detected", "value", d.Value, "previousMean", d.PreviousMean)
	}
	return res
}

// flushAlerts emails every active subscriber of each alerted metric once.
func (i *Ingestor) flushAlerts(ctx context.Context, logger *slog.Logger, queued []types.Alert, sum *RunSummary) {
	if len(queued) == 0 {
		return
	}
	if i.opts.Notifier == nil {
		logger.Warn("ingestor: alerts queued but no notifier configured", "count", len(queued))
		return
	}
	for _, a := range queued {
		subs, err := i.opts.Store.ListSubscribers(ctx, a.TrackedMetricID)
		if err != nil {
			logger.Error("ingestor: listing subscribers failed", "trackedMetricId", a.TrackedMetricID, "error", err)
			sum.AlertsFailed++
			continue
		}
		for _, s := range subs {
			if err := alert.Deliver(ctx, i.opts.Notifier, a, s.Email); err != nil {
				logger.Error("ingestor: alert delivery failed", "trackedMetricId", a.TrackedMetricID, "userId", s.UserID, "error", err)
				sum.AlertsFailed++
				metrics.AlertsFailed.Add(ctx, 1)
				continue
			}
			sum.AlertsSent++
			metrics.AlertsSent.Add(ctx, 1)
		}
	}
}

// checkSlowness sends one operational alert when the pass took longer than
// the configured fraction of the cadence interval. Errors are logged only.
func (i *Ingestor) checkSlowness(ctx context.Context, logger *slog.Logger, sum *RunSummary) {
	threshold := time.Duration(i.opts.Pipeline.SlownessFraction * float64(schedule.Interval(i.opts.Pipeline.CadencePerMinute)))
	if sum.Elapsed <= threshold {
		return
	}
	sum.Slow = true
	metrics.SlowRuns.Add(ctx, 1)
	logger.Warn("ingestor: running slow", "elapsed", sum.Elapsed, "threshold", threshold)

	if i.opts.Notifier == nil || i.opts.OpsEmail == "" {
		return
	}
	if i.opts.Locker != nil {
		key := schedule.SlownessLockKey(sum.StartedAt, slowAlertBucket)
		ok, err := i.opts.Locker.AcquireLock(ctx, key, slowAlertLockTTL)
		if err != nil {
			logger.Warn("ingestor: slowness dedup lock failed, sending anyway", "error", err)
		} else if !ok {
			logger.Debug("ingestor: slowness alert already sent this bucket", "key", key)
			return
		}
	}
	if err := alert.Deliver(ctx, i.opts.Notifier, slowAlert(sum, threshold), i.opts.OpsEmail); err != nil {
		logger.Error("ingestor: slowness alert failed", "error", err)
		metrics.AlertsFailed.Add(ctx, 1)
		return
	}
	metrics.AlertsSent.Add(ctx, 1)
}

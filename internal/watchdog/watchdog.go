// Package watchdog detects stale data: when ingestion stops writing values
// while users are still subscribed, nothing else in the pipeline notices.
// The watchdog independently compares the newest recorded value against the
// cadence-derived gap bound and alerts the ops address.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/metricwatch/internal/alert"
	"github.com/dwsmith1983/metricwatch/internal/metrics"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/internal/schedule"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const (
	defaultDedupWindow = time.Hour
	freshnessSubject   = "ERROR: Data Failing Freshness Probe"
)

// CheckOptions configures a single freshness probe.
type CheckOptions struct {
	Store    provider.Store
	Notifier alert.Notifier
	Locker   provider.Locker // optional; one alert per DedupWindow
	Logger   *slog.Logger
	Now      time.Time // injectable for testing
	Pipeline types.PipelineConfig
	OpsEmail string
	// DedupWindow is the bucket width for Locker dedup. Defaults to 1h.
	DedupWindow time.Duration
}

// FreshnessResult is the outcome of one probe.
type FreshnessResult struct {
	Status        types.FreshnessStatus
	Subscriptions int64
	Latest        *time.Time
	Gap           time.Duration
	Bound         time.Duration
	Alerted       bool
	Err           error
}

// CheckFreshness runs one probe. It never returns an error: evaluation
// failures are logged and reported as FreshnessUnknown without alerting.
func CheckFreshness(ctx context.Context, opts CheckOptions) FreshnessResult {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	cfg := opts.Pipeline.WithDefaults()
	now := opts.Now.UTC()
	metrics.FreshnessChecks.Add(ctx, 1)

	res := FreshnessResult{Bound: schedule.ExpectedGap(cfg.CadencePerMinute, cfg.FreshnessThresholdFactor)}

	n, err := opts.Store.CountSubscriptionsCreatedBefore(ctx, now.Add(-cfg.GracePeriod()))
	if err != nil {
		return unknown(opts.Logger, res, fmt.Errorf("counting subscriptions: %w", err))
	}
	res.Subscriptions = n
	if n == 0 {
		res.Status = types.FreshnessNoSubscriptions
		opts.Logger.Debug("watchdog: no subscriptions old enough to judge freshness", "grace", cfg.GracePeriod())
		return res
	}

	latest, err := opts.Store.LatestValueTime(ctx)
	if err != nil {
		return unknown(opts.Logger, res, fmt.Errorf("reading latest value time: %w", err))
	}
	res.Latest = latest
	if latest != nil {
		res.Gap = now.Sub(*latest)
		if res.Gap <= res.Bound {
			res.Status = types.FreshnessFresh
			return res
		}
	}

	res.Status = types.FreshnessStale
	opts.Logger.Warn("watchdog: data is stale", "gap", res.Gap, "bound", res.Bound, "hasValues", latest != nil)
	res.Alerted = sendStaleAlert(ctx, opts, res, now)
	return res
}

func unknown(logger *slog.Logger, res FreshnessResult, err error) FreshnessResult {
	logger.Error("watchdog: freshness check failed", "error", err)
	res.Status = types.FreshnessUnknown
	res.Err = err
	return res
}

func sendStaleAlert(ctx context.Context, opts CheckOptions, res FreshnessResult, now time.Time) bool {
	if opts.Notifier == nil || opts.OpsEmail == "" {
		opts.Logger.Warn("watchdog: stale data but no ops recipient configured")
		return false
	}
	if opts.Locker != nil {
		key := schedule.FreshnessLockKey(now, opts.DedupWindow)
		ok, err := opts.Locker.AcquireLock(ctx, key, 2*opts.DedupWindow)
		if err != nil {
			opts.Logger.Warn("watchdog: dedup lock failed, sending anyway", "error", err)
		} else if !ok {
			opts.Logger.Debug("watchdog: freshness alert already sent this window", "key", key)
			return false
		}
	}
	if err := alert.Deliver(ctx, opts.Notifier, staleAlert(res, now), opts.OpsEmail); err != nil {
		opts.Logger.Error("watchdog: freshness alert failed", "error", err)
		metrics.AlertsFailed.Add(ctx, 1)
		return false
	}
	metrics.FreshnessAlerts.Add(ctx, 1)
	return true
}

func staleAlert(res FreshnessResult, now time.Time) types.Alert {
	details := map[string]interface{}{
		"subscriptions": res.Subscriptions,
		"boundSeconds":  res.Bound.Seconds(),
	}
	if res.Latest != nil {
		details["gapSeconds"] = res.Gap.Seconds()
		details["latest"] = res.Latest.UTC().Format(time.RFC3339)
	}
	return types.Alert{
		AlertID:   ulid.Make().String(),
		Level:     types.AlertLevelError,
		Category:  types.CategoryDataStale,
		Subject:   freshnessSubject,
		Message:   staleBody(res),
		Details:   details,
		Timestamp: now.UTC(),
	}
}

func staleBody(res FreshnessResult) string {
	if res.Latest == nil {
		return fmt.Sprintf(`Hello,

%d subscription(s) are past their grace period but no metric values have
been recorded at all. Please review and fix.

Best,
CryptoDataBot`, res.Subscriptions)
	}
	elapsed := int64(res.Gap / time.Second)
	bound := res.Bound.Seconds()
	over := math.Round((res.Gap.Seconds()-bound)/bound*10000) / 100
	return fmt.Sprintf(`Hello,

Our query shows that the latest metric was added to the database %d seconds
ago, and this is above the threshold by %g%%. Please review and fix.

Best,
CryptoDataBot`, elapsed, over)
}

// Watchdog runs CheckFreshness on a regular interval.
type Watchdog struct {
	opts CheckOptions
	loop *schedule.Loop
}

// New creates a Watchdog polling every interval.
func New(opts CheckOptions, interval time.Duration) *Watchdog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w := &Watchdog{opts: opts}
	w.loop = schedule.NewLoop("watchdog", interval, w.scan, opts.Logger)
	return w
}

// Start begins the watchdog polling loop.
func (w *Watchdog) Start(ctx context.Context) { w.loop.Start(ctx) }

// Stop signals the watchdog to stop and waits for it to finish.
func (w *Watchdog) Stop(ctx context.Context) { w.loop.Stop(ctx) }

func (w *Watchdog) scan(ctx context.Context) {
	opts := w.opts
	opts.Now = time.Time{}
	CheckFreshness(ctx, opts)
}

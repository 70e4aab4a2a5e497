// Package registrar creates and removes (user, market, pair, metric) tracking
// relationships.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Options configures a Registrar.
type Options struct {
	Store  provider.Store
	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

// Registrar owns the Subscription lifecycle.
type Registrar struct {
	store  provider.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registrar.
func New(opts Options) *Registrar {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registrar{store: opts.Store, logger: opts.Logger, now: opts.Now}
}

// Subscribe starts tracking (market, pair, metricName) for userID. An existing
// active subscription yields StatusAlreadyTracking.
func (r *Registrar) Subscribe(ctx context.Context, userID int64, market, pair, metricName string) (types.Result, error) {
	key := provider.SubscriptionKey{UserID: userID, Market: market, Pair: pair, MetricName: metricName}
	if err := checkKey(key); err != nil {
		return failure(err), err
	}

	var out provider.SubscribeOutcome
	err := retryConflict(func() error {
		var err error
		out, err = r.store.Subscribe(ctx, key, r.now().UTC())
		return err
	})
	if err != nil {
		r.logFailure("subscribe", key, err)
		return failure(err), err
	}

	if !out.Created {
		return types.Result{
			Status:          types.StatusAlreadyTracking,
			Code:            http.StatusOK,
			Message:         fmt.Sprintf("already tracking %s", describe(key)),
			TrackedMetricID: out.TrackedMetricID,
		}, nil
	}
	r.logger.Info("registrar: subscribed", "userId", userID, "trackedMetricId", out.TrackedMetricID,
		"market", market, "pair", pair, "metric", metricName)
	return types.Result{
		Status:          types.StatusCreated,
		Code:            http.StatusCreated,
		Message:         fmt.Sprintf("tracking %s", describe(key)),
		TrackedMetricID: out.TrackedMetricID,
	}, nil
}

// Unsubscribe soft-deletes the active subscription. The tracked metric and
// its history are kept. No active subscription yields StatusNotTracking.
func (r *Registrar) Unsubscribe(ctx context.Context, userID int64, market, pair, metricName string) (types.Result, error) {
	key := provider.SubscriptionKey{UserID: userID, Market: market, Pair: pair, MetricName: metricName}
	if err := checkKey(key); err != nil {
		return failure(err), err
	}

	var out provider.UnsubscribeOutcome
	err := retryConflict(func() error {
		var err error
		out, err = r.store.Unsubscribe(ctx, key, r.now().UTC())
		return err
	})
	if err != nil {
		r.logFailure("unsubscribe", key, err)
		return failure(err), err
	}

	if !out.Removed {
		return types.Result{
			Status:          types.StatusNotTracking,
			Code:            http.StatusOK,
			Message:         fmt.Sprintf("not tracking %s", describe(key)),
			TrackedMetricID: out.TrackedMetricID,
		}, nil
	}
	r.logger.Info("registrar: unsubscribed", "userId", userID, "trackedMetricId", out.TrackedMetricID)
	return types.Result{
		Status:          types.StatusRemoved,
		Code:            http.StatusOK,
		Message:         fmt.Sprintf("stopped tracking %s", describe(key)),
		TrackedMetricID: out.TrackedMetricID,
	}, nil
}

// RetireSubscriptions soft-deletes every active subscription whose metric
// type has been retired and returns how many were closed.
func (r *Registrar) RetireSubscriptions(ctx context.Context) (int64, error) {
	n, err := r.store.RetireSubscriptions(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("retiring subscriptions: %w", err)
	}
	if n > 0 {
		r.logger.Info("registrar: retired subscriptions of retired metric types", "count", n)
	}
	return n, nil
}

func (r *Registrar) logFailure(op string, key provider.SubscriptionKey, err error) {
	if mwerr.IsValidation(err) {
		r.logger.Debug("registrar: "+op+" rejected", "userId", key.UserID, "metric", key.MetricName, "error", err)
		return
	}
	r.logger.Error("registrar: "+op+" failed", "userId", key.UserID, "market", key.Market,
		"pair", key.Pair, "metric", key.MetricName, "error", err)
}

// retryConflict runs fn and retries it once when it loses a constraint race.
func retryConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, mwerr.ErrStoreConflict) {
		err = fn()
	}
	return err
}

func checkKey(key provider.SubscriptionKey) error {
	if key.UserID < 1 {
		return mwerr.New(mwerr.KindInvalidUser, "invalid user id %d", key.UserID)
	}
	if strings.TrimSpace(key.MetricName) == "" {
		return mwerr.New(mwerr.KindInvalidMetric, "metric name is required")
	}
	if strings.TrimSpace(key.Market) == "" || strings.TrimSpace(key.Pair) == "" {
		return mwerr.New(mwerr.KindInvalidMetric, "market and pair are required")
	}
	return nil
}

// failure converts err into a failed Result. Validation errors map to 400,
// everything else to 500.
func failure(err error) types.Result {
	code := http.StatusInternalServerError
	if mwerr.IsValidation(err) {
		code = http.StatusBadRequest
	}
	return types.Result{Status: types.StatusFailed, Code: code, Message: err.Error()}
}

func describe(key provider.SubscriptionKey) string {
	return fmt.Sprintf("%s for %s on %s", key.MetricName, key.Pair, key.Market)
}

// Package providertest provides shared conformance tests for provider.Store
// and provider.Locker implementations. Call RunStore or RunLocker from a test
// function to verify a backend satisfies the behavioral contract.
package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// StoreFactory returns an empty store. It is called once per subtest.
type StoreFactory func(t *testing.T) provider.Store

// RunStore runs the complete store conformance suite as subtests.
func RunStore(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("UserLifecycle", func(t *testing.T) { TestUserLifecycle(t, newStore(t)) })
	t.Run("MetricTypeLifecycle", func(t *testing.T) { TestMetricTypeLifecycle(t, newStore(t)) })
	t.Run("SubscribeIdempotent", func(t *testing.T) { TestSubscribeIdempotent(t, newStore(t)) })
	t.Run("SubscribeSharesTrackedMetric", func(t *testing.T) { TestSubscribeSharesTrackedMetric(t, newStore(t)) })
	t.Run("SubscribeValidation", func(t *testing.T) { TestSubscribeValidation(t, newStore(t)) })
	t.Run("UnsubscribeNotTracking", func(t *testing.T) { TestUnsubscribeNotTracking(t, newStore(t)) })
	t.Run("Resubscribe", func(t *testing.T) { TestResubscribe(t, newStore(t)) })
	t.Run("RetireSubscriptions", func(t *testing.T) { TestRetireSubscriptions(t, newStore(t)) })
	t.Run("CountSubscriptionsCreatedBefore", func(t *testing.T) { TestCountSubscriptionsCreatedBefore(t, newStore(t)) })
	t.Run("InsertValueDuplicateMinute", func(t *testing.T) { TestInsertValueDuplicateMinute(t, newStore(t)) })
	t.Run("WindowStatsHalfOpen", func(t *testing.T) { TestWindowStatsHalfOpen(t, newStore(t)) })
	t.Run("PruneValues", func(t *testing.T) { TestPruneValues(t, newStore(t)) })
	t.Run("LatestValueTime", func(t *testing.T) { TestLatestValueTime(t, newStore(t)) })
	t.Run("PeerVolatility", func(t *testing.T) { TestPeerVolatility(t, newStore(t)) })
	t.Run("SeriesByIDs", func(t *testing.T) { TestSeriesByIDs(t, newStore(t)) })
}

// RunLocker runs the locker conformance suite. Set expiry to also verify
// that locks lapse after their TTL; in-memory lockers may skip it.
func RunLocker(t *testing.T, locker provider.Locker, expiry bool) {
	t.Helper()

	t.Run("Locking", func(t *testing.T) { TestLocking(t, locker) })
	if expiry {
		t.Run("LockExpiry", func(t *testing.T) { TestLockExpiry(t, locker) })
	}
}

// base is a fixed, minute-aligned instant all suites measure from.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seed creates one user and one metric type and returns the user id.
func seed(t *testing.T, s provider.Store) int64 {
	t.Helper()
	ctx := context.Background()
	u, err := s.PutUser(ctx, "trader@example.com")
	require.NoError(t, err)
	_, err = s.PutMetricType(ctx, "volume", []string{"volume"})
	require.NoError(t, err)
	return u.ID
}

func key(userID int64, market, pair string) provider.SubscriptionKey {
	return provider.SubscriptionKey{UserID: userID, Market: market, Pair: pair, MetricName: "volume"}
}

func subscribe(t *testing.T, s provider.Store, k provider.SubscriptionKey, at time.Time) int64 {
	t.Helper()
	out, err := s.Subscribe(context.Background(), k, at)
	require.NoError(t, err)
	return out.TrackedMetricID
}

func insert(t *testing.T, s provider.Store, id int64, at time.Time, v float64) {
	t.Helper()
	ok, err := s.InsertValue(context.Background(), types.MetricValue{TrackedMetricID: id, Value: v, QueriedAt: at})
	require.NoError(t, err)
	require.True(t, ok)
}

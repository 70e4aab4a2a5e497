package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
)

// TestUserLifecycle verifies create, get, soft delete and not-found.
func TestUserLifecycle(t *testing.T, s provider.Store) {
	ctx := context.Background()

	u, err := s.PutUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Positive(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.Email)
	assert.True(t, got.Active())

	require.NoError(t, s.DeleteUser(ctx, u.ID, base))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())

	missing, err := s.GetUser(ctx, u.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestMetricTypeLifecycle verifies registration keeps the first access path
// and retirement is visible.
func TestMetricTypeLifecycle(t *testing.T, s provider.Store) {
	ctx := context.Background()

	mt, err := s.PutMetricType(ctx, "last", []string{"price", "last"})
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "last"}, mt.AccessPath)

	again, err := s.PutMetricType(ctx, "last", []string{"other"})
	require.NoError(t, err)
	assert.Equal(t, mt.ID, again.ID)
	assert.Equal(t, []string{"price", "last"}, again.AccessPath)

	_, err = s.PutMetricType(ctx, "deep", []string{"a", "b", "c", "d"})
	assert.Error(t, err)

	require.NoError(t, s.RetireMetricType(ctx, "last", base))
	got, err := s.GetMetricType(ctx, "last")
	require.NoError(t, err)
	assert.True(t, got.Retired())

	missing, err := s.GetMetricType(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestSubscribeIdempotent verifies a repeated subscribe reports no change.
func TestSubscribeIdempotent(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)

	first, err := s.Subscribe(ctx, key(uid, "kraken", "btcusd"), base)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := s.Subscribe(ctx, key(uid, "kraken", "btcusd"), base)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.TrackedMetricID, second.TrackedMetricID)

	subs, err := s.ListUserSubscriptions(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

// TestSubscribeSharesTrackedMetric verifies users share one tracked metric
// per (market, pair, metric type).
func TestSubscribeSharesTrackedMetric(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	other, err := s.PutUser(ctx, "b@example.com")
	require.NoError(t, err)

	a := subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	b := subscribe(t, s, key(other.ID, "kraken", "btcusd"), base)
	c := subscribe(t, s, key(uid, "kraken", "ethusd"), base)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	subs, err := s.ListSubscribers(ctx, a)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, uid, subs[0].UserID)

	active, err := s.ListActiveMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "volume", active[0].MetricName)
	assert.Equal(t, []string{"volume"}, active[0].AccessPath)
}

// TestSubscribeValidation verifies unknown users, deleted users, unknown and
// retired metric types are rejected with their kinds.
func TestSubscribeValidation(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	gone, err := s.PutUser(ctx, "gone@example.com")
	require.NoError(t, err)
	require.NoError(t, s.DeleteUser(ctx, gone.ID, base))
	_, err = s.PutMetricType(ctx, "old", []string{"old"})
	require.NoError(t, err)
	require.NoError(t, s.RetireMetricType(ctx, "old", base))

	cases := []struct {
		name string
		key  provider.SubscriptionKey
		kind mwerr.Kind
	}{
		{"unknown user", key(uid+1000, "kraken", "btcusd"), mwerr.KindInvalidUser},
		{"deleted user", key(gone.ID, "kraken", "btcusd"), mwerr.KindInvalidUser},
		{"unknown metric", provider.SubscriptionKey{UserID: uid, Market: "kraken", Pair: "btcusd", MetricName: "nope"}, mwerr.KindInvalidMetric},
		{"retired metric", provider.SubscriptionKey{UserID: uid, Market: "kraken", Pair: "btcusd", MetricName: "old"}, mwerr.KindMetricRetired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Subscribe(ctx, tc.key, base)
			assert.Equal(t, tc.kind, mwerr.KindOf(err))
			_, err = s.Unsubscribe(ctx, tc.key, base)
			assert.Equal(t, tc.kind, mwerr.KindOf(err))
		})
	}
}

// TestUnsubscribeNotTracking verifies unsubscribe without a subscription
// changes nothing.
func TestUnsubscribeNotTracking(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)

	out, err := s.Unsubscribe(ctx, key(uid, "kraken", "btcusd"), base)
	require.NoError(t, err)
	assert.False(t, out.Removed)
	assert.Zero(t, out.TrackedMetricID)

	active, err := s.ListActiveMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// TestResubscribe verifies unsubscribe soft-deletes and a later subscribe
// creates a new active row on the same tracked metric, keeping its history.
func TestResubscribe(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	k := key(uid, "kraken", "btcusd")

	id := subscribe(t, s, k, base)
	insert(t, s, id, base, 10)

	out, err := s.Unsubscribe(ctx, k, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, out.Removed)

	active, err := s.ListActiveMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	again, err := s.Subscribe(ctx, k, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.Equal(t, id, again.TrackedMetricID)

	series, err := s.SeriesByIDs(ctx, []int64{id})
	require.NoError(t, err)
	assert.Len(t, series[id], 1)
}

// TestRetireSubscriptions verifies subscriptions to retired metric types are
// closed and drop out of the active set.
func TestRetireSubscriptions(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	subscribe(t, s, key(uid, "kraken", "ethusd"), base)

	n, err := s.RetireSubscriptions(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.RetireMetricType(ctx, "volume", base))
	n, err = s.RetireSubscriptions(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	subs, err := s.ListUserSubscriptions(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

// TestCountSubscriptionsCreatedBefore verifies the grace-period count.
func TestCountSubscriptionsCreatedBefore(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	subscribe(t, s, key(uid, "kraken", "ethusd"), base.Add(20*time.Minute))

	n, err := s.CountSubscriptionsCreatedBefore(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountSubscriptionsCreatedBefore(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, n)
}

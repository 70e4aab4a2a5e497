package registrar

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/testutil"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

type fixture struct {
	store *testutil.MockStore
	reg   *Registrar
	user  int64
	now   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewMockStore()
	u, err := store.PutUser(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = store.PutMetricType(ctx, "volume", []string{"volume"})
	require.NoError(t, err)

	f := &fixture{store: store, user: u.ID, now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.reg = New(Options{Store: store, Now: func() time.Time { return f.now }})
	return f
}

func activeCount(subs []types.Subscription) int {
	n := 0
	for _, s := range subs {
		if s.DeletedAt == nil {
			n++
		}
	}
	return n
}

func TestSubscribe_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, first.Status)
	assert.Equal(t, http.StatusCreated, first.Code)

	second, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAlreadyTracking, second.Status)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.True(t, second.OK())
	assert.Equal(t, first.TrackedMetricID, second.TrackedMetricID)

	assert.Equal(t, 1, activeCount(f.store.Subscriptions()))
	assert.Equal(t, 1, f.store.TrackedMetrics())
}

func TestSubscribe_SharedTrackedMetric(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other, err := f.store.PutUser(ctx, "bob@example.com")
	require.NoError(t, err)

	a, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	b, err := f.reg.Subscribe(ctx, other.ID, "kraken", "btcusd", "volume")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCreated, b.Status)
	assert.Equal(t, a.TrackedMetricID, b.TrackedMetricID)
	assert.Equal(t, 1, f.store.TrackedMetrics())
	assert.Equal(t, 2, activeCount(f.store.Subscriptions()))
}

func TestUnsubscribe_NeverSubscribedMutatesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.reg.Unsubscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotTracking, res.Status)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, f.store.Subscriptions())
	assert.Zero(t, f.store.TrackedMetrics())
}

func TestSubscribeRoundTrip_KeepsHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sub, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	unsub, err := f.reg.Unsubscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRemoved, unsub.Status)

	// Values recorded while nobody was subscribed.
	gap := f.now.Add(10 * time.Minute)
	f.store.SeedValues(sub.TrackedMetricID, types.MetricValue{Value: 42, QueriedAt: gap})

	f.now = f.now.Add(time.Hour)
	again, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, again.Status)
	assert.Equal(t, sub.TrackedMetricID, again.TrackedMetricID)

	subs := f.store.Subscriptions()
	require.Len(t, subs, 2)
	require.NotNil(t, subs[0].DeletedAt, "old subscription stays soft-deleted")
	assert.Nil(t, subs[1].DeletedAt)
	assert.NotEqual(t, subs[0].ID, subs[1].ID)

	series, err := f.store.SeriesByIDs(ctx, []int64{sub.TrackedMetricID})
	require.NoError(t, err)
	require.Len(t, series[sub.TrackedMetricID], 1)
	assert.Equal(t, 42.0, series[sub.TrackedMetricID][0].Value)
	assert.True(t, series[sub.TrackedMetricID][0].Timestamp.Equal(gap))
}

func TestSubscribe_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.RetireMetricType(ctx, "volume", f.now.Add(-time.Hour)))
	_, err := f.store.PutMetricType(ctx, "last", []string{"price", "last"})
	require.NoError(t, err)
	gone, err := f.store.PutUser(ctx, "gone@example.com")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteUser(ctx, gone.ID, f.now))

	tests := []struct {
		name   string
		user   int64
		metric string
		want   error
	}{
		{"non-positive user", 0, "last", mwerr.ErrInvalidUser},
		{"unknown user", 999, "last", mwerr.ErrInvalidUser},
		{"deleted user", gone.ID, "last", mwerr.ErrInvalidUser},
		{"unknown metric", f.user, "spread", mwerr.ErrInvalidMetric},
		{"empty metric", f.user, "", mwerr.ErrInvalidMetric},
		{"retired metric", f.user, "volume", mwerr.ErrMetricRetired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.reg.Subscribe(ctx, tt.user, "kraken", "btcusd", tt.metric)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, types.StatusFailed, res.Status)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.False(t, res.OK())
		})
	}

	res, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.Error(t, err)
	assert.Contains(t, res.Message, f.now.Add(-time.Hour).Format(time.RFC3339), "retired message names the deletion time")

	assert.Empty(t, f.store.Subscriptions())
}

func TestSubscribe_RetriesConflictOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.store.SetErrOnce("Subscribe", mwerr.New(mwerr.KindStoreConflict, "unique violation"))

	res, err := f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, res.Status)
}

func TestSubscribe_PersistentConflictSurfaces(t *testing.T) {
	f := setup(t)
	f.store.SetErr("Subscribe", mwerr.New(mwerr.KindStoreConflict, "unique violation"))

	res, err := f.reg.Subscribe(context.Background(), f.user, "kraken", "btcusd", "volume")
	require.Error(t, err)
	assert.ErrorIs(t, err, mwerr.ErrStoreConflict)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
}

func TestUnsubscribe_StoreFailureIsReported(t *testing.T) {
	f := setup(t)
	f.store.SetErr("Unsubscribe", errors.New("connection reset"))

	res, err := f.reg.Unsubscribe(context.Background(), f.user, "kraken", "btcusd", "volume")
	require.Error(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Contains(t, res.Message, "connection reset")
}

func TestRetireSubscriptions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.store.PutMetricType(ctx, "last", []string{"price", "last"})
	require.NoError(t, err)

	_, err = f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "volume")
	require.NoError(t, err)
	_, err = f.reg.Subscribe(ctx, f.user, "kraken", "btcusd", "last")
	require.NoError(t, err)
	require.NoError(t, f.store.RetireMetricType(ctx, "volume", f.now))

	n, err := f.reg.RetireSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, activeCount(f.store.Subscriptions()))

	n, err = f.reg.RetireSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

package ranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/internal/testutil"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// seriesWithStdDev returns two samples around 100 whose population standard
// deviation is sd.
func seriesWithStdDev(sd float64) []types.MetricValue {
	return []types.MetricValue{
		{Value: 100 - sd, QueriedAt: t0},
		{Value: 100 + sd, QueriedAt: t0.Add(time.Minute)},
	}
}

type fixture struct {
	store *testutil.MockStore
	r     *Ranker
	user  int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMockStore()
	ctx := context.Background()
	u, err := store.PutUser(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = store.PutMetricType(ctx, "volume", []string{"volume"})
	require.NoError(t, err)
	_, err = store.PutMetricType(ctx, "last", []string{"price", "last"})
	require.NoError(t, err)
	return &fixture{store: store, r: New(store, nil), user: u.ID}
}

func (f *fixture) subscribe(t *testing.T, market, pair, metric string) int64 {
	t.Helper()
	out, err := f.store.Subscribe(context.Background(), provider.SubscriptionKey{
		UserID: f.user, Market: market, Pair: pair, MetricName: metric,
	}, t0)
	require.NoError(t, err)
	return out.TrackedMetricID
}

func TestRank_OrdersByStdDevDescending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ids := map[float64]int64{}
	for _, tc := range []struct {
		pair string
		sd   float64
	}{{"btcusd", 5}, {"ethusd", 3}, {"solusd", 8}} {
		id := f.subscribe(t, "kraken", tc.pair, "volume")
		f.store.SeedValues(id, seriesWithStdDev(tc.sd)...)
		ids[tc.sd] = id
	}

	// Different market and different metric type are not peers.
	other := f.subscribe(t, "binance", "btcusd", "volume")
	f.store.SeedValues(other, seriesWithStdDev(50)...)
	otherType := f.subscribe(t, "kraken", "btcusd", "last")
	f.store.SeedValues(otherType, seriesWithStdDev(50)...)

	for sd, want := range map[float64]types.Rank{
		8: {Numerator: 1, Denominator: 3},
		5: {Numerator: 2, Denominator: 3},
		3: {Numerator: 3, Denominator: 3},
	} {
		got, err := f.r.Rank(ctx, ids[sd])
		require.NoError(t, err)
		assert.Equal(t, want, got, "std dev %v", sd)
	}
}

func TestRank_NoHistory(t *testing.T) {
	f := setup(t)
	id := f.subscribe(t, "kraken", "btcusd", "volume")
	peer := f.subscribe(t, "kraken", "ethusd", "volume")
	f.store.SeedValues(peer, seriesWithStdDev(1)...)

	got, err := f.r.Rank(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.Rank{}, got)
}

func TestRankAmong_TiesBreakByID(t *testing.T) {
	peers := []types.PeerVolatility{
		{TrackedMetricID: 9, StdDev: 2},
		{TrackedMetricID: 4, StdDev: 2},
		{TrackedMetricID: 7, StdDev: 3},
	}
	assert.Equal(t, types.Rank{Numerator: 1, Denominator: 3}, RankAmong(7, peers))
	assert.Equal(t, types.Rank{Numerator: 2, Denominator: 3}, RankAmong(4, peers))
	assert.Equal(t, types.Rank{Numerator: 3, Denominator: 3}, RankAmong(9, peers))
	assert.Equal(t, types.Rank{}, RankAmong(1, peers))
	assert.Equal(t, int64(9), peers[0].TrackedMetricID, "input is not reordered")
}

func TestGraphData_Batched(t *testing.T) {
	f := setup(t)
	a := f.subscribe(t, "kraken", "btcusd", "volume")
	b := f.subscribe(t, "kraken", "ethusd", "volume")
	f.store.SeedValues(a,
		types.MetricValue{Value: 3, QueriedAt: t0.Add(2 * time.Minute)},
		types.MetricValue{Value: 1, QueriedAt: t0},
		types.MetricValue{Value: 2, QueriedAt: t0.Add(time.Minute)},
	)

	got, err := f.r.GraphData(context.Background(), []int64{a, b, 404, a})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Len(t, got[a], 3)
	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, got[a][i].Value)
	}
	assert.NotNil(t, got[b])
	assert.Empty(t, got[b])
	assert.Empty(t, got[404])
}

func TestGraphData_PrunedValuesDisappear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.subscribe(t, "kraken", "btcusd", "volume")
	f.store.SeedValues(id,
		types.MetricValue{Value: 1, QueriedAt: t0.Add(-200 * time.Hour)},
		types.MetricValue{Value: 2, QueriedAt: t0},
	)

	n, err := f.store.PruneValues(ctx, t0.Add(-168*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.r.GraphData(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got[id], 1)
	assert.Equal(t, 2.0, got[id][0].Value)
}

func TestListForUser(t *testing.T) {
	f := setup(t)
	a := f.subscribe(t, "kraken", "btcusd", "volume")
	b := f.subscribe(t, "kraken", "ethusd", "volume")
	f.store.SeedValues(a, seriesWithStdDev(5)...)
	f.store.SeedValues(b, seriesWithStdDev(3)...)

	got, err := f.r.ListForUser(context.Background(), f.user)
	require.NoError(t, err)
	assert.False(t, got.Incomplete)
	require.Len(t, got.Metrics, 2)

	first := got.Metrics[0]
	assert.Equal(t, a, first.TrackedMetricID)
	assert.Equal(t, "btcusd", first.Pair)
	assert.Equal(t, "kraken", first.Market)
	assert.Equal(t, "volume", first.MetricName)
	assert.Equal(t, types.Rank{Numerator: 1, Denominator: 2}, first.Rank)
	require.Len(t, first.GraphData, 2)
	require.NotNil(t, first.Stats)
	assert.InDelta(t, 100, first.Stats.Mean, 1e-9)
	assert.InDelta(t, 5, first.Stats.StdDev, 1e-9)
	assert.Equal(t, 95.0, first.Stats.Min)
	assert.Equal(t, 105.0, first.Stats.Max)
	assert.Equal(t, 105.0, first.Stats.Latest)
}

func TestListForUser_PartialFailure(t *testing.T) {
	f := setup(t)
	a := f.subscribe(t, "kraken", "btcusd", "volume")
	b := f.subscribe(t, "kraken", "ethusd", "volume")
	f.store.SeedValues(a, seriesWithStdDev(5)...)
	f.store.SeedValues(b, seriesWithStdDev(3)...)
	f.store.SetErrFor("PeerVolatility", b, errors.New("statement timeout"))

	got, err := f.r.ListForUser(context.Background(), f.user)
	require.NoError(t, err)
	assert.True(t, got.Incomplete)
	require.Len(t, got.Metrics, 2)
	assert.Empty(t, got.Metrics[0].Error)
	assert.Contains(t, got.Metrics[1].Error, "statement timeout")
	assert.Equal(t, types.Rank{}, got.Metrics[1].Rank)
	assert.Len(t, got.Metrics[1].GraphData, 2, "graph survives a rank failure")
}

func TestListForUser_GraphFailureKeepsRanks(t *testing.T) {
	f := setup(t)
	a := f.subscribe(t, "kraken", "btcusd", "volume")
	f.store.SeedValues(a, seriesWithStdDev(5)...)
	f.store.SetErr("SeriesByIDs", errors.New("connection refused"))

	got, err := f.r.ListForUser(context.Background(), f.user)
	require.NoError(t, err)
	assert.True(t, got.Incomplete)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, types.Rank{Numerator: 1, Denominator: 1}, got.Metrics[0].Rank)
	assert.Empty(t, got.Metrics[0].GraphData)
	assert.Nil(t, got.Metrics[0].Stats)
	assert.Contains(t, got.Metrics[0].Error, "connection refused")
}

func TestListForUser_InvalidUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.DeleteUser(ctx, f.user, t0))

	for _, id := range []int64{0, 999, f.user} {
		_, err := f.r.ListForUser(ctx, id)
		assert.ErrorIs(t, err, mwerr.ErrInvalidUser, "user %d", id)
	}
}

func TestListForUser_NoSubscriptions(t *testing.T) {
	f := setup(t)
	got, err := f.r.ListForUser(context.Background(), f.user)
	require.NoError(t, err)
	assert.False(t, got.Incomplete)
	assert.NotNil(t, got.Metrics)
	assert.Empty(t, got.Metrics)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Nil(t, Summarize(nil))
}

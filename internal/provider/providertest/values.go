package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// TestInsertValueDuplicateMinute verifies a second insert for the same
// (tracked metric, minute) is ignored and keeps the first value.
func TestInsertValueDuplicateMinute(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	id := subscribe(t, s, key(uid, "kraken", "btcusd"), base)

	insert(t, s, id, base, 10)
	ok, err := s.InsertValue(ctx, types.MetricValue{TrackedMetricID: id, Value: 99, QueriedAt: base})
	require.NoError(t, err)
	assert.False(t, ok)

	series, err := s.SeriesByIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, series[id], 1)
	assert.Equal(t, 10.0, series[id][0].Value)
}

// TestWindowStatsHalfOpen verifies the window includes since and excludes until.
func TestWindowStatsHalfOpen(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	id := subscribe(t, s, key(uid, "kraken", "btcusd"), base)

	insert(t, s, id, base.Add(-2*time.Minute), 5)
	insert(t, s, id, base.Add(-time.Minute), 10)
	insert(t, s, id, base, 20)
	insert(t, s, id, base.Add(time.Minute), 1000)

	ws, err := s.WindowStats(ctx, id, base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ws.Count)
	assert.InDelta(t, 15.0, ws.Mean, 1e-9)

	empty, err := s.WindowStats(ctx, id, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
}

// TestPruneValues verifies values older than the cutoff are removed.
func TestPruneValues(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	id := subscribe(t, s, key(uid, "kraken", "btcusd"), base)

	insert(t, s, id, base.Add(-2*time.Hour), 1)
	insert(t, s, id, base.Add(-time.Hour), 2)
	insert(t, s, id, base, 3)

	n, err := s.PruneValues(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	series, err := s.SeriesByIDs(ctx, []int64{id})
	require.NoError(t, err)
	assert.Len(t, series[id], 2)
}

// TestLatestValueTime verifies nil with no values and the max otherwise.
func TestLatestValueTime(t *testing.T, s provider.Store) {
	ctx := context.Background()
	latest, err := s.LatestValueTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	uid := seed(t, s)
	a := subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	b := subscribe(t, s, key(uid, "kraken", "ethusd"), base)
	insert(t, s, a, base, 1)
	insert(t, s, b, base.Add(3*time.Minute), 1)

	latest, err = s.LatestValueTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(base.Add(3*time.Minute)))
}

// TestPeerVolatility verifies peers share market and metric type and need history.
func TestPeerVolatility(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	a := subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	b := subscribe(t, s, key(uid, "kraken", "ethusd"), base)
	subscribe(t, s, key(uid, "kraken", "ltcusd"), base)
	other := subscribe(t, s, key(uid, "bitstamp", "btcusd"), base)

	insert(t, s, a, base, 1)
	insert(t, s, a, base.Add(time.Minute), 3)
	insert(t, s, b, base, 5)
	insert(t, s, other, base, 7)

	peers, err := s.PeerVolatility(ctx, a)
	require.NoError(t, err)
	got := make(map[int64]float64, len(peers))
	for _, p := range peers {
		got[p.TrackedMetricID] = p.StdDev
	}
	assert.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[a], 1e-9)
	assert.InDelta(t, 0.0, got[b], 1e-9)
}

// TestSeriesByIDs verifies ordering and that unknown ids map to empty series.
func TestSeriesByIDs(t *testing.T, s provider.Store) {
	ctx := context.Background()
	uid := seed(t, s)
	id := subscribe(t, s, key(uid, "kraken", "btcusd"), base)
	insert(t, s, id, base.Add(time.Minute), 2)
	insert(t, s, id, base, 1)

	series, err := s.SeriesByIDs(ctx, []int64{id, id + 1000})
	require.NoError(t, err)
	require.Len(t, series[id], 2)
	assert.True(t, series[id][0].Timestamp.Before(series[id][1].Timestamp))
	assert.Empty(t, series[id+1000])
}

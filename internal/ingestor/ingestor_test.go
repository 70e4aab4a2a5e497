package ingestor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/internal/testutil"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var tick = time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)

// fakeFetcher serves values by pair. A pair in block waits for the context
// to expire; a pair in panics panics.
type fakeFetcher struct {
	mu     sync.Mutex
	values map[string]float64
	block  map[string]bool
	panics map[string]bool
	calls  map[string]int
}

func (f *fakeFetcher) Value(ctx context.Context, _, pair string, _ []string) (float64, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[pair]++
	v, ok := f.values[pair]
	block, panics := f.block[pair], f.panics[pair]
	f.mu.Unlock()

	switch {
	case panics:
		panic("unexpected payload shape")
	case block:
		<-ctx.Done()
		return 0, mwerr.Wrap(mwerr.KindTimeout, ctx.Err(), "summary %s", pair)
	case !ok:
		return 0, mwerr.New(mwerr.KindSchemaMismatch, "missing key")
	}
	return v, nil
}

// clock returns each time in order and then repeats the last one.
type clock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

type fixture struct {
	store    *testutil.MockStore
	notifier *testutil.RecordingNotifier
	fetcher  *fakeFetcher
	ids      map[string]int64
	opts     Options
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewMockStore()
	u, err := store.PutUser(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = store.PutMetricType(ctx, "volume", []string{"volume"})
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		notifier: &testutil.RecordingNotifier{},
		fetcher:  &fakeFetcher{values: map[string]float64{"btcusd": 500, "ethusd": 20, "solusd": 1}},
		ids:      make(map[string]int64),
	}
	for _, pair := range []string{"btcusd", "ethusd", "solusd"} {
		out, err := store.Subscribe(ctx, provider.SubscriptionKey{UserID: u.ID, Market: "kraken", Pair: pair, MetricName: "volume"}, tick.Add(-time.Hour))
		require.NoError(t, err)
		f.ids[pair] = out.TrackedMetricID
	}

	// Dense hour of history averaging 100 for every metric.
	minute := tick.Truncate(time.Minute)
	for _, id := range f.ids {
		var vals []types.MetricValue
		for k := 1; k <= 60; k++ {
			vals = append(vals, types.MetricValue{Value: 100, QueriedAt: minute.Add(-time.Duration(k) * time.Minute)})
		}
		store.SeedValues(id, vals...)
	}

	f.opts = Options{
		Store:         store,
		NewFetcher:    func() Fetcher { return f.fetcher },
		Notifier:      f.notifier,
		Pipeline:      types.PipelineConfig{MissingDataTolerance: 0.1},
		Workers:       2,
		MetricTimeout: time.Second,
		OpsEmail:      "ops@example.com",
		Now:           func() time.Time { return tick },
	}
	return f
}

func (f *fixture) latest(t *testing.T, id int64) (types.Point, bool) {
	t.Helper()
	series, err := f.store.SeriesByIDs(context.Background(), []int64{id})
	require.NoError(t, err)
	pts := series[id]
	if len(pts) == 0 {
		return types.Point{}, false
	}
	return pts[len(pts)-1], true
}

func TestRun_PersistsAndAlerts(t *testing.T) {
	f := setup(t)
	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Empty(t, sum.Failures)
	assert.True(t, sum.Success())
	assert.NoError(t, sum.Err())

	for pair, want := range map[string]float64{"btcusd": 500, "ethusd": 20, "solusd": 1} {
		p, ok := f.latest(t, f.ids[pair])
		require.True(t, ok)
		assert.Equal(t, want, p.Value, pair)
		assert.True(t, p.Timestamp.Equal(tick.Truncate(time.Minute)), "queriedAt is truncated to the minute")
	}

	assert.Equal(t, 1, sum.AlertsQueued)
	assert.Equal(t, 1, sum.AlertsSent)
	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].Recipient)
	assert.Contains(t, msgs[0].Subject, "btcusd")
	assert.Contains(t, msgs[0].Body, "500")
	require.NotNil(t, msgs[0].Alert)
	assert.NotEmpty(t, msgs[0].Alert.AlertID)
	assert.Equal(t, types.CategoryMetricSpike, msgs[0].Alert.Category)
	assert.Equal(t, f.ids["btcusd"], msgs[0].Alert.TrackedMetricID)
	assert.Equal(t, 500.0, msgs[0].Alert.Details["value"])
}

func TestRun_AlertsAtSubMinuteCadence(t *testing.T) {
	f := setup(t)
	f.opts.Pipeline.CadencePerMinute = 2
	f.fetcher.values["btcusd"] = 10000

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.AlertsQueued)
	require.Len(t, f.notifier.Messages(), 1)
	assert.Contains(t, f.notifier.Messages()[0].Subject, "btcusd")
}

func TestRun_BatchIsolationOnTimeout(t *testing.T) {
	f := setup(t)
	f.fetcher.block = map[string]bool{"ethusd": true}
	f.opts.MetricTimeout = 50 * time.Millisecond

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Failures, 1)
	fail := sum.Failures[0]
	assert.Equal(t, f.ids["ethusd"], fail.TrackedMetricID)
	assert.Equal(t, StepFetch, fail.Step)
	assert.Equal(t, mwerr.KindTimeout, fail.Kind)
	assert.Equal(t, 2, sum.Succeeded)
	assert.False(t, sum.Success())

	err = sum.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, mwerr.ErrPartialBatch)
	var be *mwerr.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Total)

	minute := tick.Truncate(time.Minute)
	for _, pair := range []string{"btcusd", "solusd"} {
		p, ok := f.latest(t, f.ids[pair])
		require.True(t, ok)
		assert.True(t, p.Timestamp.Equal(minute), "%s persisted", pair)
	}
	p, _ := f.latest(t, f.ids["ethusd"])
	assert.True(t, p.Timestamp.Before(minute), "timed out metric wrote nothing")

	assert.Equal(t, 1, sum.AlertsSent, "metric #1 still evaluated and alerted")
}

func TestRun_PanicIsContained(t *testing.T) {
	f := setup(t)
	f.fetcher.panics = map[string]bool{"solusd": true}

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, f.ids["solusd"], sum.Failures[0].TrackedMetricID)
	assert.Equal(t, mwerr.KindInternal, sum.Failures[0].Kind)
	assert.Contains(t, sum.Failures[0].Message, "panic")
	assert.Equal(t, 2, sum.Succeeded)
}

func TestRun_StepNumbers(t *testing.T) {
	f := setup(t)
	delete(f.fetcher.values, "solusd")
	f.store.SetErrFor("InsertValue", f.ids["ethusd"], errors.New("disk full"))
	f.store.SetErrFor("WindowStats", f.ids["btcusd"], errors.New("statement timeout"))

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Failures, 3)

	byID := make(map[int64]MetricFailure)
	for _, fl := range sum.Failures {
		byID[fl.TrackedMetricID] = fl
	}
	assert.Equal(t, StepFetch, byID[f.ids["solusd"]].Step)
	assert.Equal(t, mwerr.KindSchemaMismatch, byID[f.ids["solusd"]].Kind)
	assert.Equal(t, StepPersist, byID[f.ids["ethusd"]].Step)
	assert.Equal(t, StepWindow, byID[f.ids["btcusd"]].Step)
	assert.Zero(t, sum.AlertsQueued)
}

func TestRun_DuplicateTickIsIgnored(t *testing.T) {
	f := setup(t)
	ing := New(f.opts)

	_, err := ing.Run(context.Background())
	require.NoError(t, err)
	f.fetcher.values["btcusd"] = 900

	sum, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Duplicates)
	assert.Zero(t, sum.AlertsQueued)
	assert.Len(t, f.notifier.Messages(), 1)

	p, _ := f.latest(t, f.ids["btcusd"])
	assert.Equal(t, 500.0, p.Value, "first write for the minute wins")
}

func TestRun_SparseHistoryDoesNotAlert(t *testing.T) {
	f := setup(t)
	f.opts.Pipeline.AlertLookbackHours = 4 // 240 expected, 60 present

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.AlertsQueued)
	assert.Empty(t, f.notifier.Messages())
}

func TestRun_PrunesOldValues(t *testing.T) {
	f := setup(t)
	old := tick.Add(-200 * time.Hour)
	f.store.SeedValues(f.ids["btcusd"], types.MetricValue{Value: 7, QueriedAt: old})

	// Retention applies regardless of subscription state.
	orphan := int64(999)
	f.store.SeedValues(orphan, types.MetricValue{Value: 7, QueriedAt: old})

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Pruned)

	series, err := f.store.SeriesByIDs(context.Background(), []int64{f.ids["btcusd"], orphan})
	require.NoError(t, err)
	for _, p := range series[f.ids["btcusd"]] {
		assert.True(t, p.Timestamp.After(old))
	}
	assert.Empty(t, series[orphan])
}

func TestRun_NotifierFailureDoesNotFailBatch(t *testing.T) {
	f := setup(t)
	f.notifier.Err = errors.New("smtp down")

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Success())
	assert.Equal(t, 1, sum.AlertsFailed)
	assert.Zero(t, sum.AlertsSent)
}

func TestRun_RetiresSubscriptionsFirst(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.RetireMetricType(context.Background(), "volume", tick.Add(-time.Minute)))

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Retired)
	assert.Zero(t, sum.Processed)
	for _, s := range f.store.Subscriptions() {
		assert.NotNil(t, s.DeletedAt)
	}
}

func TestRun_ListFailureAbortsPass(t *testing.T) {
	f := setup(t)
	f.store.SetErr("ListActiveMetrics", errors.New("connection refused"))

	sum, err := New(f.opts).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, sum)
	assert.Zero(t, sum.Processed)
}

func TestRun_HousekeepingErrorsFailSummary(t *testing.T) {
	f := setup(t)
	f.store.SetErr("PruneValues", errors.New("lock timeout"))

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Failures)
	assert.False(t, sum.Success())
	assert.ErrorContains(t, sum.Err(), "lock timeout")
}

func TestRun_SlownessAlert(t *testing.T) {
	f := setup(t)
	f.fetcher.values["btcusd"] = 100 // no spike
	locker := testutil.NewMockLocker()
	f.opts.Locker = locker

	// Cadence 1/min and fraction 0.5 give a 30s threshold.
	slow := &clock{times: []time.Time{tick, tick.Add(45 * time.Second)}}
	f.opts.Now = slow.Now
	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Slow)
	assert.Equal(t, 45*time.Second, sum.Elapsed)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ops@example.com", msgs[0].Recipient)
	assert.Equal(t, "WARNING: Data Pipeline Running Slow", msgs[0].Subject)
	require.NotNil(t, msgs[0].Alert)
	assert.Equal(t, types.CategoryRunningSlow, msgs[0].Alert.Category)

	// Same bucket: the lock suppresses a second alert.
	again := &clock{times: []time.Time{tick.Add(time.Minute), tick.Add(time.Minute + 45*time.Second)}}
	f.opts.Now = again.Now
	sum, err = New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Slow)
	assert.Len(t, f.notifier.Messages(), 1)
}

func TestRun_FastRunIsNotSlow(t *testing.T) {
	f := setup(t)
	f.fetcher.values["btcusd"] = 100
	fast := &clock{times: []time.Time{tick, tick.Add(10 * time.Second)}}
	f.opts.Now = fast.Now

	sum, err := New(f.opts).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Slow)
	assert.Empty(t, f.notifier.Messages())
}

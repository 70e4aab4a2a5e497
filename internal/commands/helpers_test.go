package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/config"
	"github.com/dwsmith1983/metricwatch/internal/ingestor"
	"github.com/dwsmith1983/metricwatch/internal/ranker"
	"github.com/dwsmith1983/metricwatch/internal/registrar"
	"github.com/dwsmith1983/metricwatch/internal/testutil"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

func TestScaffold_WritesLoadableConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, scaffold(dir))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 1.0, cfg.Pipeline.CadencePerMinute)
	require.Len(t, cfg.Alerts.Sinks, 1)
	assert.Equal(t, types.AlertConsole, cfg.Alerts.Sinks[0].Type)
}

func TestScaffold_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("keep: me\n"), 0o644))

	err := scaffold(dir)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep: me\n", string(data))
}

func TestContainerRunCommand(t *testing.T) {
	got := postgresContainer.runCommand()
	assert.True(t, strings.HasPrefix(got, "docker run -d --name metricwatch-postgres -p 5432:5432"))
	assert.Contains(t, got, "-e POSTGRES_DB=metricwatch")
	assert.True(t, strings.HasSuffix(got, "postgres:16"))
}

func TestParseID(t *testing.T) {
	id, err := parseID("42", "user-id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseID("abc", "user-id")
	assert.ErrorContains(t, err, "user-id must be an integer")
}

func TestPrintJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, types.Result{Status: types.StatusCreated, Code: 201, Message: "ok"}))
	assert.Contains(t, buf.String(), "\n  \"code\": 201")
}

func seededStore(t *testing.T) *testutil.MockStore {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewMockStore()
	_, err := store.PutUser(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = store.PutMetricType(ctx, "volume", []string{"volume"})
	require.NoError(t, err)
	return store
}

func TestRunSubscribe(t *testing.T) {
	store := seededStore(t)
	reg := registrar.New(registrar.Options{Store: store})
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, runSubscribe(ctx, &buf, reg, []string{"1", "kraken", "btcusd", "volume"}, true))
	assert.Contains(t, buf.String(), `"code": 201`)

	buf.Reset()
	require.NoError(t, runSubscribe(ctx, &buf, reg, []string{"1", "kraken", "btcusd", "volume"}, false))
	assert.Contains(t, buf.String(), `"code": 200`)
}

func TestRunSubscribe_FailuresPrintAndError(t *testing.T) {
	store := seededStore(t)
	reg := registrar.New(registrar.Options{Store: store})
	ctx := context.Background()

	var buf bytes.Buffer
	err := runSubscribe(ctx, &buf, reg, []string{"x", "kraken", "btcusd", "volume"}, true)
	require.ErrorIs(t, err, errFailedResult)
	assert.Contains(t, buf.String(), `"code": 400`)

	buf.Reset()
	err = runSubscribe(ctx, &buf, reg, []string{"1", "kraken", "btcusd", "nope"}, true)
	require.ErrorIs(t, err, errFailedResult)
	assert.Contains(t, buf.String(), `"code": 400`)
}

func TestRunList(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	reg := registrar.New(registrar.Options{Store: store})
	_, err := reg.Subscribe(ctx, 1, "kraken", "btcusd", "volume")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runList(ctx, &buf, ranker.New(store, nil), "1"))
	assert.Contains(t, buf.String(), `"btcusd"`)

	assert.Error(t, runList(ctx, &buf, ranker.New(store, nil), "0"))
}

func TestShowStatus(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	reg := registrar.New(registrar.Options{Store: store})
	_, err := reg.Subscribe(ctx, 1, "kraken", "btcusd", "volume")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pipeline := types.PipelineConfig{}.WithDefaults()

	var buf bytes.Buffer
	require.NoError(t, showStatus(ctx, &buf, store, pipeline, now))
	assert.Contains(t, buf.String(), "volume")
	assert.Contains(t, buf.String(), "Latest value: none")

	_, err = store.InsertValue(ctx, types.MetricValue{TrackedMetricID: 1, Value: 10, QueriedAt: now.Add(-10 * time.Minute)})
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, showStatus(ctx, &buf, store, pipeline, now))
	assert.Contains(t, buf.String(), "STALE")
}

func TestPrintSummary(t *testing.T) {
	sum := &ingestor.RunSummary{
		RunID:     "01ABC",
		Elapsed:   1500 * time.Millisecond,
		Processed: 2,
		Succeeded: 1,
		Failures: []ingestor.MetricFailure{
			{Market: "kraken", Pair: "btcusd", Metric: "volume", Step: ingestor.StepFetch, Message: "timed out"},
		},
	}
	var buf bytes.Buffer
	printSummary(&buf, sum)
	out := buf.String()
	assert.Contains(t, out, "Run 01ABC finished in 1.5s")
	assert.Contains(t, out, "processed=2 succeeded=1")
	assert.Contains(t, out, "volume kraken/btcusd step 1: timed out")
}

func TestFreshnessView(t *testing.T) {
	v := freshnessView(watchdog.FreshnessResult{
		Status: types.FreshnessStale,
		Gap:    6 * time.Minute,
		Bound:  3 * time.Minute,
	})
	assert.Equal(t, 360.0, v.GapSeconds)
	assert.Equal(t, 180.0, v.BoundSeconds)
	assert.Empty(t, v.Error)
}

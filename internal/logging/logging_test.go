package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

func TestNew(t *testing.T) {
	for _, cfg := range []types.LogConfig{
		{},
		{Level: "debug"},
		{Level: "warn", Production: true},
	} {
		logger, sync, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
		require.NotNil(t, sync)
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(types.LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestFromZap_ForwardsAttrs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.Info("ingestor: run complete", "processed", 3, "failures", 1)
	logger.Debug("dropped below level")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ingestor: run complete", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.EqualValues(t, 3, ctx["processed"])
	assert.EqualValues(t, 1, ctx["failures"])
}

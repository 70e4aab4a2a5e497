package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	intlambda "github.com/dwsmith1983/metricwatch/internal/lambda"
	"github.com/dwsmith1983/metricwatch/internal/testutil"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

func TestHandle_NoSubscriptions(t *testing.T) {
	notifier := &testutil.RecordingNotifier{}
	d := &intlambda.Deps{
		Config:   &types.ProjectConfig{Alerts: types.AlertsConfig{OpsEmail: "ops@example.com"}},
		Store:    testutil.NewMockStore(),
		Notifier: notifier,
		Logger:   slog.Default(),
	}
	resp := handle(context.Background(), d)
	assert.Equal(t, types.FreshnessNoSubscriptions, resp.Status)
	assert.False(t, resp.Alerted)
	assert.Empty(t, notifier.Messages())
}

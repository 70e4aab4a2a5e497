package ingestor

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/metricwatch/internal/anomaly"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

func spikeAlert(m types.ActiveMetric, d anomaly.Decision, p anomaly.Params, at time.Time) types.Alert {
	subject := fmt.Sprintf("ALERT: %s for %s on %s spiked", m.MetricName, m.Pair, m.Market)
	body := fmt.Sprintf(`Hello,

The latest %s reading for %s on %s is %g, which is more than %g times the
average of %g over the previous %g hour(s).

Best,
CryptoDataBot`, m.MetricName, m.Pair, m.Market, d.Value, p.Factor, d.PreviousMean, p.WindowHours)

	return types.Alert{
		AlertID:         ulid.Make().String(),
		Level:           types.AlertLevelWarning,
		Category:        types.CategoryMetricSpike,
		TrackedMetricID: m.ID,
		Subject:         subject,
		Message:         body,
		Details: map[string]interface{}{
			"market":       m.Market,
			"pair":         m.Pair,
			"metric":       m.MetricName,
			"value":        d.Value,
			"previousMean": d.PreviousMean,
			"factor":       p.Factor,
			"samples":      d.Count,
		},
		Timestamp: at.UTC(),
	}
}

func slowAlert(sum *RunSummary, threshold time.Duration) types.Alert {
	subject := "WARNING: Data Pipeline Running Slow"
	body := fmt.Sprintf(`Hello,

Ingestion run %s took %.1f seconds for %d metrics, above the %.1f second
threshold. Please review and fix.

Best,
CryptoDataBot`, sum.RunID, sum.Elapsed.Seconds(), sum.Processed, threshold.Seconds())

	return types.Alert{
		AlertID:  ulid.Make().String(),
		Level:    types.AlertLevelWarning,
		Category: types.CategoryRunningSlow,
		Subject:  subject,
		Message:  body,
		Details: map[string]interface{}{
			"runId":            sum.RunID,
			"elapsedSeconds":   sum.Elapsed.Seconds(),
			"thresholdSeconds": threshold.Seconds(),
			"processed":        sum.Processed,
		},
		Timestamp: sum.StartedAt,
	}
}

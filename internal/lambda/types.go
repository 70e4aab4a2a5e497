// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/metricwatch/internal/ingestor"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// ScheduledEvent is the EventBridge payload that invokes both handlers.
type ScheduledEvent = events.CloudWatchEvent

// IngestResponse is the output of the ingestor Lambda.
type IngestResponse struct {
	RunID        string                   `json:"runId"`
	Success      bool                     `json:"success"`
	Processed    int                      `json:"processed"`
	Succeeded    int                      `json:"succeeded"`
	Duplicates   int                      `json:"duplicates"`
	Failures     []ingestor.MetricFailure `json:"failures,omitempty"`
	Pruned       int64                    `json:"pruned"`
	AlertsSent   int                      `json:"alertsSent"`
	AlertsFailed int                      `json:"alertsFailed"`
	ElapsedMs    int64                    `json:"elapsedMs"`
	Slow         bool                     `json:"slow"`
	Housekeeping []string                 `json:"housekeepingErrors,omitempty"`
}

// NewIngestResponse flattens a run summary for the Lambda result.
func NewIngestResponse(sum *ingestor.RunSummary) IngestResponse {
	resp := IngestResponse{
		RunID:        sum.RunID,
		Success:      sum.Success(),
		Processed:    sum.Processed,
		Succeeded:    sum.Succeeded,
		Duplicates:   sum.Duplicates,
		Failures:     sum.Failures,
		Pruned:       sum.Pruned,
		AlertsSent:   sum.AlertsSent,
		AlertsFailed: sum.AlertsFailed,
		ElapsedMs:    sum.Elapsed.Milliseconds(),
		Slow:         sum.Slow,
	}
	if sum.UpkeepErr != nil {
		resp.Housekeeping = append(resp.Housekeeping, "upkeep: "+sum.UpkeepErr.Error())
	}
	if sum.PruneErr != nil {
		resp.Housekeeping = append(resp.Housekeeping, "prune: "+sum.PruneErr.Error())
	}
	return resp
}

// FreshnessResponse is the output of the freshness Lambda.
type FreshnessResponse struct {
	Status        types.FreshnessStatus `json:"status"`
	Subscriptions int64                 `json:"subscriptions"`
	Latest        *time.Time            `json:"latest,omitempty"`
	GapSeconds    float64               `json:"gapSeconds"`
	BoundSeconds  float64               `json:"boundSeconds"`
	Alerted       bool                  `json:"alerted"`
}

// NewFreshnessResponse flattens a freshness result for the Lambda result.
func NewFreshnessResponse(res watchdog.FreshnessResult) FreshnessResponse {
	return FreshnessResponse{
		Status:        res.Status,
		Subscriptions: res.Subscriptions,
		Latest:        res.Latest,
		GapSeconds:    res.Gap.Seconds(),
		BoundSeconds:  res.Bound.Seconds(),
		Alerted:       res.Alerted,
	}
}

package ingestor

import (
	"errors"
	"time"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
)

// Per-metric step numbers, reported with failures.
const (
	StepFetch    = 1
	StepPersist  = 2
	StepWindow   = 3
	StepEvaluate = 4
)

// MetricFailure records why one tracked metric failed during a pass.
type MetricFailure struct {
	TrackedMetricID int64      `json:"trackedMetricId"`
	Market          string     `json:"market"`
	Pair            string     `json:"pair"`
	Metric          string     `json:"metric"`
	Step            int        `json:"step"`
	Kind            mwerr.Kind `json:"kind"`
	Err             error      `json:"-"`
	Message         string     `json:"error"`
}

// RunSummary describes one ingestion pass.
type RunSummary struct {
	RunID        string          `json:"runId"`
	StartedAt    time.Time       `json:"startedAt"`
	Elapsed      time.Duration   `json:"elapsed"`
	Retired      int64           `json:"retiredSubscriptions"`
	Processed    int             `json:"processed"`
	Succeeded    int             `json:"succeeded"`
	Duplicates   int             `json:"duplicates"`
	Failures     []MetricFailure `json:"failures,omitempty"`
	Pruned       int64           `json:"pruned"`
	AlertsQueued int             `json:"alertsQueued"`
	AlertsSent   int             `json:"alertsSent"`
	AlertsFailed int             `json:"alertsFailed"`
	Slow         bool            `json:"slow"`

	UpkeepErr error `json:"-"`
	PruneErr  error `json:"-"`
}

// Success reports whether every metric and every housekeeping step succeeded.
// Notifier failures do not count.
func (s *RunSummary) Success() bool {
	return len(s.Failures) == 0 && s.UpkeepErr == nil && s.PruneErr == nil
}

// Err returns nil on success. Metric failures are reported as a
// *mwerr.BatchError, joined with any housekeeping error.
func (s *RunSummary) Err() error {
	var batch error
	if len(s.Failures) > 0 {
		be := &mwerr.BatchError{Total: s.Processed}
		for _, f := range s.Failures {
			be.Failed = append(be.Failed, mwerr.ItemError{ID: f.TrackedMetricID, Step: f.Step, Err: f.Err})
		}
		batch = be
	}
	return errors.Join(batch, s.UpkeepErr, s.PruneErr)
}

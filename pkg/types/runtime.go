package types

import "time"

// Alert is an operational or user-facing alert before it is rendered into a
// notifier message.
type Alert struct {
	AlertID         string                 `json:"alertId,omitempty"`
	Level           AlertLevel             `json:"level"`
	Category        AlertCategory          `json:"alertType,omitempty"`
	TrackedMetricID int64                  `json:"trackedMetricId,omitempty"`
	Subject         string                 `json:"subject"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Result is the structured response of a registrar operation. Code follows
// HTTP status semantics so the request layer can forward it unchanged.
type Result struct {
	Status          ResultStatus `json:"status"`
	Code            int          `json:"code"`
	Message         string       `json:"msg"`
	TrackedMetricID int64        `json:"trackedMetricId,omitempty"`
}

// OK reports whether the operation succeeded, including idempotent no-ops.
func (r Result) OK() bool { return r.Status != StatusFailed }

// Rank is the 1-based position of a tracked metric's volatility within its
// peer group. The zero value means the metric has no history.
type Rank struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// SeriesStats summarizes a graph series.
type SeriesStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

// UserMetric is one tracked metric in a user's listing.
type UserMetric struct {
	TrackedMetricID int64        `json:"trackedMetricId"`
	Pair            string       `json:"pair"`
	Market          string       `json:"market"`
	MetricName      string       `json:"metric"`
	Rank            Rank         `json:"rank"`
	GraphData       []Point      `json:"graphData"`
	Stats           *SeriesStats `json:"stats,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// UserMetrics is the best-effort listing for a user. Incomplete is set when
// any item's rank or graph could not be computed.
type UserMetrics struct {
	UserID     int64        `json:"userId"`
	Metrics    []UserMetric `json:"metrics"`
	Incomplete bool         `json:"incomplete"`
}

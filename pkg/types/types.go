// Package types defines the public domain types for metricwatch.
package types

import "time"

// MaxAccessPathDepth is the deepest key path a metric type may declare into
// the market summary response.
const MaxAccessPathDepth = 3

// User is an account that can subscribe to tracked metrics.
type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Active reports whether the user has not been soft-deleted.
func (u User) Active() bool { return u.DeletedAt == nil }

// MetricType is a named metric kind (e.g. "volume") and the key path used to
// reach its scalar inside the market summary JSON.
type MetricType struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	AccessPath []string   `json:"accessPath"`
	CreatedAt  time.Time  `json:"createdAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// Retired reports whether the metric type has been soft-deleted.
func (m MetricType) Retired() bool { return m.DeletedAt != nil }

// TrackedMetric identifies what is polled: one row per (market, pair, metric type).
type TrackedMetric struct {
	ID           int64     `json:"id"`
	Market       string    `json:"market"`
	Pair         string    `json:"pair"`
	MetricTypeID int64     `json:"metricTypeId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ActiveMetric is a tracked metric with at least one active subscription,
// joined with the metric type fields the ingestor needs.
type ActiveMetric struct {
	TrackedMetric
	MetricName string   `json:"metricName"`
	AccessPath []string `json:"accessPath"`
}

// Subscription links a user to a tracked metric. Never hard-deleted.
type Subscription struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	TrackedMetricID int64      `json:"trackedMetricId"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// SubscriptionView is an active subscription joined with its tracked metric
// and metric type name, used to build per-user listings.
type SubscriptionView struct {
	SubscriptionID  int64     `json:"subscriptionId"`
	TrackedMetricID int64     `json:"trackedMetricId"`
	Market          string    `json:"market"`
	Pair            string    `json:"pair"`
	MetricName      string    `json:"metricName"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MetricValue is one sample of a tracked metric. QueriedAt is truncated to the minute.
type MetricValue struct {
	TrackedMetricID int64     `json:"trackedMetricId"`
	Value           float64   `json:"value"`
	QueriedAt       time.Time `json:"queriedAt"`
}

// Point is one (timestamp, value) pair in a graph series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// WindowStats summarizes the samples of one tracked metric inside a time window.
type WindowStats struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
}

// PeerVolatility is the population standard deviation of one tracked metric's
// history, used to rank it against peers sharing market and metric type.
type PeerVolatility struct {
	TrackedMetricID int64   `json:"trackedMetricId"`
	StdDev          float64 `json:"stdDev"`
}

// Subscriber is an active subscriber of a tracked metric who should receive alerts.
type Subscriber struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

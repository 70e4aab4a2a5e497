// Package provider defines the storage backend interfaces for metricwatch.
package provider

import (
	"context"
	"time"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// SubscriptionKey names a (user, market, pair, metric) tracking relationship.
type SubscriptionKey struct {
	UserID     int64
	Market     string
	Pair       string
	MetricName string
}

// SubscribeOutcome reports what Subscribe changed.
type SubscribeOutcome struct {
	TrackedMetricID int64
	Created         bool // false when an active subscription already existed
}

// UnsubscribeOutcome reports what Unsubscribe changed.
type UnsubscribeOutcome struct {
	TrackedMetricID int64 // zero when the tracked metric does not exist
	Removed         bool  // false when no active subscription existed
}

// Store is the persistence interface. Implementations must enforce at most one
// tracked metric per (market, pair, metric type), at most one active
// subscription per (user, tracked metric), and upsert-or-ignore semantics for
// metric values keyed by (tracked metric, queriedAt).
type Store interface {
	// Users and metric types
	PutUser(ctx context.Context, email string) (*types.User, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
	DeleteUser(ctx context.Context, id int64, at time.Time) error
	PutMetricType(ctx context.Context, name string, accessPath []string) (*types.MetricType, error)
	GetMetricType(ctx context.Context, name string) (*types.MetricType, error)
	RetireMetricType(ctx context.Context, name string, at time.Time) error

	// Subscriptions. Subscribe and Unsubscribe validate the user and metric
	// type and apply their writes inside one transaction; validation failures
	// are returned as mwerr kinds.
	Subscribe(ctx context.Context, key SubscriptionKey, at time.Time) (SubscribeOutcome, error)
	Unsubscribe(ctx context.Context, key SubscriptionKey, at time.Time) (UnsubscribeOutcome, error)
	RetireSubscriptions(ctx context.Context, at time.Time) (int64, error)
	ListUserSubscriptions(ctx context.Context, userID int64) ([]types.SubscriptionView, error)
	ListSubscribers(ctx context.Context, trackedMetricID int64) ([]types.Subscriber, error)
	CountSubscriptionsCreatedBefore(ctx context.Context, before time.Time) (int64, error)

	// Metric values
	ListActiveMetrics(ctx context.Context) ([]types.ActiveMetric, error)
	InsertValue(ctx context.Context, v types.MetricValue) (bool, error)
	WindowStats(ctx context.Context, trackedMetricID int64, since, until time.Time) (types.WindowStats, error)
	PruneValues(ctx context.Context, before time.Time) (int64, error)
	LatestValueTime(ctx context.Context) (*time.Time, error)
	PeerVolatility(ctx context.Context, trackedMetricID int64) ([]types.PeerVolatility, error)
	SeriesByIDs(ctx context.Context, ids []int64) (map[int64][]types.Point, error)

	Ping(ctx context.Context) error
}

// Locker provides best-effort distributed locks used to dedup alerts across
// independently scheduled runs.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

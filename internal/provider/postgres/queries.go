package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetUser returns the user with the given id, or nil if none exists.
func (s *Store) GetUser(ctx context.Context, id int64) (*types.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u types.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, created_at, deleted_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get user: %w", err))
	}
	return &u, nil
}

// GetMetricType returns the metric type with the given name, or nil if none exists.
func (s *Store) GetMetricType(ctx context.Context, name string) (*types.MetricType, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.getMetricType(ctx, s.pool, name)
}

func (s *Store) getMetricType(ctx context.Context, q querier, name string) (*types.MetricType, error) {
	var mt types.MetricType
	err := q.QueryRow(ctx, `
		SELECT id, name, access_path, created_at, deleted_at
		FROM metric_types WHERE name = $1
	`, name).Scan(&mt.ID, &mt.Name, &mt.AccessPath, &mt.CreatedAt, &mt.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get metric type: %w", err))
	}
	return &mt, nil
}

// ListUserSubscriptions returns the user's active subscriptions, oldest first.
func (s *Store) ListUserSubscriptions(ctx context.Context, userID int64) ([]types.SubscriptionView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, tm.id, tm.market, tm.pair, mt.name, s.created_at
		FROM subscriptions s
		JOIN tracked_metrics tm ON tm.id = s.tracked_metric_id
		JOIN metric_types mt ON mt.id = tm.metric_type_id
		WHERE s.user_id = $1 AND s.deleted_at IS NULL
		ORDER BY s.created_at, s.id
	`, userID)
	if err != nil {
		return nil, classify(fmt.Errorf("list user subscriptions: %w", err))
	}
	defer rows.Close()

	var views []types.SubscriptionView
	for rows.Next() {
		var v types.SubscriptionView
		if err := rows.Scan(&v.SubscriptionID, &v.TrackedMetricID, &v.Market, &v.Pair,
			&v.MetricName, &v.CreatedAt); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, classify(rows.Err())
}

// ListSubscribers returns the active, non-deleted users subscribed to a tracked metric.
func (s *Store) ListSubscribers(ctx context.Context, trackedMetricID int64) ([]types.Subscriber, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.email
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.tracked_metric_id = $1
			AND s.deleted_at IS NULL
			AND u.deleted_at IS NULL
		ORDER BY u.id
	`, trackedMetricID)
	if err != nil {
		return nil, classify(fmt.Errorf("list subscribers: %w", err))
	}
	defer rows.Close()

	var subs []types.Subscriber
	for rows.Next() {
		var sub types.Subscriber
		if err := rows.Scan(&sub.UserID, &sub.Email); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, classify(rows.Err())
}

// CountSubscriptionsCreatedBefore counts active subscriptions created before the given time.
func (s *Store) CountSubscriptionsCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM subscriptions
		WHERE deleted_at IS NULL AND created_at < $1
	`, before).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count subscriptions: %w", err))
	}
	return n, nil
}

// ListActiveMetrics returns tracked metrics with at least one active
// subscription and a live metric type.
func (s *Store) ListActiveMetrics(ctx context.Context) ([]types.ActiveMetric, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT tm.id, tm.market, tm.pair, tm.metric_type_id, tm.created_at, mt.name, mt.access_path
		FROM tracked_metrics tm
		JOIN metric_types mt ON mt.id = tm.metric_type_id
		WHERE mt.deleted_at IS NULL
			AND EXISTS (
				SELECT 1 FROM subscriptions s
				WHERE s.tracked_metric_id = tm.id AND s.deleted_at IS NULL
			)
		ORDER BY tm.id
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("list active metrics: %w", err))
	}
	defer rows.Close()

	var metrics []types.ActiveMetric
	for rows.Next() {
		var m types.ActiveMetric
		if err := rows.Scan(&m.ID, &m.Market, &m.Pair, &m.MetricTypeID, &m.CreatedAt,
			&m.MetricName, &m.AccessPath); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, classify(rows.Err())
}

// WindowStats returns the sample count and mean for a tracked metric in [since, until).
func (s *Store) WindowStats(ctx context.Context, trackedMetricID int64, since, until time.Time) (types.WindowStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ws types.WindowStats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(value), 0)
		FROM metric_values
		WHERE tracked_metric_id = $1 AND queried_at >= $2 AND queried_at < $3
	`, trackedMetricID, since.UTC(), until.UTC()).Scan(&ws.Count, &ws.Mean)
	if err != nil {
		return types.WindowStats{}, classify(fmt.Errorf("window stats: %w", err))
	}
	return ws, nil
}

// LatestValueTime returns the most recent queriedAt across all metrics, or nil
// when no values exist.
func (s *Store) LatestValueTime(ctx context.Context) (*time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var latest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT max(queried_at) FROM metric_values`).Scan(&latest); err != nil {
		return nil, classify(fmt.Errorf("latest value time: %w", err))
	}
	return latest, nil
}

// PeerVolatility returns the population standard deviation of every tracked
// metric sharing the given metric's market and metric type that has history.
func (s *Store) PeerVolatility(ctx context.Context, trackedMetricID int64) ([]types.PeerVolatility, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT tm.id, COALESCE(stddev_pop(mv.value), 0)
		FROM tracked_metrics target
		JOIN tracked_metrics tm
			ON tm.market = target.market AND tm.metric_type_id = target.metric_type_id
		JOIN metric_values mv ON mv.tracked_metric_id = tm.id
		WHERE target.id = $1
		GROUP BY tm.id
		ORDER BY 2 DESC, tm.id ASC
	`, trackedMetricID)
	if err != nil {
		return nil, classify(fmt.Errorf("peer volatility: %w", err))
	}
	defer rows.Close()

	var peers []types.PeerVolatility
	for rows.Next() {
		var p types.PeerVolatility
		if err := rows.Scan(&p.TrackedMetricID, &p.StdDev); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, classify(rows.Err())
}

// SeriesByIDs fetches the series of every requested tracked metric in a
// single query and partitions it client-side. Each series is ascending by
// timestamp and every requested id is present in the result.
func (s *Store) SeriesByIDs(ctx context.Context, ids []int64) (map[int64][]types.Point, error) {
	out := make(map[int64][]types.Point, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = []types.Point{}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT tracked_metric_id, queried_at, value
		FROM metric_values
		WHERE tracked_metric_id = ANY($1)
		ORDER BY tracked_metric_id, queried_at
	`, ids)
	if err != nil {
		return nil, classify(fmt.Errorf("series by ids: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			p  types.Point
		)
		if err := rows.Scan(&id, &p.Timestamp, &p.Value); err != nil {
			return nil, err
		}
		out[id] = append(out[id], p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

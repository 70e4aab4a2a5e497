package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// PutUser inserts a new user.
func (s *Store) PutUser(ctx context.Context, email string) (*types.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u types.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email) VALUES ($1)
		RETURNING id, email, created_at, deleted_at
	`, email).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.DeletedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("insert user: %w", err))
	}
	return &u, nil
}

// DeleteUser soft-deletes a user.
func (s *Store) DeleteUser(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	return classify(err)
}

// PutMetricType registers a metric type. An existing type keeps its access
// path, since live history may already depend on it.
func (s *Store) PutMetricType(ctx context.Context, name string, accessPath []string) (*types.MetricType, error) {
	if len(accessPath) == 0 || len(accessPath) > types.MaxAccessPathDepth {
		return nil, fmt.Errorf("access path must have 1 to %d keys, got %d", types.MaxAccessPathDepth, len(accessPath))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO metric_types (name, access_path) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, accessPath); err != nil {
		return nil, classify(fmt.Errorf("insert metric type: %w", err))
	}
	mt, err := s.getMetricType(ctx, s.pool, name)
	if err != nil {
		return nil, err
	}
	if mt == nil {
		return nil, fmt.Errorf("metric type %q vanished after insert", name)
	}
	return mt, nil
}

// RetireMetricType soft-deletes a metric type.
func (s *Store) RetireMetricType(ctx context.Context, name string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE metric_types SET deleted_at = $2 WHERE name = $1 AND deleted_at IS NULL
	`, name, at)
	return classify(err)
}

// Subscribe validates the user and metric type, resolves or creates the
// tracked metric and inserts an active subscription, all in one transaction.
// The unique constraints make concurrent calls for the same triple converge on
// one tracked metric and one active subscription.
func (s *Store) Subscribe(ctx context.Context, key provider.SubscriptionKey, at time.Time) (provider.SubscribeOutcome, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out provider.SubscribeOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		metricTypeID, err := validateKey(ctx, tx, key)
		if err != nil {
			return err
		}

		trackedID, err := resolveTrackedMetric(ctx, tx, key.Market, key.Pair, metricTypeID)
		if err != nil {
			return err
		}
		out.TrackedMetricID = trackedID

		tag, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (user_id, tracked_metric_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, tracked_metric_id) WHERE deleted_at IS NULL DO NOTHING
		`, key.UserID, trackedID, at)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		out.Created = tag.RowsAffected() == 1
		return nil
	})
	return out, err
}

// Unsubscribe validates the user and metric type and soft-deletes the active
// subscription, if any. Tracked metrics and their history are never removed.
func (s *Store) Unsubscribe(ctx context.Context, key provider.SubscriptionKey, at time.Time) (provider.UnsubscribeOutcome, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out provider.UnsubscribeOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		metricTypeID, err := validateKey(ctx, tx, key)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			SELECT id FROM tracked_metrics
			WHERE market = $1 AND pair = $2 AND metric_type_id = $3
		`, key.Market, key.Pair, metricTypeID).Scan(&out.TrackedMetricID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup tracked metric: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions SET deleted_at = $3
			WHERE user_id = $1 AND tracked_metric_id = $2 AND deleted_at IS NULL
		`, key.UserID, out.TrackedMetricID, at)
		if err != nil {
			return fmt.Errorf("soft-delete subscription: %w", err)
		}
		out.Removed = tag.RowsAffected() > 0
		return nil
	})
	return out, err
}

// RetireSubscriptions soft-deletes every active subscription whose metric
// type has been retired.
func (s *Store) RetireSubscriptions(ctx context.Context, at time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions s SET deleted_at = $1
		FROM tracked_metrics tm
		JOIN metric_types mt ON mt.id = tm.metric_type_id
		WHERE s.tracked_metric_id = tm.id
			AND s.deleted_at IS NULL
			AND mt.deleted_at IS NOT NULL
	`, at)
	if err != nil {
		return 0, classify(fmt.Errorf("retire subscriptions: %w", err))
	}
	return tag.RowsAffected(), nil
}

// InsertValue records a sample. A second sample for the same tracked metric
// and minute is ignored; the returned bool reports whether a row was written.
func (s *Store) InsertValue(ctx context.Context, v types.MetricValue) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO metric_values (tracked_metric_id, queried_at, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tracked_metric_id, queried_at) DO NOTHING
	`, v.TrackedMetricID, v.QueriedAt.UTC(), v.Value)
	if err != nil {
		return false, classify(fmt.Errorf("insert metric value: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// PruneValues deletes every sample older than before in one statement.
func (s *Store) PruneValues(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM metric_values WHERE queried_at < $1`, before.UTC())
	if err != nil {
		return 0, classify(fmt.Errorf("prune metric values: %w", err))
	}
	return tag.RowsAffected(), nil
}

// validateKey checks the user and metric type under share locks so neither
// can be soft-deleted mid-transaction, and returns the metric type id.
func validateKey(ctx context.Context, tx pgx.Tx, key provider.SubscriptionKey) (int64, error) {
	var userDeletedAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT deleted_at FROM users WHERE id = $1 FOR SHARE
	`, key.UserID).Scan(&userDeletedAt)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && userDeletedAt != nil) {
		return 0, mwerr.New(mwerr.KindInvalidUser, "invalid user id %d", key.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}

	var (
		metricTypeID int64
		retiredAt    *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, deleted_at FROM metric_types WHERE name = $1 FOR SHARE
	`, key.MetricName).Scan(&metricTypeID, &retiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, mwerr.New(mwerr.KindInvalidMetric, "invalid metric %q", key.MetricName)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup metric type: %w", err)
	}
	if retiredAt != nil {
		return 0, mwerr.New(mwerr.KindMetricRetired, "metric %q was retired at %s",
			key.MetricName, retiredAt.UTC().Format(time.RFC3339))
	}
	return metricTypeID, nil
}

func resolveTrackedMetric(ctx context.Context, tx pgx.Tx, market, pair string, metricTypeID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO tracked_metrics (market, pair, metric_type_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (market, pair, metric_type_id) DO NOTHING
		RETURNING id
	`, market, pair, metricTypeID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("insert tracked metric: %w", err)
	}

	// Row already existed (possibly committed by a concurrent subscriber).
	err = tx.QueryRow(ctx, `
		SELECT id FROM tracked_metrics
		WHERE market = $1 AND pair = $2 AND metric_type_id = $3
	`, market, pair, metricTypeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, mwerr.New(mwerr.KindStoreConflict, "tracked metric %s/%s/%d not visible after conflict", market, pair, metricTypeID)
	}
	if err != nil {
		return 0, fmt.Errorf("select tracked metric: %w", err)
	}
	return id, nil
}

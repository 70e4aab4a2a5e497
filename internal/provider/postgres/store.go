package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

var _ provider.Store = (*Store)(nil)

// Postgres SQLSTATE codes treated as retryable conflicts.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store is a Postgres-backed metricwatch store. Every method acquires its
// connection from the pool for the duration of the call only.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, cfg types.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool, timeout: cfg.StatementTimeout()}, nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping verifies the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn inside a transaction. The transaction is rolled back on every
// path that does not reach Commit.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classify maps constraint races and deadlines onto mwerr kinds and leaves
// already-classified errors untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mwerr.Error
	if errors.As(err, &me) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return mwerr.Wrap(mwerr.KindStoreConflict, err, "store conflict")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mwerr.Wrap(mwerr.KindTimeout, err, "store timeout")
	}
	return err
}

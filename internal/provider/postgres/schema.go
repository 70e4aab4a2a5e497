// Package postgres implements the metricwatch Store on Postgres.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    email       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS metric_types (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    access_path  TEXT[] NOT NULL
        CHECK (cardinality(access_path) BETWEEN 1 AND 3),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tracked_metrics (
    id              BIGSERIAL PRIMARY KEY,
    market          TEXT NOT NULL,
    pair            TEXT NOT NULL,
    metric_type_id  BIGINT NOT NULL REFERENCES metric_types (id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (market, pair, metric_type_id)
);
CREATE INDEX IF NOT EXISTS idx_tracked_metrics_peer ON tracked_metrics (metric_type_id, market);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                 BIGSERIAL PRIMARY KEY,
    user_id            BIGINT NOT NULL REFERENCES users (id),
    tracked_metric_id  BIGINT NOT NULL REFERENCES tracked_metrics (id),
    created_at         TIMESTAMPTZ NOT NULL,
    deleted_at         TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active
    ON subscriptions (user_id, tracked_metric_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_subscriptions_tracked ON subscriptions (tracked_metric_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS metric_values (
    tracked_metric_id  BIGINT NOT NULL REFERENCES tracked_metrics (id),
    queried_at         TIMESTAMPTZ NOT NULL,
    value              DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (tracked_metric_id, queried_at)
);
CREATE INDEX IF NOT EXISTS idx_metric_values_queried_at ON metric_values (queried_at);
`

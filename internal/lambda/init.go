package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/metricwatch/internal/alert"
	"github.com/dwsmith1983/metricwatch/internal/config"
	"github.com/dwsmith1983/metricwatch/internal/ingestor"
	"github.com/dwsmith1983/metricwatch/internal/logging"
	"github.com/dwsmith1983/metricwatch/internal/marketdata"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	pgstore "github.com/dwsmith1983/metricwatch/internal/provider/postgres"
	"github.com/dwsmith1983/metricwatch/internal/provider/redis"
	"github.com/dwsmith1983/metricwatch/internal/telemetry"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Config    *types.ProjectConfig
	Store     provider.Store
	Locker    provider.Locker
	Notifier  alert.Notifier
	Client    *marketdata.Client
	Logger    *slog.Logger
	Telemetry *telemetry.Providers
}

// ConfigFromEnv builds the project config from Lambda environment variables.
// Reads: AWS_REGION, DATABASE_SECRET_ARN or METRICWATCH_DSN, OPS_EMAIL,
// ALERT_FROM, REDIS_ADDR, MARKET_DATA_URL, MARKET_DATA_WORKERS,
// CADENCE_PER_MINUTE, LOOKBACK_HOURS, ALERT_LOOKBACK_HOURS, ALERT_FACTOR,
// MISSING_DATA_TOLERANCE, FRESHNESS_GRACE_PERIOD, FRESHNESS_THRESHOLD_FACTOR,
// SLOWNESS_FRACTION, OTEL_EXPORTER_OTLP_ENDPOINT, LOG_LEVEL.
func ConfigFromEnv(getenv func(string) string) (*types.ProjectConfig, error) {
	region := getenv("AWS_REGION")
	if region == "" {
		return nil, fmt.Errorf("AWS_REGION environment variable required")
	}

	cfg := config.Defaults()
	cfg.Database.SecretARN = getenv("DATABASE_SECRET_ARN")
	cfg.Database.Timeout = getenv("DATABASE_TIMEOUT")
	config.ApplyEnv(&cfg, getenv)
	if cfg.Database.DSN == "" && cfg.Database.SecretARN == "" {
		return nil, fmt.Errorf("DATABASE_SECRET_ARN or %s environment variable required", config.EnvDSN)
	}
	if addr := getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = &types.RedisConfig{Addr: addr, KeyPrefix: envOrDefault(getenv, "REDIS_KEY_PREFIX", "metricwatch:")}
	}

	cfg.MarketData.BaseURL = envOrDefault(getenv, "MARKET_DATA_URL", cfg.MarketData.BaseURL)
	cfg.MarketData.Timeout = getenv("MARKET_DATA_TIMEOUT")
	workers, err := envInt(getenv, "MARKET_DATA_WORKERS", cfg.MarketData.Workers)
	if err != nil {
		return nil, err
	}
	cfg.MarketData.Workers = workers

	p := &cfg.Pipeline
	floats := []struct {
		key string
		dst *float64
	}{
		{"CADENCE_PER_MINUTE", &p.CadencePerMinute},
		{"LOOKBACK_HOURS", &p.LookbackHours},
		{"ALERT_LOOKBACK_HOURS", &p.AlertLookbackHours},
		{"ALERT_FACTOR", &p.AlertFactor},
		{"MISSING_DATA_TOLERANCE", &p.MissingDataTolerance},
		{"FRESHNESS_THRESHOLD_FACTOR", &p.FreshnessThresholdFactor},
		{"SLOWNESS_FRACTION", &p.SlownessFraction},
	}
	for _, f := range floats {
		v, err := envFloat(getenv, f.key, *f.dst)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	p.FreshnessGracePeriod = getenv("FRESHNESS_GRACE_PERIOD")

	if getenv(config.EnvOpsEmail) == "" {
		cfg.Alerts.OpsEmail = getenv("OPS_EMAIL")
	}
	cfg.Alerts.From = envOrDefault(getenv, "ALERT_FROM", cfg.Alerts.From)
	cfg.Alerts.Sinks = []types.AlertSinkConfig{{Type: types.AlertSES, Region: region}}

	if endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry = &types.TelemetryConfig{OTLPEndpoint: endpoint, ServiceName: getenv("AWS_LAMBDA_FUNCTION_NAME")}
	}
	cfg.Log = types.LogConfig{Level: envOrDefault(getenv, "LOG_LEVEL", "info"), Production: true}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init creates shared dependencies from environment variables.
func Init(ctx context.Context) (*Deps, error) {
	cfg, err := ConfigFromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("starting telemetry: %w", err)
	}

	dsn, err := config.ResolveDSN(ctx, cfg.Database, nil)
	if err != nil {
		return nil, err
	}
	dbCfg := cfg.Database
	dbCfg.DSN = dsn
	store, err := pgstore.New(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to Postgres: %w", err)
	}

	var locker provider.Locker
	if cfg.Redis != nil {
		locker = redis.New(cfg.Redis)
	}

	notifier, err := alert.NewDispatcher(ctx, cfg.Alerts, alert.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}

	return &Deps{
		Config:    cfg,
		Store:     store,
		Locker:    locker,
		Notifier:  notifier,
		Client:    marketdata.FromConfig(cfg.MarketData, logger),
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Ingestor builds an ingestor over d.
func (d *Deps) Ingestor() *ingestor.Ingestor {
	return ingestor.New(ingestor.Options{
		Store:      d.Store,
		NewFetcher: func() ingestor.Fetcher { return d.Client.Session() },
		Notifier:   d.Notifier,
		Locker:     d.Locker,
		Logger:     d.Logger,
		Pipeline:   d.Config.Pipeline,
		Workers:    d.Config.MarketData.Workers,
		OpsEmail:   d.Config.Alerts.OpsEmail,
	})
}

// CheckOptions returns freshness probe options over d.
func (d *Deps) CheckOptions() watchdog.CheckOptions {
	return watchdog.CheckOptions{
		Store:    d.Store,
		Notifier: d.Notifier,
		Locker:   d.Locker,
		Logger:   d.Logger,
		Pipeline: d.Config.Pipeline,
		OpsEmail: d.Config.Alerts.OpsEmail,
	}
}

// Flush exports buffered telemetry before the invocation returns.
func (d *Deps) Flush(ctx context.Context) {
	if d.Telemetry == nil {
		return
	}
	if err := d.Telemetry.Flush(ctx); err != nil {
		d.Logger.Warn("lambda: telemetry flush failed", "error", err)
	}
}

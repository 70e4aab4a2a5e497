// Package commands implements the CLI subcommands for the metricwatch binary.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/dwsmith1983/metricwatch/internal/alert"
	"github.com/dwsmith1983/metricwatch/internal/config"
	"github.com/dwsmith1983/metricwatch/internal/logging"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	pgstore "github.com/dwsmith1983/metricwatch/internal/provider/postgres"
	"github.com/dwsmith1983/metricwatch/internal/provider/redis"
	"github.com/dwsmith1983/metricwatch/internal/telemetry"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// ConfigDir is the directory holding metricwatch.yaml. Bound to the root
// command's --config-dir flag.
var ConfigDir = "."

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg      *types.ProjectConfig
	logger   *slog.Logger
	store    *pgstore.Store
	locker   provider.Locker
	notifier *alert.Dispatcher
	closers  []func()
}

// setupOptions selects which optional dependencies a command needs.
type setupOptions struct {
	notifier  bool
	telemetry bool
}

func setup(ctx context.Context, opts setupOptions) (*app, error) {
	cfg, err := config.Load(ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, sync, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = sync() })

	if opts.telemetry {
		tel, err := telemetry.Setup(ctx, cfg.Telemetry)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("starting telemetry: %w", err)
		}
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
		})
	}

	dsn, err := config.ResolveDSN(ctx, cfg.Database, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	dbCfg := cfg.Database
	dbCfg.DSN = dsn
	store, err := pgstore.New(ctx, dbCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to Postgres: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if cfg.Redis != nil {
		lp := redis.New(cfg.Redis)
		if err := lp.Ping(ctx); err != nil {
			// Dedup is best-effort; run without it rather than fail.
			logger.Warn("redis unavailable, alert dedup disabled", "addr", cfg.Redis.Addr, "error", err)
			_ = lp.Close()
		} else {
			a.locker = lp
			a.closers = append(a.closers, func() { _ = lp.Close() })
		}
	}

	if opts.notifier {
		d, err := alert.NewDispatcher(ctx, cfg.Alerts, alert.WithLogger(logger))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating alert dispatcher: %w", err)
		}
		a.notifier = d
		a.closers = append(a.closers, func() { _ = d.Close() })
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", what, s)
	}
	return id, nil
}

// errFailedResult marks a command whose structured result was already
// printed but reported failure.
var errFailedResult = errors.New("operation failed")

// Package logging builds the process logger: a *slog.Logger backed by a zap core.
package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// New returns a logger and a sync func to flush it before exit. Production
// mode writes JSON; otherwise a colored console encoder is used.
func New(cfg types.LogConfig) (*slog.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	var zc zap.Config
	if cfg.Production {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zl, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return FromZap(zl), zl.Sync, nil
}

// FromZap wraps an existing zap logger.
func FromZap(zl *zap.Logger) *slog.Logger {
	return slog.New(zapslog.NewHandler(zl.Core()))
}

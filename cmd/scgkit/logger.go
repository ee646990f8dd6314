package main

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/next-trace/scg-service-kit/config"
)

// newLoggers builds the zap logger used for CLI output and the slog logger
// handed to library constructors, both at the configured level.
func newLoggers(cfg config.LogConfig, w io.Writer) (*zap.Logger, *slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(zapLevel(lvl))

	log, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}

	return log, slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l < slog.LevelInfo:
		return zapcore.DebugLevel
	case l < slog.LevelWarn:
		return zapcore.InfoLevel
	case l < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

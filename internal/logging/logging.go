// Package logging wraps zap for the view runtime core.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the package-level logger. It is a safe no-op until Initialize
// is called, so packages that log at import time or in tests never
// dereference a nil logger.
var Log *zap.SugaredLogger

func init() {
	Log = zap.NewNop().Sugar()
}

// Initialize configures the global logger. jsonOutput selects a
// structured production encoder suitable for log aggregation; otherwise
// a minimal console encoder is used.
func Initialize(jsonOutput bool) error {
	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zapLogger, err = cfg.Build()
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.TimeKey = ""
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.AddSync(os.Stdout),
				zap.InfoLevel,
			),
		)
	}

	if err != nil {
		return err
	}

	Log = zapLogger.Sugar()
	return nil
}

// Named returns a child logger scoped to a component, e.g. "controller"
// or "scheduler", the way the teacher scopes "pulse".
func Named(component string) *zap.SugaredLogger {
	return Log.Named(component)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = Log.Sync()
}

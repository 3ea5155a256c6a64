// Package observability owns process-wide logging for warden.
//
// CLILogger is the shared logger for command and server code. It starts as a
// no-op so library code can log unconditionally; Init replaces it once the
// logging configuration is known.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. Never nil.
var CLILogger = zap.NewNop()

// Init builds the process logger from a level string and an output profile.
// Profile "structured" emits JSON for log shippers; "console" is for humans.
func Init(level, profile string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch profile {
	case "", "structured":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid logging profile %q (expected structured or console)", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	zap.ReplaceGlobals(logger)
	return nil
}

// Sync flushes buffered log entries. Safe to call at process exit.
func Sync() {
	_ = CLILogger.Sync()
}

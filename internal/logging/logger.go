// Package logging provides structured logging for prefill. It builds
// hclog loggers with a shared configuration so every component logs in
// the same format, and reads the desired level from the environment.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// EnvLogLevel sets the log level (trace, debug, info, warn, error, off).
const EnvLogLevel = "PREFILL_LOG"

// New creates the root logger. Components derive their own via Named.
func New() hclog.Logger {
	return NewWithOutput(os.Stderr)
}

// NewWithOutput creates the root logger writing to w.
func NewWithOutput(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "prefill",
		Level:  levelFromEnv(),
		Output: w,
	})
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}

func levelFromEnv() hclog.Level {
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return hclog.Warn
	}
	level := hclog.LevelFromString(raw)
	if level == hclog.NoLevel {
		return hclog.Warn
	}
	return level
}

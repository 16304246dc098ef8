package helpers

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a new Logger with structured logging using slog
// logLevel can be "debug", "info", "warn", or "error"; anything else falls back to info
func NewLogger(serviceName, logLevel string) *slog.Logger {
	return NewLoggerTo(os.Stdout, serviceName, logLevel)
}

// NewLoggerTo is NewLogger writing to an arbitrary sink
func NewLoggerTo(w io.Writer, serviceName, logLevel string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("service", serviceName)
}

// Package logger wires slog for the gateway processes.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process logger and installs it as slog's default.
// Production emits JSON for the log pipeline; anything else emits text
// at debug level for local reading. LOG_LEVEL overrides the level in
// either mode.
func Setup(env string) *slog.Logger {
	level := slog.LevelInfo
	if env != "production" {
		level = slog.LevelDebug
	}
	if override, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = override
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", "mailpool")
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

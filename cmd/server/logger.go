package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/warp/praise-ledger/config"
)

const serviceName = "praise-ledger"

// NewLogger builds the process logger on stderr and installs it as the
// slog default.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// newLogger writes to w. Every record carries service=praise-ledger so the
// ledger's lines can be picked out of a shared log stream. Text output adds
// source locations for local debugging; json does not.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	text := strings.EqualFold(cfg.Format, "text")
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: text}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if text {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", serviceName))
}

// parseLevel maps debug, warn and error (any case); anything else is info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

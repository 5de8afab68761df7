package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// setupLogger builds the process logger. Unknown levels fall back to info
// and unknown formats to JSON; debug logging adds source positions.
func setupLogger(level, format string, out io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("service", appName, "version", Version, "pid", os.Getpid())
}

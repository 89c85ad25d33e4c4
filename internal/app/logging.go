package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// newLoggerTo builds the process logger. Records go to w as JSON lines unless
// format is "text".
func newLoggerTo(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q (use: json|text)", format)
	}
	return slog.New(h), nil
}

func parseLogLevel(level string) (slog.Level, error) {
	s := strings.TrimSpace(level)
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q (use: debug|info|warn|error)", level)
	}
	return lvl, nil
}

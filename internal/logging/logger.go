// Package logging builds the process-wide structured logger and, per match,
// a transcript logger that fans records out to both the process logger and
// a compressed per-match file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// silentLevel is set above slog.LevelError so -q/--silent suppresses every
// log record except the fatal process-exit message cmd/beerd writes
// directly to stderr.
const silentLevel = slog.LevelError + 4

// NewLogger builds the process-wide logger. level is "debug", "info"
// (default), "warn", "error", or "silent"; format is "json" (default) or
// "text". The returned io.Closer is always safe to defer-Close.
func NewLogger(level, format string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler), io.NopCloser(nil)
}

// LevelFor resolves the --debug/-q flag pair to a level string; silent wins
// if both are set.
func LevelFor(debug, silent bool) string {
	switch {
	case silent:
		return "silent"
	case debug:
		return "debug"
	default:
		return "info"
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent":
		return silentLevel
	default:
		return slog.LevelInfo
	}
}

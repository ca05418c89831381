package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// fanOutHandler dispatches every record to two handlers: the process-wide
// logger and, when configured, a match's own transcript file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A failing transcript write must never take down the match's own log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// matchLogCloser closes the gzip writer before the underlying file so the
// archive's trailer is flushed while the fd is still open.
type matchLogCloser struct {
	gz   *gzip.Writer
	file *os.File
}

func (c *matchLogCloser) Close() error {
	if err := c.gz.Close(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// NewMatchLogger opens {logDir}/{matchID}.jsonl.gz and returns a logger that
// fans every record about this match out to baseLogger and the compressed
// transcript. If logDir is empty, it returns baseLogger unmodified with a
// no-op closer: the transcript is an optional durable mirror an operator may
// inspect after the fact, never read back in-process, so its absence
// changes nothing about match behavior.
func NewMatchLogger(baseLogger *slog.Logger, logDir, matchID string) (*slog.Logger, io.Closer, error) {
	if logDir == "" {
		return baseLogger, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating match log directory %s: %w", logDir, err)
	}

	path := filepath.Join(logDir, matchID+".jsonl.gz")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening match transcript %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)

	fileHandler := slog.NewJSONHandler(gz, &slog.HandlerOptions{Level: slog.LevelDebug})
	combined := &fanOutHandler{primary: baseLogger.Handler(), secondary: fileHandler}

	return slog.New(combined), &matchLogCloser{gz: gz, file: f}, nil
}

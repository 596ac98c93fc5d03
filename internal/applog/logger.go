package applog

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// teeHandler fans each record out to every destination handler. A failing
// destination never blocks the others; errors are joined.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// SetupLogger creates a logger that writes human-readable text to stdout and
// structured JSON to this run's log file. The caller owns closing the file.
func SetupLogger(mgr *Manager, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(mgr.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(teeHandler{
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}),
		slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: logLevel}),
	})

	return logger, logFile, nil
}

package pstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithPath adds the store path to every record.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogOpen logs opening or creating a store.
func (l *Logger) LogOpen(ctx context.Context, created, readOnly bool, generation uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"created", created,
			"read_only", readOnly,
			"error", err,
		)
		return
	}
	msg := "store opened"
	if created {
		msg = "store created"
	}
	l.InfoContext(ctx, msg,
		"read_only", readOnly,
		"generation", generation,
	)
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, generation uint32, size uint64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"generation", generation,
			"size", size,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "commit completed",
		"generation", generation,
		"size", size,
		"duration", duration,
	)
}

// LogRollback logs an abandoned transaction.
func (l *Logger) LogRollback(ctx context.Context, base uint32, abandoned uint64) {
	l.DebugContext(ctx, "transaction rolled back",
		"base_generation", base,
		"abandoned_bytes", abandoned,
	)
}

// LogCorruption logs a failed header or trailer check.
func (l *Logger) LogCorruption(ctx context.Context, err error) {
	l.WarnContext(ctx, "corruption detected", "error", err)
}

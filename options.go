package pstore

import (
	"log/slog"
	"time"

	"github.com/hupe1980/pstore/internal/fs"
)

// Option configures a Database.
type Option func(*Database)

// WithReadOnly opens an existing store without write access. Begin fails
// with ErrReadOnly and the file is never created or grown.
func WithReadOnly() Option {
	return func(db *Database) {
		db.readOnly = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.logger = &Logger{Logger: l}
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc MetricsCollector) Option {
	return func(db *Database) {
		if mc != nil {
			db.metrics = mc
		}
	}
}

// WithFileSystem sets the file system used to create and open the store.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(db *Database) {
		if fsys != nil {
			db.fs = fsys
		}
	}
}

// WithClock sets the time source for trailer timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *Database) {
		if now != nil {
			db.now = now
		}
	}
}

// WithProtect controls whether committed pages are made read-only.
// It defaults to true.
func WithProtect(enabled bool) Option {
	return func(db *Database) {
		db.protect = enabled
	}
}

// WithMaxRegionSize caps the size of a single memory mapping. Smaller
// regions mean more mappings; the value is rounded up to a whole number of
// segments.
func WithMaxRegionSize(n uint64) Option {
	return func(db *Database) {
		db.maxRegion = n
	}
}

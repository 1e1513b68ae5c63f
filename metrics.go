package pstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// promcollector package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordBegin is called after a writer acquired (or failed to acquire)
	// the transaction lock. wait is the time spent waiting.
	RecordBegin(wait time.Duration, err error)

	// RecordCommit is called after each commit attempt. size is the number
	// of bytes published, zero for an empty transaction.
	RecordCommit(size uint64, duration time.Duration, err error)

	// RecordRollback is called when a transaction is abandoned.
	// abandoned is the number of bytes it had allocated.
	RecordRollback(abandoned uint64)

	// RecordCorruption is called when a header or trailer check fails.
	RecordCorruption(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBegin(time.Duration, error)          {}
func (NoopMetricsCollector) RecordCommit(uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordRollback(uint64)                     {}
func (NoopMetricsCollector) RecordCorruption(error)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BeginCount      atomic.Int64
	BeginErrors     atomic.Int64
	BeginWaitNanos  atomic.Int64
	CommitCount     atomic.Int64
	CommitErrors    atomic.Int64
	CommitBytes     atomic.Int64
	CommitNanos     atomic.Int64
	RollbackCount   atomic.Int64
	AbandonedBytes  atomic.Int64
	CorruptionCount atomic.Int64
}

func (b *BasicMetricsCollector) RecordBegin(wait time.Duration, err error) {
	b.BeginCount.Add(1)
	b.BeginWaitNanos.Add(wait.Nanoseconds())
	if err != nil {
		b.BeginErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordCommit(size uint64, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitBytes.Add(int64(size))
}

func (b *BasicMetricsCollector) RecordRollback(abandoned uint64) {
	b.RollbackCount.Add(1)
	b.AbandonedBytes.Add(int64(abandoned))
}

func (b *BasicMetricsCollector) RecordCorruption(error) {
	b.CorruptionCount.Add(1)
}

// MetricsStats is a point-in-time snapshot of a BasicMetricsCollector.
type MetricsStats struct {
	Begins            int64
	BeginErrors       int64
	Commits           int64
	CommitErrors      int64
	CommittedBytes    int64
	AvgCommitLatency  time.Duration
	Rollbacks         int64
	AbandonedBytes    int64
	CorruptionsTotal  int64
	AvgBeginWaitNanos int64
}

// GetStats returns a snapshot of the collected metrics.
func (b *BasicMetricsCollector) GetStats() MetricsStats {
	s := MetricsStats{
		Begins:           b.BeginCount.Load(),
		BeginErrors:      b.BeginErrors.Load(),
		Commits:          b.CommitCount.Load(),
		CommitErrors:     b.CommitErrors.Load(),
		CommittedBytes:   b.CommitBytes.Load(),
		Rollbacks:        b.RollbackCount.Load(),
		AbandonedBytes:   b.AbandonedBytes.Load(),
		CorruptionsTotal: b.CorruptionCount.Load(),
	}
	if s.Commits > 0 {
		s.AvgCommitLatency = time.Duration(b.CommitNanos.Load() / s.Commits)
	}
	if s.Begins > 0 {
		s.AvgBeginWaitNanos = b.BeginWaitNanos.Load() / s.Begins
	}
	return s
}

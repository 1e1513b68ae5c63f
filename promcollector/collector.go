// Package promcollector exports store metrics to Prometheus.
package promcollector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/pstore"
)

// Collector implements pstore.MetricsCollector with Prometheus metrics.
type Collector struct {
	Begins         *prometheus.CounterVec
	BeginWait      prometheus.Histogram
	Commits        *prometheus.CounterVec
	CommitLatency  prometheus.Histogram
	CommittedBytes prometheus.Counter
	Rollbacks      prometheus.Counter
	AbandonedBytes prometheus.Counter
	Corruptions    *prometheus.CounterVec
}

var _ pstore.MetricsCollector = (*Collector)(nil)

// New creates the metrics under namespace and registers them with reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		Begins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_begins_total",
			Help:      "Total number of transaction begin attempts",
		}, []string{"result"}),
		BeginWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_lock_wait_seconds",
			Help:      "Histogram of time spent acquiring the writer lock",
			Buckets:   prometheus.DefBuckets,
		}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Total number of commits",
		}, []string{"result"}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Histogram of commit latency including the flush",
			Buckets:   prometheus.DefBuckets,
		}),
		CommittedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_bytes_total",
			Help:      "Total number of bytes published by commits, excluding trailers",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of abandoned transactions",
		}),
		AbandonedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_bytes_total",
			Help:      "Total number of bytes allocated by abandoned transactions",
		}),
		Corruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corruptions_total",
			Help:      "Total number of failed header or trailer checks",
		}, []string{"kind"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, m := range []prometheus.Collector{
		c.Begins, c.BeginWait, c.Commits, c.CommitLatency,
		c.CommittedBytes, c.Rollbacks, c.AbandonedBytes, c.Corruptions,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pstore.ErrLockUnavailable):
		return "busy"
	default:
		return "error"
	}
}

func (c *Collector) RecordBegin(wait time.Duration, err error) {
	c.Begins.WithLabelValues(result(err)).Inc()
	if err == nil {
		c.BeginWait.Observe(wait.Seconds())
	}
}

func (c *Collector) RecordCommit(size uint64, duration time.Duration, err error) {
	c.Commits.WithLabelValues(result(err)).Inc()
	c.CommitLatency.Observe(duration.Seconds())
	if err == nil {
		c.CommittedBytes.Add(float64(size))
	}
}

func (c *Collector) RecordRollback(abandoned uint64) {
	c.Rollbacks.Inc()
	c.AbandonedBytes.Add(float64(abandoned))
}

func (c *Collector) RecordCorruption(err error) {
	kind := "other"
	switch {
	case errors.Is(err, pstore.ErrHeaderCorrupt):
		kind = "header"
	case errors.Is(err, pstore.ErrFooterCorrupt):
		kind = "trailer"
	}
	c.Corruptions.WithLabelValues(kind).Inc()
}

// Package metrics exposes the sync engine's Prometheus instrumentation: how
// many objects completed, skipped, warned, or errored, how many bytes moved,
// and how long object and part uploads take.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls whether the collector is wired up at all and under what
// namespace its metric names are registered.
type Config struct {
	Enabled   bool
	Namespace string
}

// Collector owns one Prometheus registry scoped to a single sync run. It is
// safe for concurrent use by every syncer/deleter worker.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	results            *prometheus.CounterVec
	bytesTransferred   prometheus.Counter
	objectDuration     prometheus.Histogram
	partUploadDuration prometheus.Histogram
}

// NewCollector builds a Collector. A disabled collector's Record* methods
// are no-ops, so callers never need to branch on cfg.Enabled themselves.
func NewCollector(cfg Config) *Collector {
	if !cfg.Enabled {
		return &Collector{enabled: false}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "s3sync"
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		enabled:  true,
		registry: registry,
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_total",
			Help:      "Count of objects processed, labeled by terminal result.",
		}, []string{"result"}),
		bytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Total bytes copied from source to target.",
		}),
		objectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "object_duration_seconds",
			Help:      "Time to sync one object end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		partUploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "part_upload_duration_seconds",
			Help:      "Time to upload one multipart part.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(c.results, c.bytesTransferred, c.objectDuration, c.partUploadDuration)
	return c
}

// Registry exposes the underlying Prometheus registry, for an optional HTTP
// handler to serve.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordResult records one terminal event: result is "complete", "delete",
// "skip", "warning", or "error".
func (c *Collector) RecordResult(result string, bytes int64, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.results.WithLabelValues(result).Inc()
	if bytes > 0 {
		c.bytesTransferred.Add(float64(bytes))
	}
	if duration > 0 {
		c.objectDuration.Observe(duration.Seconds())
	}
}

// RecordPartUpload records the duration of one multipart part upload.
func (c *Collector) RecordPartUpload(duration time.Duration) {
	if !c.enabled {
		return
	}
	c.partUploadDuration.Observe(duration.Seconds())
}

// Package telemetry exposes the engine's internals via Prometheus,
// grounded on the teacher's internal/metrics package: a single struct
// of counters/histograms/gauges built with promauto so registration
// never needs an explicit MustRegister call, plus small helper methods
// so call sites never import the prometheus client package directly.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gauge/counter/histogram the storage core emits.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	WALAppendLatency prometheus.Histogram
	WALFsyncTotal    prometheus.Counter

	DMInsertTotal prometheus.Counter
	DMReadTotal   prometheus.Counter
	DMUpdateTotal prometheus.Counter

	BTreeSplitTotal prometheus.Counter
	BTreeHeight     prometheus.Gauge

	XidActive    prometheus.Gauge
	XidCommitted prometheus.Gauge
	XidAborted   prometheus.Gauge
}

// New registers every metric against reg (pass prometheus.NewRegistry()
// for isolated tests, or prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_cache_hits_total",
			Help: "Page cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_cache_misses_total",
			Help: "Page cache misses requiring a loader call.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_cache_evictions_total",
			Help: "Page cache evictions.",
		}),
		WALAppendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "durastore_wal_append_seconds",
			Help:    "Latency of a single WAL log() call, including fsync.",
			Buckets: prometheus.DefBuckets,
		}),
		WALFsyncTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_wal_fsync_total",
			Help: "fsync calls issued by the WAL.",
		}),
		DMInsertTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_dm_insert_total",
			Help: "DataManager.Insert calls.",
		}),
		DMReadTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_dm_read_total",
			Help: "DataManager.Read calls.",
		}),
		DMUpdateTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_dm_update_total",
			Help: "DataItem.After (update commit) calls.",
		}),
		BTreeSplitTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "durastore_btree_split_total",
			Help: "Node splits performed across all trees.",
		}),
		BTreeHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "durastore_btree_height",
			Help: "Height of the most recently touched tree.",
		}),
		XidActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "durastore_xid_active",
			Help: "Currently active transaction ids.",
		}),
		XidCommitted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "durastore_xid_committed",
			Help: "Transaction ids committed since process start.",
		}),
		XidAborted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "durastore_xid_aborted",
			Help: "Transaction ids aborted since process start.",
		}),
	}
}

// ObserveWALAppend records the duration of one Logger.Log call.
func (m *Metrics) ObserveWALAppend(d time.Duration) {
	m.WALAppendLatency.Observe(d.Seconds())
	m.WALFsyncTotal.Inc()
}


// Package metrics exposes the Prometheus counters and gauges lstore
// instances are expected to publish: bufferpool cache behavior, merge
// activity, and WAL durability events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector an lstore database registers.
type Metrics struct {
	BufferpoolHitsTotal     prometheus.Counter
	BufferpoolMissesTotal   prometheus.Counter
	BufferpoolEvictionsTotal prometheus.Counter
	BufferpoolFramesInUse   prometheus.Gauge

	MergeCyclesTotal  *prometheus.CounterVec
	MergedPagesTotal  *prometheus.CounterVec

	WALAppendsTotal     prometheus.Counter
	WALFsyncDuration    prometheus.Histogram
	WALTruncationsTotal prometheus.Counter

	TransactionsCommittedTotal *prometheus.CounterVec
	TransactionsAbortedTotal   *prometheus.CounterVec
}

// New registers and returns a fresh metric set against the default
// Prometheus registry. Callers embedding more than one database in the same
// process should use NewFor with a distinct registry instead.
func New() *Metrics {
	return NewFor(prometheus.DefaultRegisterer)
}

// NewFor registers the metric set against the given registerer.
func NewFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BufferpoolHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lstore_bufferpool_hits_total",
			Help: "Frame fetches served without reading from the column file.",
		}),
		BufferpoolMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lstore_bufferpool_misses_total",
			Help: "Frame fetches that required a column-file read.",
		}),
		BufferpoolEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lstore_bufferpool_evictions_total",
			Help: "Frames evicted from the bufferpool.",
		}),
		BufferpoolFramesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lstore_bufferpool_frames_in_use",
			Help: "Frames currently resident in the bufferpool.",
		}),
		MergeCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lstore_merge_cycles_total",
			Help: "Background merge cycles run, by table.",
		}, []string{"table"}),
		MergedPagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lstore_merged_pages_total",
			Help: "Conceptual base pages rebuilt by a merge, by table.",
		}, []string{"table"}),
		WALAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lstore_wal_appends_total",
			Help: "Transactions appended to the write-ahead log.",
		}),
		WALFsyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lstore_wal_fsync_duration_seconds",
			Help:    "Time spent fsyncing the write-ahead log.",
			Buckets: prometheus.DefBuckets,
		}),
		WALTruncationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lstore_wal_truncations_total",
			Help: "Write-ahead log truncations performed on checkpoint.",
		}),
		TransactionsCommittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lstore_transactions_committed_total",
			Help: "Transactions committed, by table.",
		}, []string{"table"}),
		TransactionsAbortedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lstore_transactions_aborted_total",
			Help: "Transactions aborted, by table.",
		}, []string{"table"}),
	}
}

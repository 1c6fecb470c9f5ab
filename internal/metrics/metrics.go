// Package metrics exposes Prometheus gauges/histograms for the indexing
// pipeline, mirroring the teacher's grpc_prometheus instrumentation
// (cmd/headers/download/downloader.go) and the corpus's indexer-metrics
// convention (other_examples polymarket-indexer syncer.go: syncer_*, chain_*
// gauges).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndexLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dipdup",
		Name:      "index_level",
		Help:      "Last committed block level per index.",
	}, []string{"index"})

	DatasourceHeadLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dipdup",
		Name:      "datasource_head_level",
		Help:      "Current chain head level as reported by a datasource.",
	}, []string{"datasource"})

	IndexStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dipdup",
		Name:      "index_status",
		Help:      "Numeric status of an index's state machine.",
	}, []string{"index"})

	CallbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dipdup",
		Name:      "callback_duration_seconds",
		Help:      "Wall-clock duration of handler/hook callback invocations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "name"})

	ReorgsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dipdup",
		Name:      "reorgs_total",
		Help:      "Count of rollback events processed.",
	})

	ReindexesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dipdup",
		Name:      "reindexes_total",
		Help:      "Count of full reindex operations triggered.",
	})
)

// ObserveCallback records a callback invocation's duration under its (kind, name)
// label pair.
func ObserveCallback(kind, name string, since time.Time) {
	CallbackDuration.WithLabelValues(kind, name).Observe(time.Since(since).Seconds())
}

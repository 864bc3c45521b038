// Package metrics instruments pyramid builds and queries with Prometheus
// collectors.  A nil *Registry is valid and records nothing, so callers that
// do not care about metrics can leave it unset.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry holds the track pyramid collectors.
type Registry struct {
	registry *prometheus.Registry

	BuildDuration *prometheus.HistogramVec
	BuildRows     *prometheus.CounterVec
	QueriesTotal  *prometheus.CounterVec
	RowsReturned  *prometheus.HistogramVec
	StoreReads    *prometheus.CounterVec
}

// NewRegistry creates a registry with every collector initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	factory := promauto.With(r.registry)

	r.BuildDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackpyramid_build_duration_seconds",
			Help:    "Time spent writing one pyramid level",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 600},
		},
		[]string{"kind", "level"},
	)
	r.BuildRows = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpyramid_build_rows_total",
			Help: "Rows written to pyramid levels",
		},
		[]string{"kind", "level"},
	)
	r.QueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpyramid_queries_total",
			Help: "Range queries answered, by the level that served them",
		},
		[]string{"kind", "level"},
	)
	r.RowsReturned = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackpyramid_query_rows",
			Help:    "Rows returned per range query",
			Buckets: []float64{10, 100, 1000, 10000, 100000},
		},
		[]string{"kind"},
	)
	r.StoreReads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpyramid_store_reads_total",
			Help: "Range reads issued against level artifacts",
		},
		[]string{"kind"},
	)
	return r
}

// Prometheus returns the underlying registry, e.g. for promhttp.HandlerFor.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RecordBuild records the writing of one level.
func (r *Registry) RecordBuild(kind, level string, rows int, duration time.Duration) {
	if r == nil {
		return
	}
	r.BuildDuration.WithLabelValues(kind, level).Observe(duration.Seconds())
	r.BuildRows.WithLabelValues(kind, level).Add(float64(rows))
}

// RecordQuery records a query answered from level.
func (r *Registry) RecordQuery(kind, level string, rows int) {
	if r == nil {
		return
	}
	r.QueriesTotal.WithLabelValues(kind, level).Inc()
	r.RowsReturned.WithLabelValues(kind).Observe(float64(rows))
}

// RecordStoreRead counts one range read.
func (r *Registry) RecordStoreRead(kind string) {
	if r == nil {
		return
	}
	r.StoreReads.WithLabelValues(kind).Inc()
}

// WriteText writes every collected metric to w in the Prometheus text
// exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

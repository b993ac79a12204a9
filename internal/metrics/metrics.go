// Package metrics provides Prometheus instrumentation for the star pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "star_sync"

// Metrics holds the Prometheus instruments for sync operations.
type Metrics struct {
	pagesFetched  *prometheus.CounterVec
	recordsStored prometheus.Counter
	recordsSent   *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	activeStreams prometheus.Gauge
}

// New registers the instruments on reg. A nil registerer yields nil (no-op) metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_pages_total",
			Help:      "Pages requested from GitHub, by outcome.",
		}, []string{"outcome"}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Starred repositories committed to storage.",
		}),
		recordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_streamed_total",
			Help:      "Records emitted on star streams, by source.",
		}, []string{"source"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Finished syncs, by terminal result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync operations in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Star streams currently open.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.pagesFetched, m.recordsStored, m.recordsSent, m.syncs, m.syncDuration, m.activeStreams,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PageFetched records one upstream page request. outcome is "ok" or an error kind.
func (m *Metrics) PageFetched(outcome string) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordsStored(n int) {
	if m == nil {
		return
	}
	m.recordsStored.Add(float64(n))
}

func (m *Metrics) RecordSent(source string) {
	if m == nil {
		return
	}
	m.recordsSent.WithLabelValues(source).Inc()
}

// SyncFinished records the terminal result ("complete" or an error kind) and duration of a sync.
func (m *Metrics) SyncFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(result).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

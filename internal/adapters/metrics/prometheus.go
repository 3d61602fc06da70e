// Package metrics implements ports.Metrics with Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

const namespace = "nvsq"

// Prometheus records queue metrics in its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	enqueueTotal    *prometheus.CounterVec
	enqueueDuration prometheus.Histogram
	entries         *prometheus.GaugeVec
	margin          prometheus.Gauge
	lastID          prometheus.Gauge
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them in a new registry.
func NewPrometheus() (*Prometheus, error) {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		enqueueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_total",
			Help:      "Enqueue calls by outcome.",
		}, []string{"outcome"}),
		enqueueDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enqueue_duration_seconds",
			Help:      "Duration of Enqueue calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_entries",
			Help:      "Partition entries by state (used, free, total).",
		}, []string{"state"}),
		margin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity_margin_entries",
			Help:      "Free entries the capacity guard keeps in reserve.",
		}),
		lastID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_record_id",
			Help:      "Id of the most recently committed record.",
		}),
	}

	for _, c := range []prometheus.Collector{m.enqueueTotal, m.enqueueDuration, m.entries, m.margin, m.lastID} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry holding the queue collectors.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the text exposition format, for
// the node_exporter textfile collector.
func (m *Prometheus) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Prometheus) ObserveEnqueue(outcome string, elapsed time.Duration) {
	m.enqueueTotal.WithLabelValues(outcome).Inc()
	m.enqueueDuration.Observe(elapsed.Seconds())
}

func (m *Prometheus) ObserveStats(stats domain.StoreStats, margin int) {
	m.entries.WithLabelValues("used").Set(float64(stats.UsedEntries))
	m.entries.WithLabelValues("free").Set(float64(stats.FreeEntries))
	m.entries.WithLabelValues("total").Set(float64(stats.TotalEntries))
	m.margin.Set(float64(margin))
}

func (m *Prometheus) ObserveLastID(id domain.RecordID) {
	m.lastID.Set(float64(id))
}

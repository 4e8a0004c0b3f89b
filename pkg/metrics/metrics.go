// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Operation status labels.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Recorder receives engine events. The engine holds a Recorder rather than
// a *Registry so that running without metrics costs nothing.
type Recorder interface {
	ObserveOperation(op, status string, d time.Duration)
	SetLogState(state LogState)
	ObserveCompaction(reclaimed uint64, d time.Duration)
	CacheHit()
	CacheMiss()
}

// LogState is a point-in-time view of the on-disk log.
type LogState struct {
	LiveKeys      int
	ObsoleteBytes uint64
	TotalBytes    uint64
	Generations   int
}

// Nop is a Recorder that drops everything.
type Nop struct{}

func (Nop) ObserveOperation(string, string, time.Duration) {}
func (Nop) SetLogState(LogState)                           {}
func (Nop) ObserveCompaction(uint64, time.Duration)        {}
func (Nop) CacheHit()                                      {}
func (Nop) CacheMiss()                                     {}

// Registry holds the kvs metrics on a private Prometheus registry.
type Registry struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	LiveKeys      prometheus.Gauge
	ObsoleteBytes prometheus.Gauge
	LogBytes      prometheus.Gauge
	Generations   prometheus.Gauge

	CompactionsTotal         prometheus.Counter
	CompactionReclaimedBytes prometheus.Counter
	CompactionDuration       prometheus.Histogram

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	registry *prometheus.Registry
}

var _ Recorder = (*Registry)(nil)

// NewRegistry creates a registry with every kvs metric registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initOperationMetrics()
	r.initLogMetrics()
	r.initCompactionMetrics()
	r.initCacheMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// ObserveOperation counts one engine call and records its duration.
func (r *Registry) ObserveOperation(op, status string, d time.Duration) {
	r.OperationsTotal.WithLabelValues(op, status).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetLogState updates the log gauges.
func (r *Registry) SetLogState(state LogState) {
	r.LiveKeys.Set(float64(state.LiveKeys))
	r.ObsoleteBytes.Set(float64(state.ObsoleteBytes))
	r.LogBytes.Set(float64(state.TotalBytes))
	r.Generations.Set(float64(state.Generations))
}

// ObserveCompaction records one finished compaction pass.
func (r *Registry) ObserveCompaction(reclaimed uint64, d time.Duration) {
	r.CompactionsTotal.Inc()
	r.CompactionReclaimedBytes.Add(float64(reclaimed))
	r.CompactionDuration.Observe(d.Seconds())
}

func (r *Registry) CacheHit()  { r.CacheHitsTotal.Inc() }
func (r *Registry) CacheMiss() { r.CacheMissesTotal.Inc() }

// WriteText writes every metric in the Prometheus text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Package metrics exposes cache telemetry as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/Borislavv/go-dam-cache/internal/telemetry"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsFunc returns the current cache report; it is called on every scrape.
type StatsFunc func() telemetry.Stats

// Collector implements telemetry.Observer and owns a dedicated registry.
type Collector struct {
	registry *prometheus.Registry

	accesses       *prometheus.CounterVec
	accessDuration *prometheus.HistogramVec
	preloaded      *prometheus.CounterVec
	preloadRuns    *prometheus.CounterVec
}

var _ telemetry.Observer = (*Collector)(nil)

func NewCollector(namespace string, stats StatsFunc) (*Collector, error) {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.accesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accesses_total",
			Help:      "Cache accesses by classification",
		},
		[]string{"class"},
	)
	c.accessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_duration_seconds",
			Help:      "Duration of cache accesses in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12), // 10us to ~42s
		},
		[]string{"class"},
	)
	c.preloaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preload_entities_total",
			Help:      "Entities handled by preload runs by mode and result",
		},
		[]string{"mode", "result"},
	)
	c.preloadRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preload_runs_total",
			Help:      "Preload runs by mode",
		},
		[]string{"mode", "timed_out"},
	)

	gauge := func(name, help string, fn func(s telemetry.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return fn(stats()) },
		)
	}

	collectors := []prometheus.Collector{
		c.accesses,
		c.accessDuration,
		c.preloaded,
		c.preloadRuns,
		gauge("memory_entries", "Entries resident in the memory tier", func(s telemetry.Stats) float64 {
			return float64(s.Size)
		}),
		gauge("memory_max_entries", "Memory tier bound", func(s telemetry.Stats) float64 {
			return float64(s.MaxSize)
		}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Name: "memory_evictions_total", Help: "Entries evicted from the memory tier"},
			func() float64 { return float64(stats().Evictions) },
		),
		gauge("store_records", "Live records in the persistent tier", func(s telemetry.Stats) float64 {
			return float64(s.StoreRecords)
		}),
		gauge("store_bytes", "Size of the persistent file in bytes", func(s telemetry.Stats) float64 {
			return float64(s.StoreBytes)
		}),
		gauge("degraded", "1 when running memory-only", func(s telemetry.Stats) float64 {
			if s.Degraded {
				return 1
			}
			return 0
		}),
	}
	for _, m := range collectors {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Registry is the registry to expose, e.g. through promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Observe(s telemetry.Sample) {
	class := s.Class.String()
	c.accesses.WithLabelValues(class).Inc()
	c.accessDuration.WithLabelValues(class).Observe(s.Duration.Seconds())
}

// ObservePreload records the outcome of one bulk or scoped run.
func (c *Collector) ObservePreload(mode string, r model.PreloadResult) {
	c.preloaded.WithLabelValues(mode, "loaded").Add(float64(r.Loaded))
	c.preloaded.WithLabelValues(mode, "skipped").Add(float64(r.Skipped))
	c.preloaded.WithLabelValues(mode, "failed").Add(float64(r.Failed))
	c.preloaded.WithLabelValues(mode, "evicted").Add(float64(r.Evicted))
	timedOut := "false"
	if r.TimedOut {
		timedOut = "true"
	}
	c.preloadRuns.WithLabelValues(mode, timedOut).Inc()
}

package metrics

import (
	"testing"
	"time"

	"github.com/Borislavv/go-dam-cache/internal/telemetry"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func fixedStats() telemetry.Stats {
	return telemetry.Stats{Size: 3, MaxSize: 10, StoreRecords: 7, StoreBytes: 4096, Evictions: 2, Degraded: true}
}

// TestCollector_CountsAccessesByClass increments the per-class counter and histogram.
func TestCollector_CountsAccessesByClass(t *testing.T) {
	c, err := NewCollector("dam_cache", fixedStats)
	require.NoError(t, err)

	c.Observe(telemetry.Sample{Class: telemetry.MemoryHit, Duration: time.Microsecond})
	c.Observe(telemetry.Sample{Class: telemetry.MemoryHit, Duration: time.Microsecond})
	c.Observe(telemetry.Sample{Class: telemetry.Fetched, Duration: 20 * time.Millisecond})

	require.Equal(t, 2.0, testutil.ToFloat64(c.accesses.WithLabelValues("MEMORY_HIT")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.accesses.WithLabelValues("FETCHED")))
	require.Equal(t, 2, testutil.CollectAndCount(c.accessDuration))
}

// TestCollector_GaugesReadStatsOnScrape reports the current stats values.
func TestCollector_GaugesReadStatsOnScrape(t *testing.T) {
	c, err := NewCollector("dam_cache", fixedStats)
	require.NoError(t, err)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil && len(m.GetLabel()) == 0:
				values[f.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 3.0, values["dam_cache_memory_entries"])
	require.Equal(t, 10.0, values["dam_cache_memory_max_entries"])
	require.Equal(t, 2.0, values["dam_cache_memory_evictions_total"])
	require.Equal(t, 7.0, values["dam_cache_store_records"])
	require.Equal(t, 4096.0, values["dam_cache_store_bytes"])
	require.Equal(t, 1.0, values["dam_cache_degraded"])
}

// TestCollector_ObservePreload records per-result counts and runs.
func TestCollector_ObservePreload(t *testing.T) {
	c, err := NewCollector("dam_cache", fixedStats)
	require.NoError(t, err)

	c.ObservePreload("bulk", model.PreloadResult{Loaded: 2, Skipped: 1, Evicted: 1})
	c.ObservePreload("scoped", model.PreloadResult{Loaded: 1, Skipped: 4, TimedOut: true})

	require.Equal(t, 2.0, testutil.ToFloat64(c.preloaded.WithLabelValues("bulk", "loaded")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.preloaded.WithLabelValues("bulk", "evicted")))
	require.Equal(t, 4.0, testutil.ToFloat64(c.preloaded.WithLabelValues("scoped", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.preloadRuns.WithLabelValues("scoped", "true")))
}

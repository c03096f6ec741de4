package telemetry

import "github.com/Borislavv/go-dam-cache/internal/cache"

// Stats is a read-only report of the cache state.
type Stats struct {
	Size         int      // entries resident in memory
	MaxSize      int      // memory bound
	UsagePercent float64  // Size / MaxSize * 100
	Layers       []string // outermost first
	Degraded     bool     // persistent tier unavailable
	StoreRecords int
	StoreBytes   int64
	Counts       Counts
	Evictions    int64
	Cache        cache.Counters
	Samples      []Sample // rolling window, oldest first
}

// Stats reports the current state without mutating any tier or the access order.
func (i *Instrumented) Stats() Stats {
	mem := i.inner.Memory()
	size, maxSize := mem.Len(), mem.MaxSize()

	var usage float64
	if maxSize > 0 {
		usage = float64(size) / float64(maxSize) * 100
	}

	return Stats{
		Size:         size,
		MaxSize:      maxSize,
		UsagePercent: usage,
		Layers:       append([]string{"instrumented"}, i.inner.Layers()...),
		Degraded:     i.inner.Degraded() != nil,
		StoreRecords: i.inner.StoreLen(),
		StoreBytes:   i.inner.StoreBytes(),
		Counts:       i.Counts(),
		Evictions:    mem.Counters().Evictions,
		Cache:        i.inner.Counters(),
		Samples:      i.Samples(),
	}
}

// HitRatio is the share of accesses served without the source, in [0, 1].
func (s Stats) HitRatio() float64 {
	total := s.Counts.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Counts.MemoryHits+s.Counts.Promoted) / float64(total)
}

package telemetry

type sampler struct {
	inst *Instrumented
}

func newSampler(inst *Instrumented) sampler {
	return sampler{inst: inst}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	memoryHits uint64
	promoted   uint64
	misses     uint64
	fetched    uint64
	refreshed  uint64

	evictions      uint64
	staleWrites    uint64
	decodeFailures uint64
	invalidations  uint64
}

func (s sampler) snapshot() snapshot {
	counts := s.inst.Counts()
	evictions := s.inst.Inner().Memory().Counters().Evictions
	cc := s.inst.Inner().Counters()

	return snapshot{
		memoryHits: uint64(max(counts.MemoryHits, 0)),
		promoted:   uint64(max(counts.Promoted, 0)),
		misses:     uint64(max(counts.Misses, 0)),
		fetched:    uint64(max(counts.Fetched, 0)),
		refreshed:  uint64(max(counts.Refreshed, 0)),

		evictions:      uint64(max(evictions, 0)),
		staleWrites:    uint64(max(cc.StaleWrites, 0)),
		decodeFailures: uint64(max(cc.DecodeFailures, 0)),
		invalidations:  uint64(max(cc.Invalidations, 0)),
	}
}

func (s snapshot) accesses() uint64 {
	return s.memoryHits + s.promoted + s.misses + s.fetched + s.refreshed
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		memoryHits: delta(prev.memoryHits, cur.memoryHits),
		promoted:   delta(prev.promoted, cur.promoted),
		misses:     delta(prev.misses, cur.misses),
		fetched:    delta(prev.fetched, cur.fetched),
		refreshed:  delta(prev.refreshed, cur.refreshed),

		evictions:      delta(prev.evictions, cur.evictions),
		staleWrites:    delta(prev.staleWrites, cur.staleWrites),
		decodeFailures: delta(prev.decodeFailures, cur.decodeFailures),
		invalidations:  delta(prev.invalidations, cur.invalidations),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}

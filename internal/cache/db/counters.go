package db

import "sync/atomic"

type counters struct {
	inserts   atomic.Int64
	updates   atomic.Int64
	evictions atomic.Int64
	removals  atomic.Int64
}

func newCounters() *counters {
	return &counters{}
}

// Counters is a point-in-time copy of the LRU counters.
type Counters struct {
	Inserts   int64
	Updates   int64
	Evictions int64
	Removals  int64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Inserts:   c.inserts.Load(),
		Updates:   c.updates.Load(),
		Evictions: c.evictions.Load(),
		Removals:  c.removals.Load(),
	}
}

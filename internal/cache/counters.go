package cache

import "sync/atomic"

type counters struct {
	promotions     atomic.Int64
	fetches        atomic.Int64
	refreshes      atomic.Int64
	invalidations  atomic.Int64
	decodeFailures atomic.Int64
	staleWrites    atomic.Int64
}

func newCounters() *counters {
	return &counters{}
}

// Counters is a point-in-time copy of the cache counters.
type Counters struct {
	Promotions     int64 // persistent tier hits copied into memory
	Fetches        int64 // read-through source calls that returned an entity
	Refreshes      int64
	Invalidations  int64
	DecodeFailures int64 // undecodable or unreadable values dropped
	StaleWrites    int64 // read-through results discarded because a refresh or invalidation won
}

func (c *counters) snapshot() Counters {
	return Counters{
		Promotions:     c.promotions.Load(),
		Fetches:        c.fetches.Load(),
		Refreshes:      c.refreshes.Load(),
		Invalidations:  c.invalidations.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		StaleWrites:    c.staleWrites.Load(),
	}
}

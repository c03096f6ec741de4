package compactor

import "sync/atomic"

type compactorCounters struct {
	scans          atomic.Int64
	scanHits       atomic.Int64
	compactions    atomic.Int64
	reclaimedBytes atomic.Int64
}

func (c *compactorCounters) snapshot() (scans, hits, compactions, reclaimedBytes int64) {
	return c.scans.Load(), c.scanHits.Load(), c.compactions.Load(), c.reclaimedBytes.Load()
}

func newCompactorCounters() *compactorCounters {
	return &compactorCounters{}
}

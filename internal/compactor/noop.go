package compactor

import "time"

// NoOpCompactor is used when background compaction is off. The store still compacts on close.
type NoOpCompactor struct{}

func (NoOpCompactor) ForceCall(time.Duration) error { return nil }

func (NoOpCompactor) Metrics() (scans, hits, compactions, reclaimedBytes int64) {
	return 0, 0, 0, 0
}

func (NoOpCompactor) Close() error { return nil }

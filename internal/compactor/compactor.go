// Package compactor rewrites the persistent tier in the background once enough of it is garbage.
package compactor

import (
	"context"
	"errors"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

var ErrCompactorNotResponded = errors.New("compactor not responded")

type Compactor interface {
	// ForceCall requests a compaction regardless of the garbage ratio.
	ForceCall(timeout time.Duration) error
	Metrics() (scans, hits, compactions, reclaimedBytes int64)
	Close() error
}

// Target is the persistent tier.
type Target interface {
	NeedsCompaction() bool
	Compact() error
	Size() int64
}

// Locker keeps per-key writers and bulk preload out while the file is rewritten.
type Locker interface {
	LockMutations() (unlock func())
}

type CompactionWorker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger
	target   Target
	locker   Locker
	counters *compactorCounters
	invokeCh chan struct{}
	done     chan struct{}
}

// New starts the worker, or returns a no-op when persistence or the interval is off.
func New(
	ctx context.Context,
	cfg *config.PersistenceCfg,
	clk clock.Clock,
	logger zerolog.Logger,
	target Target,
	locker Locker,
) Compactor {
	if !cfg.Enabled() || cfg.CompactionInterval <= 0 || target == nil {
		return NoOpCompactor{}
	}
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(ctx)
	return (&CompactionWorker{
		ctx:      ctx,
		cancel:   cancel,
		interval: cfg.CompactionInterval,
		clock:    clk,
		logger:   logger.With().Str("worker", "compactor").Logger(),
		target:   target,
		locker:   locker,
		counters: newCompactorCounters(),
		invokeCh: make(chan struct{}),
		done:     make(chan struct{}),
	}).run()
}

func (w *CompactionWorker) ForceCall(timeout time.Duration) error {
	after := time.NewTimer(timeout)
	defer after.Stop()

	select {
	case <-w.ctx.Done():
	case w.invokeCh <- struct{}{}:
	case <-after.C:
		return ErrCompactorNotResponded
	}
	return nil
}

func (w *CompactionWorker) Metrics() (scans, hits, compactions, reclaimedBytes int64) {
	return w.counters.snapshot()
}

// Close stops the worker and waits for a running compaction to finish.
func (w *CompactionWorker) Close() error {
	w.cancel()
	<-w.done
	return nil
}

func (w *CompactionWorker) run() *CompactionWorker {
	w.logger.Info().Str("interval", w.interval.String()).Msg("compactor is running")

	go func() {
		defer close(w.done)
		defer w.logger.Info().Msg("compactor is stopped")

		done := make(chan struct{})
		go func() {
			defer close(done)
			w.provider()
		}()
		w.consumer()
		<-done
	}()

	return w
}

// provider - asks the consumer to compact when the garbage ratio is crossed.
func (w *CompactionWorker) provider() {
	tick := w.clock.Ticker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-tick.C:
			w.counters.scans.Add(1)
			if !w.target.NeedsCompaction() {
				continue
			}
			select {
			case <-w.ctx.Done():
				return
			case w.invokeCh <- struct{}{}:
				w.counters.scanHits.Add(1)
			}
		}
	}
}

// consumer - the only goroutine that compacts.
func (w *CompactionWorker) consumer() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.invokeCh:
			w.compact()
		}
	}
}

func (w *CompactionWorker) compact() {
	if w.locker != nil {
		unlock := w.locker.LockMutations()
		defer unlock()
	}

	before := w.target.Size()
	if err := w.target.Compact(); err != nil {
		w.logger.Warn().Err(err).Msg("background compaction failed")
		return
	}
	if freed := before - w.target.Size(); freed > 0 {
		w.counters.reclaimedBytes.Add(freed)
	}
	w.counters.compactions.Add(1)
}

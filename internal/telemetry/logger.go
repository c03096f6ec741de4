package telemetry

import (
	"context"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/shared/bytes"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Logs periodically writes per-interval cache activity.
type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.TelemetryCfg
	logger   zerolog.Logger
	inst     *Instrumented
	clock    clock.Clock
	interval time.Duration
	done     chan struct{}
}

func NewLogs(ctx context.Context, cfg *config.TelemetryCfg, clk clock.Clock, logger zerolog.Logger, inst *Instrumented) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	if clk == nil {
		clk = clock.New()
	}
	interval := config.DefaultLogsInterval
	if cfg.Enabled() && cfg.LogsInterval > 0 {
		interval = cfg.LogsInterval
	}
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		inst:     inst,
		clock:    clk,
		interval: interval,
		done:     make(chan struct{}),
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

// Close stops the loop and waits for it to exit.
func (l *Logs) Close() error {
	l.cancel()
	<-l.done
	return nil
}

func (l *Logs) run() *Logs {
	if l.cfg.Enabled() && l.cfg.LogsEnabled {
		go l.loop()
	} else {
		close(l.done)
	}
	return l
}

func (l *Logs) loop() {
	defer close(l.done)

	ticker := l.clock.Ticker(l.interval)
	defer ticker.Stop()

	s := newSampler(l.inst)
	prev := s.snapshot()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := s.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur

			stats := l.inst.Stats()
			interval := l.interval.String()

			var hitRatio float64
			if total := d.accesses(); total > 0 {
				hitRatio = float64(d.memoryHits+d.promoted) / float64(total)
			}
			l.logger.Info().
				Str("interval", interval).
				Uint64("memory_hits", d.memoryHits).
				Uint64("promoted", d.promoted).
				Uint64("misses", d.misses).
				Uint64("fetched", d.fetched).
				Uint64("refreshed", d.refreshed).
				Float64("hit_ratio", hitRatio).
				Msg("cache_access")

			l.logger.Info().
				Str("interval", interval).
				Int("entries", stats.Size).
				Int("max_size", stats.MaxSize).
				Float64("usage_percent", stats.UsagePercent).
				Uint64("evicted", d.evictions).
				Uint64("invalidations", d.invalidations).
				Msg("memory_tier")

			if stats.Degraded {
				l.logger.Warn().
					Str("interval", interval).
					Msg("persistent_tier unavailable, memory-only")
				continue
			}
			if d.staleWrites > 0 || d.decodeFailures > 0 {
				l.logger.Warn().
					Str("interval", interval).
					Uint64("stale_writes", d.staleWrites).
					Uint64("decode_failures", d.decodeFailures).
					Msg("consistency")
			}
			l.logger.Info().
				Str("interval", interval).
				Int("records", stats.StoreRecords).
				Str("size", bytes.FmtMem(stats.StoreBytes)).
				Msg("persistent_tier")
		}
	}
}

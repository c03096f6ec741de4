package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/cache"
	"github.com/Borislavv/go-dam-cache/internal/shared/queue"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Class is the classification of one cache access.
type Class uint8

const (
	MemoryHit Class = iota // resident in memory before the call
	Promoted               // not in memory, found in the persistent tier
	Miss                   // in neither tier; the caller got nothing from the cache
	Fetched                // in neither tier, served by a read-through from the source
	Refreshed              // forced fetch from the source
	classesNum
)

func (c Class) String() string {
	switch c {
	case MemoryHit:
		return "MEMORY_HIT"
	case Promoted:
		return "PROMOTED"
	case Miss:
		return "MISS"
	case Fetched:
		return "FETCHED"
	case Refreshed:
		return "REFRESHED"
	default:
		return "UNKNOWN"
	}
}

// Sample is one observed access.
type Sample struct {
	Key         string
	Class       Class
	WasInMemory bool
	Duration    time.Duration
	At          time.Time
	Err         bool
}

// Observer receives every sample, e.g. a metrics collector. Must not block.
type Observer interface {
	Observe(s Sample)
}

// Counts are cumulative per-class access counts.
type Counts struct {
	MemoryHits int64
	Promoted   int64
	Misses     int64
	Fetched    int64
	Refreshed  int64
}

func (c Counts) Total() int64 {
	return c.MemoryHits + c.Promoted + c.Misses + c.Fetched + c.Refreshed
}

// Instrumented wraps the layered cache and classifies and times every access.
// It never changes what the inner cache returns.
type Instrumented struct {
	inner     *cache.Cache
	clock     clock.Clock
	logger    zerolog.Logger
	samples   *queue.Ring[Sample]
	counts    [classesNum]atomic.Int64
	observers []Observer
}

func NewInstrumented(
	inner *cache.Cache,
	cfg *config.TelemetryCfg,
	clk clock.Clock,
	logger zerolog.Logger,
	observers ...Observer,
) *Instrumented {
	size := config.DefaultSampleSize
	if cfg.Enabled() && cfg.SampleSize > 0 {
		size = cfg.SampleSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Instrumented{
		inner:     inner,
		clock:     clk,
		logger:    logger,
		samples:   queue.NewRing[Sample](size),
		observers: observers,
	}
}

func (i *Instrumented) Inner() *cache.Cache { return i.inner }

// AddObserver must be called before the cache is shared between goroutines.
func (i *Instrumented) AddObserver(o Observer) { i.observers = append(i.observers, o) }

// Get reads from memory or the persistent tier only.
func (i *Instrumented) Get(key model.Key) (*model.Entity, error) {
	was := i.inner.InMemory(key)
	start := i.clock.Now()
	entity, outcome, err := i.inner.Get(key)
	i.record(key, was, outcome, err, start)
	return entity, err
}

// Fetch reads through to the source on a miss.
func (i *Instrumented) Fetch(ctx context.Context, key model.Key) (*model.Entity, error) {
	was := i.inner.InMemory(key)
	start := i.clock.Now()
	entity, outcome, err := i.inner.Fetch(ctx, key)
	i.record(key, was, outcome, err, start)
	return entity, err
}

// Refresh forces a source fetch and write-through.
func (i *Instrumented) Refresh(ctx context.Context, key model.Key) (*model.Entity, error) {
	was := i.inner.InMemory(key)
	start := i.clock.Now()
	entity, err := i.inner.Refresh(ctx, key)
	outcome := cache.Refreshed
	if err != nil {
		outcome = cache.Missed
	}
	i.record(key, was, outcome, err, start)
	return entity, err
}

func (i *Instrumented) Counts() Counts {
	return Counts{
		MemoryHits: i.counts[MemoryHit].Load(),
		Promoted:   i.counts[Promoted].Load(),
		Misses:     i.counts[Miss].Load(),
		Fetched:    i.counts[Fetched].Load(),
		Refreshed:  i.counts[Refreshed].Load(),
	}
}

// Samples returns the rolling window of recent accesses, oldest first.
func (i *Instrumented) Samples() []Sample { return i.samples.Snapshot() }

func (i *Instrumented) record(key model.Key, wasInMemory bool, outcome cache.Outcome, err error, start time.Time) {
	s := Sample{
		Key:         key.String(),
		Class:       classify(wasInMemory, outcome),
		WasInMemory: wasInMemory,
		Duration:    i.clock.Since(start),
		At:          start,
		Err:         err != nil,
	}
	i.counts[s.Class].Add(1)
	i.samples.Push(s)
	for _, o := range i.observers {
		o.Observe(s)
	}

	if e := i.logger.Debug(); e.Enabled() {
		e.Str("key", s.Key).
			Str("class", s.Class.String()).
			Bool("was_in_memory", wasInMemory).
			Str("elapsed", s.Duration.String()).
			Err(err).
			Msg("cache access")
	}
}

func classify(wasInMemory bool, outcome cache.Outcome) Class {
	switch outcome {
	case cache.FromMemory:
		if wasInMemory {
			return MemoryHit
		}
		// promoted or fetched by a concurrent caller in between
		return Promoted
	case cache.FromStore:
		return Promoted
	case cache.FromSource:
		return Fetched
	case cache.Refreshed:
		return Refreshed
	default:
		return Miss
	}
}

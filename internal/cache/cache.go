// Package cache composes the memory tier, the persistent tier and the entity source into one
// read-through, write-through cache. Values are held encoded in both tiers and decoded on read.
package cache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Store is the persistent tier as seen by the cache.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Remove(key []byte) error
	Clear() error
	Len() int
	Size() int64
}

// Outcome tells which tier served a lookup.
type Outcome uint8

const (
	Missed    Outcome = iota // not resident in any tier (or the source failed)
	FromMemory               // memory tier
	FromStore                // persistent tier, promoted into memory
	FromSource               // read-through fetch
	Refreshed                // forced fetch
)

func (o Outcome) String() string {
	switch o {
	case FromMemory:
		return "memory"
	case FromStore:
		return "store"
	case FromSource:
		return "source"
	case Refreshed:
		return "refreshed"
	default:
		return "missed"
	}
}

type Cache struct {
	mem      *db.LRU
	store    Store // nil when running memory-only
	degraded error
	source   model.Source
	logger   zerolog.Logger
	sampled  zerolog.Logger // burst-limited, for per-key warnings
	counters *counters

	locks   *stripes
	clearMu sync.RWMutex // writers hold R, InvalidateAll holds W
	epoch   atomic.Uint64
	flight  singleflight.Group
}

// New builds the cache. A nil store means memory-only; degraded is the reason, reported once.
func New(mem *db.LRU, store Store, degraded error, source model.Source, logger zerolog.Logger) *Cache {
	c := &Cache{
		mem:      mem,
		store:    store,
		degraded: degraded,
		source:   source,
		logger:   logger,
		sampled:  logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
		counters: newCounters(),
		locks:    newStripes(),
	}
	if store == nil && degraded != nil {
		logger.Warn().Err(degraded).Msg("persistent tier is unavailable, running memory-only")
	}
	return c
}

func (c *Cache) Memory() *db.LRU  { return c.mem }
func (c *Cache) Degraded() error  { return c.degraded }
func (c *Cache) Persistent() bool { return c.store != nil }

// Layers lists the tiers outermost first.
func (c *Cache) Layers() []string {
	if c.store == nil {
		return []string{"serialized", "memory"}
	}
	return []string{"serialized", "memory", "persistent"}
}

// StoreLen is the number of persisted records, zero when memory-only.
func (c *Cache) StoreLen() int {
	if c.store == nil {
		return 0
	}
	return c.store.Len()
}

// StoreBytes is the size of the persistent file, zero when memory-only.
func (c *Cache) StoreBytes() int64 {
	if c.store == nil {
		return 0
	}
	return c.store.Size()
}

// InMemory reports residency without touching the access order.
func (c *Cache) InMemory(key model.Key) bool {
	_, ok := c.mem.Peek(key)
	return ok
}

// Get looks the key up in memory, then in the persistent tier. It never calls the source.
// A miss returns an error satisfying model.IsNotFound.
func (c *Cache) Get(key model.Key) (*model.Entity, Outcome, error) {
	if entity, ok := c.fromMemory(key); ok {
		return entity, FromMemory, nil
	}

	c.clearMu.RLock()
	defer c.clearMu.RUnlock()

	l := c.locks.of(key)
	l.Lock()
	defer l.Unlock()

	// promoted by a concurrent caller while we were waiting
	if entity, ok := c.fromMemoryUnlocked(key); ok {
		return entity, FromMemory, nil
	}
	if entity, ok := c.fromStoreUnlocked(key); ok {
		return entity, FromStore, nil
	}
	return nil, Missed, model.NewErrNotFound(key.String())
}

// Fetch is Get followed by a read-through on miss. Concurrent misses of one key share a single source call.
func (c *Cache) Fetch(ctx context.Context, key model.Key) (*model.Entity, Outcome, error) {
	entity, outcome, err := c.Get(key)
	if err == nil || !model.IsNotFound(err) {
		return entity, outcome, err
	}

	ch := c.flight.DoChan(key.RawString(), func() (any, error) {
		return c.readThrough(ctx, key)
	})
	select {
	case <-ctx.Done():
		return nil, Missed, model.NewErrSourceUnavailable(key.String(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, Missed, res.Err
		}
		f := res.Val.(fetched)
		entity, err = c.source.Decode(f.data)
		if err != nil {
			return nil, Missed, model.NewErrDecodeFailed(key.String(), err)
		}
		if f.cached {
			return entity, FromMemory, nil
		}
		return entity, FromSource, nil
	}
}

// Refresh bypasses both tiers, fetches from the source and writes through.
// Gets issued after Refresh returns observe the refreshed value; read-throughs that started earlier
// do not overwrite it.
func (c *Cache) Refresh(ctx context.Context, key model.Key) (*model.Entity, error) {
	entity, err := c.source.Fetch(ctx, key)
	if err != nil {
		return nil, c.sourceErr(key, err)
	}
	data, err := c.source.Encode(entity)
	if err != nil {
		return nil, model.NewErrEncodeFailed(key.String(), err)
	}
	c.writeThrough(key, data, nil)
	c.counters.refreshes.Add(1)

	// callers get what a later Get decodes, never the source's own object
	if entity, err = c.source.Decode(data); err != nil {
		return nil, model.NewErrDecodeFailed(key.String(), err)
	}
	return entity, nil
}

// Invalidate removes key from both tiers. In-flight read-throughs of the key will not re-cache it.
func (c *Cache) Invalidate(key model.Key) {
	c.clearMu.RLock()
	defer c.clearMu.RUnlock()

	l := c.locks.of(key)
	l.Lock()
	defer l.Unlock()

	l.gen++
	c.mem.Remove(key)
	if c.store != nil {
		if err := c.store.Remove(key.Raw()); err != nil {
			c.sampled.Warn().Err(err).Str("key", key.String()).Msg("failed to remove persisted entity")
		}
	}
	c.counters.invalidations.Add(1)
}

// InvalidateAll clears both tiers.
func (c *Cache) InvalidateAll() error {
	c.clearMu.Lock()
	defer c.clearMu.Unlock()

	c.epoch.Add(1)
	c.mem.Clear()
	c.counters.invalidations.Add(1)
	if c.store != nil {
		return c.store.Clear()
	}
	return nil
}

// LockMutations blocks invalidations, write-throughs and promotions until unlock is called.
// Memory hits are still served. Used by bulk preload, which inserts into memory directly.
func (c *Cache) LockMutations() (unlock func()) {
	c.clearMu.Lock()
	return c.clearMu.Unlock
}

// Counters returns cumulative cache-level counters.
func (c *Cache) Counters() Counters { return c.counters.snapshot() }

type fetched struct {
	data   []byte
	cached bool // another caller cached it before our flight started
}

type ticket struct {
	gen   uint64
	epoch uint64
}

func (c *Cache) readThrough(ctx context.Context, key model.Key) (fetched, error) {
	l := c.locks.of(key)
	l.Lock()
	if data, ok := c.mem.Get(key); ok {
		l.Unlock()
		return fetched{data: data, cached: true}, nil
	}
	t := &ticket{gen: l.gen, epoch: c.epoch.Load()}
	l.Unlock()

	entity, err := c.source.Fetch(ctx, key)
	if err != nil {
		return fetched{}, c.sourceErr(key, err)
	}
	data, err := c.source.Encode(entity)
	if err != nil {
		return fetched{}, model.NewErrEncodeFailed(key.String(), err)
	}
	c.counters.fetches.Add(1)
	c.writeThrough(key, data, t)
	return fetched{data: data}, nil
}

// writeThrough stores data in memory and on disk. With a ticket the write is dropped when an
// invalidation or refresh of the same stripe happened after the ticket was taken; without one
// (refresh) it supersedes any in-flight read-through.
func (c *Cache) writeThrough(key model.Key, data []byte, t *ticket) bool {
	c.clearMu.RLock()
	defer c.clearMu.RUnlock()

	l := c.locks.of(key)
	l.Lock()
	defer l.Unlock()

	if t != nil {
		if t.gen != l.gen || t.epoch != c.epoch.Load() {
			c.counters.staleWrites.Add(1)
			return false
		}
	} else {
		l.gen++
	}

	if cur, ok := c.mem.Peek(key); ok && bytes.Equal(cur, data) {
		c.mem.Touch(key)
		return true
	}
	if evicted := c.mem.Set(key, data); evicted > 0 {
		c.logger.Debug().Int("evicted", evicted).Str("key", key.String()).Msg("memory tier trimmed")
	}
	if c.store == nil {
		return true
	}
	if err := c.store.Set(key.Raw(), data); err != nil {
		c.sampled.Warn().Err(err).Str("key", key.String()).Msg("failed to persist entity")
		// an older record must not outlive the memory copy
		_ = c.store.Remove(key.Raw())
	}
	return true
}

func (c *Cache) fromMemory(key model.Key) (*model.Entity, bool) {
	data, ok := c.mem.Get(key)
	if !ok {
		return nil, false
	}
	entity, err := c.source.Decode(data)
	if err != nil {
		c.clearMu.RLock()
		l := c.locks.of(key)
		l.Lock()
		c.dropCorruptedUnlocked(key, data, err)
		l.Unlock()
		c.clearMu.RUnlock()
		return nil, false
	}
	return entity, true
}

// fromMemoryUnlocked - caller holds the key stripe lock.
func (c *Cache) fromMemoryUnlocked(key model.Key) (*model.Entity, bool) {
	data, ok := c.mem.Get(key)
	if !ok {
		return nil, false
	}
	entity, err := c.source.Decode(data)
	if err != nil {
		c.dropCorruptedUnlocked(key, data, err)
		return nil, false
	}
	return entity, true
}

// fromStoreUnlocked - caller holds the key stripe lock.
func (c *Cache) fromStoreUnlocked(key model.Key) (*model.Entity, bool) {
	if c.store == nil {
		return nil, false
	}
	data, err := c.store.Get(key.Raw())
	switch {
	case err == nil:
	case model.IsStoreCorrupted(err):
		c.sampled.Warn().Err(err).Str("key", key.String()).Msg("dropping corrupted persisted entity")
		c.counters.decodeFailures.Add(1)
		_ = c.store.Remove(key.Raw())
		return nil, false
	case model.IsNotFound(err):
		return nil, false
	default:
		c.sampled.Warn().Err(err).Str("key", key.String()).Msg("failed to read persisted entity")
		return nil, false
	}
	entity, err := c.source.Decode(data)
	if err != nil {
		c.counters.decodeFailures.Add(1)
		c.sampled.Warn().Err(model.NewErrDecodeFailed(key.String(), err)).Msg("dropping undecodable entity")
		_ = c.store.Remove(key.Raw())
		return nil, false
	}
	c.mem.Set(key, data)
	c.counters.promotions.Add(1)
	return entity, true
}

// dropCorruptedUnlocked removes an undecodable value from both tiers unless it was replaced meanwhile.
// Caller holds the key stripe lock.
func (c *Cache) dropCorruptedUnlocked(key model.Key, data []byte, cause error) {
	c.counters.decodeFailures.Add(1)
	c.sampled.Warn().Err(model.NewErrDecodeFailed(key.String(), cause)).Msg("dropping undecodable entity")

	if cur, ok := c.mem.Peek(key); ok && bytes.Equal(cur, data) {
		c.mem.Remove(key)
		if c.store != nil {
			_ = c.store.Remove(key.Raw())
		}
	}
}

func (c *Cache) sourceErr(key model.Key, err error) error {
	if model.IsNotFound(err) {
		return model.NewErrNotFound(key.String())
	}
	return model.NewErrSourceUnavailable(key.String(), err)
}

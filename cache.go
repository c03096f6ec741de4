// Package damcache is a layered read-through, write-through entity cache for a DAM API:
// a bounded in-memory LRU in front of a single-file persistent tier in front of the entity source.
package damcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/cache"
	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/internal/compactor"
	"github.com/Borislavv/go-dam-cache/internal/metrics"
	"github.com/Borislavv/go-dam-cache/internal/preload"
	"github.com/Borislavv/go-dam-cache/internal/store"
	"github.com/Borislavv/go-dam-cache/internal/telemetry"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type (
	Stats  = telemetry.Stats
	Sample = telemetry.Sample
	Plan   = preload.Plan
	Step   = preload.Step
)

// DamCache is the capability handed to UI and business logic.
type DamCache interface {
	Get(ctx context.Context, entityType, id string) (*model.Entity, error)
	Refresh(ctx context.Context, entityType, id string) (*model.Entity, error)
	Query(ctx context.Context, expression string) ([]model.Record, error)
	Invalidate(entityType, id string) error
	InvalidateAll() error
	PreloadBulk(ctx context.Context) model.PreloadResult
	PreloadScoped(ctx context.Context, filter model.Filter) model.PreloadResult
	Stats() Stats
	Close() error
}

var _ DamCache = (*Cache)(nil)

type Cache struct {
	cfg     *config.Cache
	logger  zerolog.Logger
	source  model.Source
	store   *store.Store // nil when memory-only
	layered *cache.Cache
	inst    *telemetry.Instrumented
	scoped  *preload.Scoped
	metrics *metrics.Collector // nil when telemetry is disabled
	logs    *telemetry.Logs
	compact compactor.Compactor

	cls       context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New builds the tiers once: instrumented -> serialized -> memory -> persistent.
// A persistent tier that cannot be opened is not an error: the cache runs memory-only and
// reports it through Degraded. A nil source serves cached data only.
func New(ctx context.Context, cfg *config.Cache, logger zerolog.Logger, source model.Source) (*Cache, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.AdjustConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		source = offline{}
	}
	logger = logger.With().Str("component", "dam_cache").Logger()

	ctx, cancel := context.WithCancel(ctx)
	c := &Cache{cfg: cfg, logger: logger, source: source, cls: cancel}

	var (
		tier     cache.Store
		degraded error
	)
	if cfg.Persistence.Enabled() {
		st, err := store.Open(cfg.Persistence.ResolvedPath,
			store.WithSnappy(cfg.Persistence.Snappy),
			store.WithSyncWrites(cfg.Persistence.SyncWrites),
			store.WithCompactionRatio(cfg.Persistence.CompactionRatio),
			store.WithLogger(logger),
		)
		if err != nil {
			degraded = err
		} else {
			c.store, tier = st, st
		}
	}

	c.layered = cache.New(db.NewLRU(cfg.Memory.MaxSize), tier, degraded, source, logger)
	c.inst = telemetry.NewInstrumented(c.layered, cfg.Telemetry, nil, logger)
	c.scoped = preload.NewScoped(c.inst, source, cfg.Preload, logger)

	if cfg.Telemetry.Enabled() {
		collector, err := metrics.NewCollector(cfg.Telemetry.Namespace, c.inst.Stats)
		if err != nil {
			cancel()
			if c.store != nil {
				_ = c.store.Close()
			}
			return nil, fmt.Errorf("build metrics collector: %w", err)
		}
		c.metrics = collector
		c.inst.AddObserver(collector)
	}
	c.logs = telemetry.NewLogs(ctx, cfg.Telemetry, nil, logger, c.inst)

	var target compactor.Target
	if c.store != nil {
		target = c.store
	}
	c.compact = compactor.New(ctx, cfg.Persistence, nil, logger, target, c.layered)

	if cfg.Preload.OnStart {
		c.PreloadBulk(ctx)
	}
	return c, nil
}

// Get returns the entity from memory, the persistent tier or, on a miss, the source.
func (c *Cache) Get(ctx context.Context, entityType, id string) (*model.Entity, error) {
	key, err := model.NewKey(entityType, id)
	if err != nil {
		return nil, err
	}
	return c.inst.Fetch(ctx, key)
}

// GetKey is Get for composite keys.
func (c *Cache) GetKey(ctx context.Context, key model.Key) (*model.Entity, error) {
	return c.inst.Fetch(ctx, key)
}

// Lookup consults the cache tiers only. A miss satisfies model.IsNotFound.
func (c *Cache) Lookup(entityType, id string) (*model.Entity, error) {
	key, err := model.NewKey(entityType, id)
	if err != nil {
		return nil, err
	}
	return c.inst.Get(key)
}

// Refresh fetches the entity from the source regardless of what is cached and writes it through.
// Every Get issued after Refresh returns observes the refreshed value.
func (c *Cache) Refresh(ctx context.Context, entityType, id string) (*model.Entity, error) {
	key, err := model.NewKey(entityType, id)
	if err != nil {
		return nil, err
	}
	return c.inst.Refresh(ctx, key)
}

// Query passes the expression to the source. Results are never cached.
func (c *Cache) Query(ctx context.Context, expression string) ([]model.Record, error) {
	records, err := c.source.Query(ctx, expression)
	if err != nil {
		return nil, model.NewErrSourceUnavailable(expression, err)
	}
	return records, nil
}

func (c *Cache) Invalidate(entityType, id string) error {
	key, err := model.NewKey(entityType, id)
	if err != nil {
		return err
	}
	c.layered.Invalidate(key)
	return nil
}

func (c *Cache) InvalidateAll() error {
	return c.layered.InvalidateAll()
}

// PreloadBulk copies the whole persistent tier into memory. Per-key writes wait until it is done.
func (c *Cache) PreloadBulk(ctx context.Context) model.PreloadResult {
	var res model.PreloadResult
	if c.store == nil {
		res = preload.Bulk(ctx, nil, c.layered.Memory(), c.cfg.Preload.BatchSize, c.logger)
	} else {
		unlock := c.layered.LockMutations()
		res = preload.Bulk(ctx, c.store, c.layered.Memory(), c.cfg.Preload.BatchSize, c.logger)
		unlock()
	}
	if c.metrics != nil {
		c.metrics.ObservePreload("bulk", res)
	}
	return res
}

// PreloadScoped warms every entity selected by filter through the ordinary read path.
func (c *Cache) PreloadScoped(ctx context.Context, filter model.Filter) model.PreloadResult {
	res := c.scoped.Filter(ctx, filter)
	if c.metrics != nil {
		c.metrics.ObservePreload("scoped", res)
	}
	return res
}

// PreloadPlan runs a multi-step warm-up, e.g. ProjectPlan.
func (c *Cache) PreloadPlan(ctx context.Context, plan Plan) model.PreloadResult {
	res := c.scoped.Run(ctx, plan)
	if c.metrics != nil {
		c.metrics.ObservePreload("plan", res)
	}
	return res
}

func (c *Cache) Stats() Stats { return c.inst.Stats() }

// Degraded returns why the persistent tier is unavailable, nil when it is in use or disabled.
func (c *Cache) Degraded() error { return c.layered.Degraded() }

// Registry exposes the Prometheus metrics, nil when telemetry is disabled.
func (c *Cache) Registry() *prometheus.Registry {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Registry()
}

// Close stops the background workers and closes the persistent tier, compacting it when needed.
// It is idempotent.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.cls()
		_ = c.logs.Close()
		_ = c.compact.Close()
		if c.store != nil {
			c.closeErr = c.store.Close()
		}
	})
	return c.closeErr
}

func ProjectPlan(projectID string, maxEntities int) Plan {
	return preload.ProjectPlan(projectID, maxEntities)
}

func AssetPlan(assetID string, maxVersions int) Plan {
	return preload.AssetPlan(assetID, maxVersions)
}

func TaskPlan(taskID string, maxVersions int) Plan {
	return preload.TaskPlan(taskID, maxVersions)
}

package preload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/shared/rate"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Fetcher is the ordinary read path (memory, then disk, then source).
type Fetcher interface {
	Fetch(ctx context.Context, key model.Key) (*model.Entity, error)
}

// Querier runs cheap id-only queries against the entity source.
type Querier interface {
	QueryIDs(ctx context.Context, filter model.Filter) ([]string, error)
}

// Step warms a set of keys: the explicit Keys plus the ids returned by Filter.
// Then, if set, receives the entities the step fetched (in key order, misses omitted)
// and returns follow-up steps that run right after it.
type Step struct {
	Name   string
	Keys   []model.Key
	Filter *model.Filter
	Then   func(fetched []*model.Entity) []Step
}

// Plan is an ordered list of steps. Steps run one after another; keys within a step are
// fetched concurrently.
type Plan struct {
	Name  string
	Steps []Step
}

// Scoped warms a known subset of entities through the ordinary read path.
type Scoped struct {
	fetcher Fetcher
	querier Querier
	cfg     config.PreloadCfg
	logger  zerolog.Logger
}

func NewScoped(fetcher Fetcher, querier Querier, cfg *config.PreloadCfg, logger zerolog.Logger) *Scoped {
	s := &Scoped{
		fetcher: fetcher,
		querier: querier,
		logger:  logger.With().Str("preload", "scoped").Logger(),
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.cfg.Concurrency <= 0 {
		s.cfg.Concurrency = config.DefaultPreloadConcurrency
	}
	return s
}

// Filter warms every entity selected by filter.
func (s *Scoped) Filter(ctx context.Context, filter model.Filter) model.PreloadResult {
	return s.Run(ctx, Plan{
		Name:  filter.String(),
		Steps: []Step{{Name: filter.EntityType, Filter: &filter}},
	})
}

// Run executes plan. It honors the caller deadline, or the configured timeout when the caller
// has none: ids not attempted before the deadline are counted as skipped, TimedOut is set and
// the partial result is returned. Query and fetch failures are counted, never returned.
func (s *Scoped) Run(ctx context.Context, plan Plan) model.PreloadResult {
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok && s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var jitter *rate.Jitter
	if s.cfg.Rate > 0 {
		jctx, cancel := context.WithCancel(ctx)
		defer cancel()
		jitter = rate.NewJitter(jctx, s.cfg.Rate)
	}

	var res model.PreloadResult
	queue := append([]Step(nil), plan.Steps...)
	for len(queue) > 0 {
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		step := queue[0]
		queue = queue[1:]

		fetched, r := s.runStep(ctx, step, jitter)
		res.Merge(r)
		if r.TimedOut {
			break
		}
		if step.Then != nil {
			queue = append(step.Then(fetched), queue...)
		}
	}
	res.Elapsed = time.Since(start)

	ev := s.logger.Info()
	if res.TimedOut {
		ev = s.logger.Warn()
	}
	ev.Str("plan", plan.Name).
		Int("loaded", res.Loaded).
		Int("skipped", res.Skipped).
		Int("fails", res.Failed).
		Bool("timed_out", res.TimedOut).
		Str("elapsed", res.Elapsed.String()).
		Msg("scoped preload finished")

	return res
}

func (s *Scoped) runStep(ctx context.Context, step Step, jitter *rate.Jitter) ([]*model.Entity, model.PreloadResult) {
	var res model.PreloadResult

	keys := append([]model.Key(nil), step.Keys...)
	if step.Filter != nil {
		ids, err := s.querier.QueryIDs(ctx, *step.Filter)
		switch {
		case err != nil && ctx.Err() != nil:
			res.TimedOut = true
			return nil, res
		case err != nil:
			res.Failed++
			s.logger.Warn().Err(err).Str("step", step.Name).Str("query", step.Filter.String()).Msg("id query failed")
		default:
			for _, id := range ids {
				key, err := model.NewKey(step.Filter.EntityType, id)
				if err != nil {
					res.Skipped++
					continue
				}
				keys = append(keys, key)
			}
		}
	}

	var (
		entities = make([]*model.Entity, len(keys))
		loaded   atomic.Int64
		failed   atomic.Int64
		late     atomic.Int64
		sampled  = s.logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute})
		g        errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	attempted := 0
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if jitter != nil {
			if err := jitter.Wait(ctx); err != nil {
				break
			}
		}
		attempted++
		g.Go(func() error {
			entity, err := s.fetcher.Fetch(ctx, key)
			switch {
			case err == nil:
				loaded.Add(1)
				entities[i] = entity
			case ctx.Err() != nil:
				// cut off by the deadline rather than failed
				late.Add(1)
			default:
				failed.Add(1)
				sampled.Warn().Err(err).Str("step", step.Name).Str("key", key.String()).Msg("preload fetch failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Loaded = int(loaded.Load())
	res.Failed += int(failed.Load())
	res.Skipped += len(keys) - attempted + int(late.Load())
	res.TimedOut = attempted < len(keys) || late.Load() > 0

	fetched := make([]*model.Entity, 0, res.Loaded)
	for _, e := range entities {
		if e != nil {
			fetched = append(fetched, e)
		}
	}

	s.logger.Debug().
		Str("step", step.Name).
		Int("keys", len(keys)).
		Int("loaded", res.Loaded).
		Msg("preload step done")

	return fetched, res
}

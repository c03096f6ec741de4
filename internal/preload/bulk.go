// Package preload warms the memory tier, either in bulk from the persistent tier or
// incrementally by querying the entity source for the ids of a working set.
package preload

import (
	"context"
	"iter"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/internal/store"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/rs/zerolog"
)

// Records is the persistent tier as seen by the bulk preloader.
type Records interface {
	Records() iter.Seq2[store.Record, error]
}

// Bulk copies every persisted record into mem in one pass, bypassing the per-key write path.
// Entries are inserted batchSize at a time under a single memory lock and the tier is trimmed
// back to its bound after each batch, so the most recently written records survive.
// A nil or unavailable store yields an empty result and a warning, never an error.
func Bulk(ctx context.Context, records Records, mem *db.LRU, batchSize int, logger zerolog.Logger) model.PreloadResult {
	start := time.Now()
	log := logger.With().Str("preload", "bulk").Logger()
	sampled := log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute})

	var res model.PreloadResult
	if records == nil {
		log.Warn().Msg("persistent tier is unavailable, nothing to preload")
		res.Elapsed = time.Since(start)
		return res
	}
	if batchSize <= 0 {
		batchSize = config.DefaultPreloadBatchSize
	}

	var (
		inserted int
		batch    = make([]db.Entry, 0, batchSize)
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		mem.InsertBatch(batch)
		inserted += len(batch)
		res.Evicted += mem.Trim()
		batch = batch[:0]
	}

	for rec, err := range records.Records() {
		if err != nil {
			if model.IsStoreUnavailable(err) {
				log.Warn().Err(err).Msg("persistent tier is unavailable, preload aborted")
				break
			}
			res.Failed++
			sampled.Warn().Err(err).Msg("skipping unreadable record")
			continue
		}
		key, err := model.ParseKey(rec.Key)
		if err != nil {
			res.Skipped++
			sampled.Warn().Err(err).Msg("skipping record with malformed key")
			continue
		}

		batch = append(batch, db.Entry{Key: key, Value: rec.Value})
		if len(batch) < batchSize {
			continue
		}
		flush()
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
	}
	flush()

	// inserted entries sit at the tail, so trimming from the head drops them last
	res.Loaded = min(inserted, mem.Len())
	res.Elapsed = time.Since(start)

	log.Info().
		Int("restored", res.Loaded).
		Int("skipped", res.Skipped).
		Int("fails", res.Failed).
		Int("evicted", res.Evicted).
		Bool("interrupted", res.TimedOut).
		Str("elapsed", res.Elapsed.String()).
		Msg("bulk preload finished")

	return res
}

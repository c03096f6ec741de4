package preload

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"testing"

	"github.com/Borislavv/go-dam-cache/internal/cache"
	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/internal/codec"
	"github.com/Borislavv/go-dam-cache/internal/store"
	"github.com/Borislavv/go-dam-cache/internal/testutil"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/stretchr/testify/require"
)

// records is an in-memory Records with optional read errors.
type records []struct {
	rec store.Record
	err error
}

func (r records) Records() iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		for _, x := range r {
			if !yield(x.rec, x.err) {
				return
			}
		}
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dam_cache_db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func persist(t *testing.T, st *store.Store, typ, id string) {
	t.Helper()
	data, err := codec.JSON{}.Encode(testutil.Entity(typ, id, "name", typ+"-"+id))
	require.NoError(t, err)
	require.NoError(t, st.Set(model.MustKey(typ, id).Raw(), data))
}

// TestBulk_KeepsMostRecentlyScanned loads three records and one malformed key into a two entry memory tier.
func TestBulk_KeepsMostRecentlyScanned(t *testing.T) {
	st := openStore(t)
	persist(t, st, "Task", "t1")
	require.NoError(t, st.Set([]byte("('Task', ['t9'])"), []byte(`{}`)))
	persist(t, st, "Task", "t2")
	persist(t, st, "Asset", "a1")

	mem := db.NewLRU(2)
	res := Bulk(context.Background(), st, mem, 2, testutil.Logger(t))

	require.Equal(t, 2, mem.Len())
	require.Equal(t, 2, res.Loaded)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, 1, res.Evicted)
	require.False(t, res.TimedOut)
	require.Equal(t, []model.Key{model.MustKey("Task", "t2"), model.MustKey("Asset", "a1")}, mem.Keys())
}

// TestBulk_CountsWellFormedAndMalformed retains min(N, maxSize) entries and reports M skipped.
func TestBulk_CountsWellFormedAndMalformed(t *testing.T) {
	for _, maxSize := range []int{3, 10} {
		t.Run(fmt.Sprintf("max_%d", maxSize), func(t *testing.T) {
			st := openStore(t)
			for i := range 5 {
				persist(t, st, "Asset", fmt.Sprintf("a%d", i))
			}
			require.NoError(t, st.Set([]byte{0x02, 0x01}, []byte(`{}`)))
			require.NoError(t, st.Set([]byte{0x01, 0x05, 'T'}, []byte(`{}`)))

			mem := db.NewLRU(maxSize)
			res := Bulk(context.Background(), st, mem, 2, testutil.Logger(t))

			require.Equal(t, min(5, maxSize), mem.Len())
			require.Equal(t, min(5, maxSize), res.Loaded)
			require.Equal(t, 2, res.Skipped)
			require.Equal(t, max(0, 5-maxSize), res.Evicted)
		})
	}
}

// TestBulk_ValuesDecodeThroughCache serves preloaded entries as ordinary memory hits.
func TestBulk_ValuesDecodeThroughCache(t *testing.T) {
	st := openStore(t)
	persist(t, st, "Task", "t1")

	mem := db.NewLRU(10)
	res := Bulk(context.Background(), st, mem, 0, testutil.Logger(t))
	require.Equal(t, 1, res.Loaded)

	src := testutil.NewSource()
	c := cache.New(mem, st, nil, src, testutil.Logger(t))
	e, outcome, err := c.Get(model.MustKey("Task", "t1"))
	require.NoError(t, err)
	require.Equal(t, cache.FromMemory, outcome)
	require.Equal(t, "Task-t1", e.Get("name"))
	require.Zero(t, src.TotalFetches())
}

// TestBulk_UnreadableRecordsAreCounted skips records the store failed to read.
func TestBulk_UnreadableRecordsAreCounted(t *testing.T) {
	data, err := codec.JSON{}.Encode(testutil.Entity("Task", "t1"))
	require.NoError(t, err)

	src := records{
		{err: model.NewErrStoreCorrupted("/x", 8, "checksum mismatch")},
		{rec: store.Record{Key: model.MustKey("Task", "t1").Raw(), Value: data}},
		{err: errors.New("short read")},
	}
	mem := db.NewLRU(10)
	res := Bulk(context.Background(), src, mem, 10, testutil.Logger(t))

	require.Equal(t, 1, res.Loaded)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, 0, res.Skipped)
}

// TestBulk_UnavailableStoreIsEmpty never fails when there is nothing to read.
func TestBulk_UnavailableStoreIsEmpty(t *testing.T) {
	mem := db.NewLRU(10)

	res := Bulk(context.Background(), nil, mem, 10, testutil.Logger(t))
	require.Equal(t, model.PreloadResult{Elapsed: res.Elapsed}, res)

	st := openStore(t)
	persist(t, st, "Task", "t1")
	require.NoError(t, st.Close())

	res = Bulk(context.Background(), st, mem, 10, testutil.Logger(t))
	require.Equal(t, 0, res.Loaded)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, 0, mem.Len())
}

// TestBulk_StopsOnCancelledContext keeps what was inserted before the context ended.
func TestBulk_StopsOnCancelledContext(t *testing.T) {
	st := openStore(t)
	for i := range 4 {
		persist(t, st, "Task", fmt.Sprintf("t%d", i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mem := db.NewLRU(10)
	res := Bulk(ctx, st, mem, 2, testutil.Logger(t))

	require.True(t, res.TimedOut)
	require.Equal(t, 2, res.Loaded)
	require.Equal(t, 2, mem.Len())
}

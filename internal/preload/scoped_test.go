package preload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/cache"
	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/internal/telemetry"
	"github.com/Borislavv/go-dam-cache/internal/testutil"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/stretchr/testify/require"
)

func newScoped(t *testing.T, src *testutil.Source, cfg *config.PreloadCfg) (*Scoped, *telemetry.Instrumented) {
	t.Helper()
	inner := cache.New(db.NewLRU(100), openStore(t), nil, src, testutil.Logger(t))
	inst := telemetry.NewInstrumented(inner, nil, nil, testutil.Logger(t))
	return NewScoped(inst, src, cfg, testutil.Logger(t)), inst
}

func inMemory(inst *telemetry.Instrumented, typ, id string) bool {
	return inst.Inner().InMemory(model.MustKey(typ, id))
}

// TestScoped_FilterWarmsMatchingIDs queries ids once and pulls each entity through the read path.
func TestScoped_FilterWarmsMatchingIDs(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("Asset", "a2", "project_id", "p1"),
		testutil.Entity("Asset", "a3", "project_id", "p2"),
	)
	s, inst := newScoped(t, src, &config.PreloadCfg{Concurrency: 2})

	res := s.Filter(context.Background(), model.Filter{EntityType: "Asset", Where: `project_id is "p1"`})

	require.Equal(t, 2, res.Loaded)
	require.Zero(t, res.Failed)
	require.Zero(t, res.Skipped)
	require.False(t, res.TimedOut)
	require.True(t, inMemory(inst, "Asset", "a1"))
	require.True(t, inMemory(inst, "Asset", "a2"))
	require.False(t, inMemory(inst, "Asset", "a3"))
	require.Len(t, src.Queries(), 1)
	require.Equal(t, int64(2), inst.Counts().Fetched)
}

// TestScoped_SecondRunIsServedFromMemory does not refetch what the first run loaded.
func TestScoped_SecondRunIsServedFromMemory(t *testing.T) {
	src := testutil.NewSource(testutil.Entity("Location", "l1"), testutil.Entity("Location", "l2"))
	s, inst := newScoped(t, src, nil)
	f := model.Filter{EntityType: "Location"}

	require.Equal(t, 2, s.Filter(context.Background(), f).Loaded)
	require.Equal(t, 2, s.Filter(context.Background(), f).Loaded)
	require.Equal(t, 2, src.TotalFetches())
	require.Equal(t, int64(2), inst.Counts().MemoryHits)
}

// TestScoped_TimeoutReturnsPartialResult skips ids not fetched before the configured timeout.
func TestScoped_TimeoutReturnsPartialResult(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Asset", "a1"),
		testutil.Entity("Asset", "a2"),
		testutil.Entity("Asset", "a3"),
	)
	release := src.Hold()
	t.Cleanup(release)
	s, inst := newScoped(t, src, &config.PreloadCfg{Concurrency: 1, Timeout: 50 * time.Millisecond})

	start := time.Now()
	res := s.Filter(context.Background(), model.Filter{EntityType: "Asset"})

	require.Less(t, time.Since(start), 2*time.Second)
	require.True(t, res.TimedOut)
	require.Zero(t, res.Loaded)
	require.Zero(t, res.Failed)
	require.Equal(t, 3, res.Skipped)
	require.False(t, inMemory(inst, "Asset", "a1"))
}

// TestScoped_CallerDeadlineWins honors a deadline already set on the context.
func TestScoped_CallerDeadlineWins(t *testing.T) {
	src := testutil.NewSource(testutil.Entity("Asset", "a1"), testutil.Entity("Asset", "a2"))
	src.Delay(time.Second)
	s, _ := newScoped(t, src, &config.PreloadCfg{Concurrency: 4, Timeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := s.Filter(ctx, model.Filter{EntityType: "Asset"})

	require.True(t, res.TimedOut)
	require.Equal(t, 2, res.Skipped)
}

// TestScoped_FailuresAreCounted counts missing entities and failed queries without returning an error.
func TestScoped_FailuresAreCounted(t *testing.T) {
	src := testutil.NewSource(testutil.Entity("Asset", "a1"))
	s, _ := newScoped(t, src, nil)

	res := s.Run(context.Background(), Plan{Steps: []Step{{
		Name: "explicit",
		Keys: []model.Key{model.MustKey("Asset", "a1"), model.MustKey("Asset", "gone")},
	}}})
	require.Equal(t, 1, res.Loaded)
	require.Equal(t, 1, res.Failed)

	src.FailWith(errors.New("session expired"))
	res = s.Filter(context.Background(), model.Filter{EntityType: "Asset"})
	require.Equal(t, 1, res.Failed)
	require.Zero(t, res.Loaded)
	require.False(t, res.TimedOut)
}

// TestScoped_RatePacesFetches still loads everything when pacing is on.
func TestScoped_RatePacesFetches(t *testing.T) {
	src := testutil.NewSource(testutil.Entity("Asset", "a1"), testutil.Entity("Asset", "a2"), testutil.Entity("Asset", "a3"))
	s, _ := newScoped(t, src, &config.PreloadCfg{Concurrency: 2, Rate: 1000})

	res := s.Filter(context.Background(), model.Filter{EntityType: "Asset"})
	require.Equal(t, 3, res.Loaded)
}

// TestScoped_ThenRunsFollowUpSteps feeds fetched entities into follow-up steps.
func TestScoped_ThenRunsFollowUpSteps(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("Project", "p1"),
	)
	s, inst := newScoped(t, src, nil)

	var seen []string
	res := s.Run(context.Background(), Plan{Steps: []Step{{
		Keys: []model.Key{model.MustKey("Asset", "a1")},
		Then: func(fetched []*model.Entity) []Step {
			for _, e := range fetched {
				seen = append(seen, e.ID)
			}
			return []Step{{Keys: []model.Key{model.MustKey("Project", "p1")}}}
		},
	}}})

	require.Equal(t, 2, res.Loaded)
	require.Equal(t, []string{"a1"}, seen)
	require.True(t, inMemory(inst, "Project", "p1"))
}

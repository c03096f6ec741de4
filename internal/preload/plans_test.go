package preload

import (
	"context"
	"sync"
	"testing"

	"github.com/Borislavv/go-dam-cache/internal/testutil"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/stretchr/testify/require"
)

// TestProjectPlan_SplitsQuota loads the project, all locations, assets up to half the quota and versions for the rest.
func TestProjectPlan_SplitsQuota(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Project", "p1"),
		testutil.Entity("Location", "l1"),
		testutil.Entity("Location", "l2"),
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("Asset", "a2", "project_id", "p1"),
		testutil.Entity("Asset", "a3", "project_id", "p1"),
		testutil.Entity("Asset", "a4", "project_id", "p1"),
		testutil.Entity("Asset", "x1", "project_id", "p2"),
		testutil.Entity("AssetVersion", "v1", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v2", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v3", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v4", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v5", "asset_project_id", "p1"),
	)
	s, inst := newScoped(t, src, nil)

	res := s.Run(context.Background(), ProjectPlan("p1", 10))

	require.Equal(t, 10, res.Loaded)
	require.Zero(t, res.Failed)
	require.True(t, inMemory(inst, "Project", "p1"))
	require.True(t, inMemory(inst, "Location", "l2"))
	require.True(t, inMemory(inst, "Asset", "a4"))
	require.False(t, inMemory(inst, "Asset", "x1"))
	require.True(t, inMemory(inst, "AssetVersion", "v3"))
	require.False(t, inMemory(inst, "AssetVersion", "v4"))

	queries := src.Queries()
	require.Len(t, queries, 3)
	require.Equal(t, `select id from Asset where project_id is "p1" limit 5`, queries[1].String())
	require.Equal(t, `select id from AssetVersion where asset.project_id is "p1" limit 3`, queries[2].String())
}

// TestProjectPlan_NoQuotaLeftSkipsVersions never queries versions once the quota is used up.
func TestProjectPlan_NoQuotaLeftSkipsVersions(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Project", "p1"),
		testutil.Entity("Location", "l1"),
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("AssetVersion", "v1", "asset_project_id", "p1"),
	)
	s, _ := newScoped(t, src, nil)

	res := s.Run(context.Background(), ProjectPlan("p1", 2))
	require.Equal(t, 3, res.Loaded)
	require.Len(t, src.Queries(), 2)
}

// TestProjectPlan_ReusableAcrossRuns keeps a separate quota for every run of one plan value.
func TestProjectPlan_ReusableAcrossRuns(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Project", "p1"),
		testutil.Entity("Location", "l1"),
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("Asset", "a2", "project_id", "p1"),
		testutil.Entity("AssetVersion", "v1", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v2", "asset_project_id", "p1"),
		testutil.Entity("AssetVersion", "v3", "asset_project_id", "p1"),
	)
	s, _ := newScoped(t, src, nil)
	plan := ProjectPlan("p1", 6)

	results := make([]int, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.Run(context.Background(), plan).Loaded
		}()
	}
	wg.Wait()

	for _, loaded := range results {
		require.Equal(t, 6, loaded)
	}
	require.Equal(t, 6, s.Run(context.Background(), plan).Loaded)
}

// TestAssetPlan_LatestVersionsAndComponents follows the newest versions down to their components.
func TestAssetPlan_LatestVersionsAndComponents(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Asset", "a1"),
		testutil.Entity("AssetVersion", "v1", "asset_id", "a1", "version", 1),
		testutil.Entity("AssetVersion", "v2", "asset_id", "a1", "version", 2),
		testutil.Entity("AssetVersion", "v3", "asset_id", "a1", "version", 3),
		testutil.Entity("AssetVersion", "w1", "asset_id", "a2", "version", 9),
		testutil.Entity("Component", "c1", "version_id", "v3"),
		testutil.Entity("Component", "c2", "version_id", "v2"),
		testutil.Entity("Component", "c3", "version_id", "v1"),
	)
	s, inst := newScoped(t, src, nil)

	res := s.Run(context.Background(), AssetPlan("a1", 2))

	require.Equal(t, 5, res.Loaded)
	require.True(t, inMemory(inst, "AssetVersion", "v3"))
	require.True(t, inMemory(inst, "AssetVersion", "v2"))
	require.False(t, inMemory(inst, "AssetVersion", "v1"))
	require.False(t, inMemory(inst, "AssetVersion", "w1"))
	require.True(t, inMemory(inst, "Component", "c1"))
	require.True(t, inMemory(inst, "Component", "c2"))
	require.False(t, inMemory(inst, "Component", "c3"))
	require.Equal(t, "version desc", src.Queries()[0].OrderBy)
}

// TestTaskPlan_FollowsParentLinks resolves embedded and flattened parent links.
func TestTaskPlan_FollowsParentLinks(t *testing.T) {
	src := testutil.NewSource(
		testutil.Entity("Task", "t1", "parent", map[string]any{"__entity_type__": "Asset", "id": "a1"}),
		testutil.Entity("Task", "t2", "parent_id", "s1", "parent_type", "Shot"),
		testutil.Entity("Asset", "a1", "project_id", "p1"),
		testutil.Entity("Shot", "s1", "project_id", "p2"),
		testutil.Entity("Project", "p1"),
		testutil.Entity("Project", "p2"),
		testutil.Entity("AssetVersion", "v1", "asset_id", "a1", "version", 1),
	)
	s, inst := newScoped(t, src, nil)

	res := s.Run(context.Background(), TaskPlan("t1", 0))
	require.Equal(t, 4, res.Loaded)
	require.True(t, inMemory(inst, "Asset", "a1"))
	require.True(t, inMemory(inst, "Project", "p1"))
	require.True(t, inMemory(inst, "AssetVersion", "v1"))
	require.Equal(t, DefaultTaskVersions, src.Queries()[0].Limit)

	res = s.Run(context.Background(), TaskPlan("t2", 0))
	require.Equal(t, 3, res.Loaded)
	require.True(t, inMemory(inst, "Shot", "s1"))
	require.True(t, inMemory(inst, "Project", "p2"))
	require.Len(t, src.Queries(), 1)
}

// TestTaskPlan_MissingTaskStops counts the failed task and loads nothing else.
func TestTaskPlan_MissingTaskStops(t *testing.T) {
	s, _ := newScoped(t, testutil.NewSource(), nil)

	res := s.Run(context.Background(), TaskPlan("nope", 0))
	require.Zero(t, res.Loaded)
	require.Equal(t, 1, res.Failed)
}

// TestRef_RequiresID rejects links without an id.
func TestRef_RequiresID(t *testing.T) {
	_, ok := ref(testutil.Entity("Task", "t1", "parent_type", "Asset"), "parent", "")
	require.False(t, ok)

	k, ok := ref(testutil.Entity("Asset", "a1", "project_id", "p1"), "project", "Project")
	require.True(t, ok)
	require.Equal(t, model.MustKey("Project", "p1"), k)
}

package preload

import (
	"fmt"

	"github.com/Borislavv/go-dam-cache/model"
)

const (
	DefaultProjectEntities = 1000
	DefaultAssetVersions   = 50
	DefaultTaskVersions    = 25
)

// ProjectPlan warms what opening a project touches first: the project, every location,
// up to half of maxEntities assets and versions of the project for the remaining quota.
// The quota is tracked per run, so one plan value may be run any number of times.
func ProjectPlan(projectID string, maxEntities int) Plan {
	if maxEntities <= 0 {
		maxEntities = DefaultProjectEntities
	}
	return Plan{
		Name: "project " + projectID,
		Steps: []Step{{
			Name: "project",
			Keys: keyOf("Project", projectID),
			Then: func(fetched []*model.Entity) []Step {
				return projectContent(projectID, maxEntities, len(fetched))
			},
		}},
	}
}

func projectContent(projectID string, maxEntities, loaded int) []Step {
	return []Step{
		{
			Name:   "locations",
			Filter: &model.Filter{EntityType: "Location"},
			Then: func(fetched []*model.Entity) []Step {
				loaded += len(fetched)
				return nil
			},
		},
		{
			Name: "assets",
			Filter: &model.Filter{
				EntityType: "Asset",
				Where:      is("project_id", projectID),
				Limit:      max(maxEntities/2, 1),
			},
			Then: func(fetched []*model.Entity) []Step {
				loaded += len(fetched)
				remaining := maxEntities - loaded
				if remaining <= 0 {
					return nil
				}
				return []Step{{
					Name: "versions",
					Filter: &model.Filter{
						EntityType: "AssetVersion",
						Where:      is("asset.project_id", projectID),
						Limit:      remaining,
					},
				}}
			},
		},
	}
}

// AssetPlan warms an asset, its latest maxVersions versions and the components of those versions.
func AssetPlan(assetID string, maxVersions int) Plan {
	if maxVersions <= 0 {
		maxVersions = DefaultAssetVersions
	}
	return Plan{
		Name: "asset " + assetID,
		Steps: []Step{
			{Name: "asset", Keys: keyOf("Asset", assetID)},
			{
				Name: "versions",
				Filter: &model.Filter{
					EntityType: "AssetVersion",
					Where:      is("asset.id", assetID),
					OrderBy:    "version desc",
					Limit:      maxVersions,
				},
				Then: componentsOf,
			},
		},
	}
}

// TaskPlan warms a task, its parent, the parent's project and, when the parent is an asset,
// the asset's latest maxVersions versions.
func TaskPlan(taskID string, maxVersions int) Plan {
	if maxVersions <= 0 {
		maxVersions = DefaultTaskVersions
	}
	return Plan{
		Name: "task " + taskID,
		Steps: []Step{{
			Name: "task",
			Keys: keyOf("Task", taskID),
			Then: func(fetched []*model.Entity) []Step {
				if len(fetched) == 0 {
					return nil
				}
				parent, ok := ref(fetched[0], "parent", "")
				if !ok {
					return nil
				}
				return []Step{{
					Name: "parent",
					Keys: []model.Key{parent},
					Then: func(fetched []*model.Entity) []Step {
						if len(fetched) == 0 {
							return nil
						}
						return parentContext(fetched[0], maxVersions)
					},
				}}
			},
		}},
	}
}

func parentContext(parent *model.Entity, maxVersions int) []Step {
	var steps []Step
	if project, ok := ref(parent, "project", "Project"); ok {
		steps = append(steps, Step{Name: "project", Keys: []model.Key{project}})
	}
	if parent.Type == "Asset" {
		steps = append(steps, Step{
			Name: "versions",
			Filter: &model.Filter{
				EntityType: "AssetVersion",
				Where:      is("asset_id", parent.ID),
				OrderBy:    "version desc",
				Limit:      maxVersions,
			},
		})
	}
	return steps
}

func componentsOf(versions []*model.Entity) []Step {
	steps := make([]Step, 0, len(versions))
	for _, v := range versions {
		steps = append(steps, Step{
			Name:   "components",
			Filter: &model.Filter{EntityType: "Component", Where: is("version.id", v.ID)},
		})
	}
	return steps
}

// ref resolves a link attribute into a key. Links come either embedded
// ({"__entity_type__": "Asset", "id": "a1"}) or flattened (parent_id + parent_type).
func ref(e *model.Entity, name, defaultType string) (model.Key, bool) {
	var typ, id string
	if m, ok := e.Get(name).(map[string]any); ok {
		id = str(m["id"])
		typ = str(m["__entity_type__"])
		if typ == "" {
			typ = str(m["entity_type"])
		}
	}
	if id == "" {
		id = str(e.Get(name + "_id"))
	}
	if typ == "" {
		typ = str(e.Get(name + "_type"))
	}
	if typ == "" {
		typ = defaultType
	}
	if id == "" {
		return model.Key{}, false
	}
	key, err := model.NewKey(typ, id)
	return key, err == nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func is(attr, value string) string {
	return fmt.Sprintf("%s is %q", attr, value)
}

func keyOf(typ, id string) []model.Key {
	key, err := model.NewKey(typ, id)
	if err != nil {
		return nil
	}
	return []model.Key{key}
}

package model

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Entity is a decoded DAM record (Task, Asset, AssetVersion, Component, ...).
type Entity struct {
	Type       string
	ID         string
	Attributes map[string]any
}

func (e *Entity) Key() (Key, error) { return NewKey(e.Type, e.ID) }

// Get returns a single attribute, nil when absent.
func (e *Entity) Get(name string) any {
	if e == nil || e.Attributes == nil {
		return nil
	}
	return e.Attributes[name]
}

// Record is a partial row returned by a projection query (e.g. "select id, name from Asset").
type Record map[string]any

// Codec is the encode/decode contract of an entity source.
// The persistent tier stores exactly what Encode produces.
type Codec interface {
	Encode(entity *Entity) ([]byte, error)
	Decode(data []byte) (*Entity, error)
}

// Source is the remote capability fronted by the cache, typically an authenticated DAM API session.
type Source interface {
	Codec
	// Fetch returns the full entity addressed by key or an error satisfying IsNotFound.
	Fetch(ctx context.Context, key Key) (*Entity, error)
	// QueryIDs runs a cheap id-only projection.
	QueryIDs(ctx context.Context, filter Filter) ([]string, error)
	// Query runs an arbitrary projection; results are never cached.
	Query(ctx context.Context, expression string) ([]Record, error)
}

// Filter selects ids of one entity type. It renders to the DAM query language.
type Filter struct {
	EntityType string
	Where      string // e.g. `project_id is "p1"`, empty selects all
	OrderBy    string // e.g. `version desc`
	Limit      int    // 0 means no limit
}

func (f Filter) String() string {
	var b strings.Builder
	b.WriteString("select id from ")
	b.WriteString(f.EntityType)
	if f.Where != "" {
		b.WriteString(" where ")
		b.WriteString(f.Where)
	}
	if f.OrderBy != "" {
		b.WriteString(" order by ")
		b.WriteString(f.OrderBy)
	}
	if f.Limit > 0 {
		b.WriteString(" limit ")
		b.WriteString(strconv.Itoa(f.Limit))
	}
	return b.String()
}

// PreloadResult summarizes one bulk or scoped warm-up run.
type PreloadResult struct {
	Loaded   int           // entries now resident in memory because of this run
	Skipped  int           // malformed keys (bulk) or ids not attempted before the deadline (scoped)
	Failed   int           // unreadable records (bulk) or source/decode failures (scoped)
	Evicted  int           // entries trimmed to respect the memory bound
	Elapsed  time.Duration // wall time of the run
	TimedOut bool          // scoped run stopped at its deadline
}

// Merge accumulates another run into r.
func (r *PreloadResult) Merge(o PreloadResult) {
	r.Loaded += o.Loaded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Evicted += o.Evicted
	r.TimedOut = r.TimedOut || o.TimedOut
}

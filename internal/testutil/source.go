package testutil

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Borislavv/go-dam-cache/internal/codec"
	"github.com/Borislavv/go-dam-cache/model"
)

// Source is an in-memory DAM entity source.
// Its QueryIDs understands `attr is "value"` clauses joined with " and ", and `attr [asc|desc]` ordering.
type Source struct {
	codec.JSON

	mu       sync.Mutex
	entities map[model.Key]*model.Entity
	fetches  map[model.Key]int
	queries  []model.Filter
	fetchErr error
	delay    time.Duration
	gate     chan struct{}
}

func NewSource(entities ...*model.Entity) *Source {
	s := &Source{
		entities: make(map[model.Key]*model.Entity),
		fetches:  make(map[model.Key]int),
	}
	for _, e := range entities {
		s.Put(e)
	}
	return s
}

// Entity is a shorthand constructor: Entity("Task", "t1", "name", "comp", "parent_id", "s1").
func Entity(typ, id string, attrs ...any) *model.Entity {
	e := &model.Entity{Type: typ, ID: id}
	if len(attrs) > 0 {
		e.Attributes = make(map[string]any, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			e.Attributes[attrs[i].(string)] = attrs[i+1]
		}
	}
	return e
}

// Put adds or replaces an entity, as a remote edit would.
func (s *Source) Put(e *model.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[model.MustKey(e.Type, e.ID)] = clone(e)
}

func (s *Source) Delete(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, key)
}

// FailWith makes every Fetch, QueryIDs and Query call fail with err. Nil restores normal operation.
func (s *Source) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// Delay slows every Fetch down, honoring the context.
func (s *Source) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Hold blocks every Fetch until the returned release func is called.
func (s *Source) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Fetches returns how many times key was fetched.
func (s *Source) Fetches(key model.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[key]
}

func (s *Source) TotalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.fetches {
		n += v
	}
	return n
}

// Queries returns the id-only filters executed so far.
func (s *Source) Queries() []model.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

func (s *Source) Fetch(ctx context.Context, key model.Key) (*model.Entity, error) {
	s.mu.Lock()
	s.fetches[key]++
	err, delay, gate := s.fetchErr, s.delay, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clone(e), nil
}

func (s *Source) QueryIDs(ctx context.Context, filter model.Filter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, filter)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	conds, err := parseWhere(filter.Where)
	if err != nil {
		return nil, err
	}
	var matched []*model.Entity
	for k, e := range s.entities {
		if k.Type() != filter.EntityType || !matches(e, conds) {
			continue
		}
		matched = append(matched, e)
	}
	sortEntities(matched, filter.OrderBy)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	ids := make([]string, 0, len(matched))
	for _, e := range matched {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// Query supports "select <fields> from <Type>" and returns every entity of that type projected on fields.
func (s *Source) Query(ctx context.Context, expression string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields, typ, ok := strings.Cut(strings.TrimPrefix(expression, "select "), " from ")
	if !ok {
		return nil, fmt.Errorf("unsupported expression %q", expression)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var out []model.Record
	for k, e := range s.entities {
		if k.Type() != strings.TrimSpace(typ) {
			continue
		}
		rec := model.Record{}
		for _, f := range strings.Split(fields, ",") {
			f = strings.TrimSpace(f)
			if f == "id" {
				rec["id"] = e.ID
				continue
			}
			rec[f] = e.Get(f)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b model.Record) int { return cmp.Compare(fmt.Sprint(a["id"]), fmt.Sprint(b["id"])) })
	return out, nil
}

type cond struct{ attr, value string }

func parseWhere(where string) ([]cond, error) {
	if strings.TrimSpace(where) == "" {
		return nil, nil
	}
	var conds []cond
	for _, part := range strings.Split(where, " and ") {
		attr, value, ok := strings.Cut(strings.TrimSpace(part), " is ")
		if !ok {
			return nil, fmt.Errorf("unsupported where clause %q", part)
		}
		unquoted, err := strconv.Unquote(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("unsupported value in %q: %w", part, err)
		}
		conds = append(conds, cond{attr: strings.TrimSpace(attr), value: unquoted})
	}
	return conds, nil
}

func matches(e *model.Entity, conds []cond) bool {
	for _, c := range conds {
		var got string
		if c.attr == "id" {
			got = e.ID
		} else if v := attrOf(e, c.attr); v != nil {
			got = fmt.Sprint(v)
		}
		if got != c.value {
			return false
		}
	}
	return true
}

func sortEntities(entities []*model.Entity, orderBy string) {
	attr, dir, _ := strings.Cut(strings.TrimSpace(orderBy), " ")
	desc := strings.EqualFold(strings.TrimSpace(dir), "desc")
	slices.SortFunc(entities, func(a, b *model.Entity) int {
		r := 0
		if attr != "" {
			r = compareValues(attrOf(a, attr), attrOf(b, attr))
		}
		if r == 0 {
			r = cmp.Compare(a.ID, b.ID)
		} else if desc {
			r = -r
		}
		return r
	})
}

// attrOf resolves dotted relation paths ("asset.id") against flattened attributes ("asset_id").
func attrOf(e *model.Entity, name string) any {
	if v := e.Get(name); v != nil {
		return v
	}
	return e.Get(strings.ReplaceAll(name, ".", "_"))
}

func compareValues(a, b any) int {
	fa, errA := strconv.ParseFloat(fmt.Sprint(a), 64)
	fb, errB := strconv.ParseFloat(fmt.Sprint(b), 64)
	if errA == nil && errB == nil {
		return cmp.Compare(fa, fb)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func clone(e *model.Entity) *model.Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = maps.Clone(e.Attributes)
	}
	return &c
}

package db

import (
	"container/list"
	"sync"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/model"
)

// Entry is one resident item: the key and the encoded entity bytes.
type Entry struct {
	Key   model.Key
	Value []byte
}

// LRU is a bounded map with strict least-recently-used eviction.
// Front of the list is the eviction candidate (head), back is the most recently used (tail).
// One mutex guards the map and the list so access order and eviction are always consistent.
// Values are shared, callers must not mutate returned slices.
type LRU struct {
	mu       sync.Mutex
	maxSize  int
	items    map[model.Key]*list.Element
	order    *list.List
	counters *counters
}

func NewLRU(maxSize int) *LRU {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxSize
	}
	return &LRU{
		maxSize:  maxSize,
		items:    make(map[model.Key]*list.Element),
		order:    list.New(),
		counters: newCounters(),
	}
}

// Get returns the value and marks key as most recently used.
func (c *LRU) Get(key model.Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToBack(el)
	return el.Value.(*Entry).Value, true
}

// Peek returns the value without touching the access order.
func (c *LRU) Peek(key model.Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*Entry).Value, true
	}
	return nil, false
}

func (c *LRU) Contains(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Touch marks key as most recently used. Reports whether key is resident.
func (c *LRU) Touch(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToBack(el)
		return true
	}
	return false
}

// Set inserts or replaces key as most recently used, then evicts from the head until the bound holds.
// Returns the number of evicted entries.
func (c *LRU) Set(key model.Key, value []byte) (evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setUnlocked(key, value)
	return c.trimUnlocked()
}

// InsertBatch appends entries at the tail in the given order without enforcing the bound.
// It takes the lock once per batch; call Trim afterwards.
func (c *LRU) InsertBatch(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range entries {
		c.setUnlocked(entries[i].Key, entries[i].Value)
	}
}

// Trim evicts from the head until the bound holds and returns the number of evicted entries.
func (c *LRU) Trim() (evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimUnlocked()
}

// setUnlocked - is unsafe without c.mu held.
func (c *LRU) setUnlocked(key model.Key, value []byte) {
	if el, ok := c.items[key]; ok {
		el.Value.(*Entry).Value = value
		c.order.MoveToBack(el)
		c.counters.updates.Add(1)
		return
	}
	c.items[key] = c.order.PushBack(&Entry{Key: key, Value: value})
	c.counters.inserts.Add(1)
}

// trimUnlocked - is unsafe without c.mu held.
func (c *LRU) trimUnlocked() (evicted int) {
	for len(c.items) > c.maxSize {
		el := c.order.Front()
		if el == nil {
			break
		}
		c.order.Remove(el)
		delete(c.items, el.Value.(*Entry).Key)
		evicted++
	}
	if evicted > 0 {
		c.counters.evictions.Add(int64(evicted))
	}
	return evicted
}

func (c *LRU) Remove(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	c.counters.removals.Add(1)
	return true
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters.removals.Add(int64(len(c.items)))
	c.items = make(map[model.Key]*list.Element)
	c.order.Init()
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) MaxSize() int { return c.maxSize }

// Keys returns resident keys from the eviction candidate (head) to the most recently used (tail).
func (c *LRU) Keys() []model.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]model.Key, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

// Counters returns cumulative insert, update, eviction and removal counts.
func (c *LRU) Counters() Counters { return c.counters.snapshot() }

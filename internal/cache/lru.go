// Package cache provides a fixed-capacity least-recently-used map that is
// safe for concurrent use. It backs the converted-message cache shared by all
// in-flight message pipelines.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
)

// Item is one key/value pair returned by Items.
type Item[K comparable, V any] struct {
	Key   K
	Value V
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a bounded map with least-recently-used eviction.
// Every operation holds the cache mutex for its whole duration, so eviction
// always sees a consistent recency order.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[K]*list.Element
}

// New creates an LRU holding at most capacity entries (minimum 1).
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// Get returns the value for key and marks it most recently used.
// A miss has no side effects.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Peek returns the value for key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces key. When key is new and the cache is full the
// least recently used entry is evicted first. Returns true if an eviction
// happened.
func (c *LRU[K, V]) Put(key K, value V) (evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		return false
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
			evicted = true
		}
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	return evicted
}

// Remove deletes key if present. It never fails.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// RemoveFunc removes every entry for which pred returns true and reports how
// many were removed. A predicate that panics on an entry leaves that entry in
// place and the pass continues with the next one. Recency of the surviving
// entries is unchanged.
func (c *LRU[K, V]) RemoveFunc(pred func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[K, V])
		if safeMatch(pred, e.key, e.value) {
			c.order.Remove(el)
			delete(c.items, e.key)
			removed++
		}
		el = prev
	}
	return removed
}

func safeMatch[K comparable, V any](pred func(K, V) bool, key K, value V) (match bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("cache predicate failed, skipping entry", "key", key, "panic", r)
			match = false
		}
	}()
	return pred(key, value)
}

// Items returns a snapshot ordered from least to most recently used.
// Iterating the snapshot does not affect recency.
func (c *LRU[K, V]) Items() []Item[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Item[K, V], 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry[K, V])
		out = append(out, Item[K, V]{Key: e.key, Value: e.value})
	}
	return out
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cap returns the fixed capacity.
func (c *LRU[K, V]) Cap() int { return c.capacity }

// Reset drops every entry.
func (c *LRU[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

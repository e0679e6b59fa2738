package netservice

import "sync"

// SafeCache is an unbounded map guarded by a single RWMutex. Entries are
// never evicted; Put on an existing key overwrites it. The zero value is
// ready to use.
type SafeCache[K comparable, V any] struct {
	mu    sync.RWMutex
	store map[K]V
}

// NewSafeCache returns an empty cache.
func NewSafeCache[K comparable, V any]() *SafeCache[K, V] {
	return &SafeCache[K, V]{
		store: make(map[K]V),
	}
}

// Get returns the value stored under key and whether it was present.
func (c *SafeCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, exists := c.store[key]
	return value, exists
}

// Put stores value under key, replacing any previous value.
func (c *SafeCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		c.store = make(map[K]V)
	}
	c.store[key] = value
}

// Len returns the number of stored keys.
func (c *SafeCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.store)
}

// Keys returns a snapshot of the stored keys in no particular order.
func (c *SafeCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.store))
	for key := range c.store {
		keys = append(keys, key)
	}
	return keys
}

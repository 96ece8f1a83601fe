// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a small thread-safe cache with a soft size limit.
// The compositor keeps compiled shader modules in it so renderers sharing
// a WGSL source compile it once.
package cache

import "sync"

// Cache maps keys to values. When it grows past its soft limit the least
// recently used quarter is evicted. A zero soft limit means unlimited.
//
// Cache must not be copied after first use.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[V]
	softLimit int
	tick      int64
	hits      uint64
	misses    uint64
}

type entry[V any] struct {
	value V
	atime int64
}

// Stats reports cache usage.
type Stats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// New creates a cache holding about softLimit entries.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V]), softLimit: softLimit}
}

// Get returns the value stored for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.tick++
	e.atime = c.tick
	return e.value, true
}

// GetOrCreate returns the value for key, calling create on a miss. Values
// are stored only when create succeeds. create runs under the lock, so
// concurrent callers never build the same key twice.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	if e, ok := c.entries[key]; ok {
		c.hits++
		e.atime = c.tick
		return e.value, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return v, err
	}
	c.entries[key] = &entry[V]{value: v, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evict()
	}
	return v, nil
}

// Clear drops every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Stats returns the current length and hit counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Len: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// evict removes the oldest entries until a quarter of the limit is free.
// Caller must hold c.mu.
func (c *Cache[K, V]) evict() {
	target := max(1, c.softLimit*3/4)
	for len(c.entries) > target {
		var (
			oldest K
			atime  int64 = -1
		)
		for k, e := range c.entries {
			if atime < 0 || e.atime < atime {
				oldest, atime = k, e.atime
			}
		}
		delete(c.entries, oldest)
	}
}

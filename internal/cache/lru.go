// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package cache provides a bounded, thread-safe LRU cache with per-entry TTL.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	storedAt  time.Time
	expiresAt time.Time
	prev      *entry[V]
	next      *entry[V]
}

// LRU is a least-recently-used cache with lazy TTL expiry.
//
// Get, Set and eviction are O(1): a map indexes nodes of a doubly-linked
// list whose head is the most recently used entry.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	items map[string]*entry[V]
	head  *entry[V] // sentinel; head.next is most recent
	tail  *entry[V] // sentinel; tail.prev is least recent

	hits   int64
	misses int64
}

// NewLRU creates a cache holding at most capacity entries, each expiring ttl
// after it was last written.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*entry[V], capacity),
		head:     &entry[V]{},
		tail:     &entry[V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// WithClock replaces the time source. Tests only.
func (c *LRU[V]) WithClock(now func() time.Time) *LRU[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the value for key when present and unexpired.
func (c *LRU[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithTime(key)
	return v, ok
}

// GetWithTime is Get plus the time the value was stored.
func (c *LRU[V]) GetWithTime(key string) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, time.Time{}, false
	}
	if c.now().After(e.expiresAt) {
		c.remove(e)
		c.misses++
		return zero, time.Time{}, false
	}
	c.moveToFront(e)
	c.hits++
	return e.value, e.storedAt, true
}

// Set stores value under key with the cache's default TTL.
func (c *LRU[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key, expiring after ttl.
func (c *LRU[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.storedAt = now
		e.expiresAt = now.Add(ttl)
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, storedAt: now, expiresAt: now.Add(ttl)}
	c.pushFront(e)
	c.items[key] = e
	for len(c.items) > c.capacity {
		c.remove(c.tail.prev)
	}
}

// Delete removes key. Returns true if it was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.remove(e)
		return true
	}
	return false
}

// Len returns the number of stored entries, expired or not.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every entry.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes expired entries and returns how many it dropped.
func (c *LRU[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			c.remove(e)
			removed++
		}
		e = prev
	}
	return removed
}

// Stats returns hit and miss counts and the current size.
func (c *LRU[V]) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// List helpers; callers hold mu.

func (c *LRU[V]) pushFront(e *entry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[V]) moveToFront(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}

func (c *LRU[V]) remove(e *entry[V]) {
	if e == c.head || e == c.tail {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

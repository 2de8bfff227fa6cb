// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package objtable provides a sharded id-to-object table for guest-visible
// object tracking. Guest ids are dense 64-bit values chosen by the guest,
// so the identity hash spreads them across shards well enough.
package objtable

import "sync"

const (
	// shardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16

	// shardMask is used for fast shard selection (shardCount - 1).
	shardMask = shardCount - 1
)

// Table is a thread-safe, sharded map from guest object ids to objects.
// Unlike a cache, entries never expire: the guest owns insertion and
// removal explicitly.
type Table[V any] struct {
	shards [shardCount]*shard[V]
}

// shard is a single shard of the table.
// Each shard has its own mutex for reduced contention.
type shard[V any] struct {
	mu      sync.RWMutex
	entries map[uint64]V
}

// New creates an empty table.
func New[V any]() *Table[V] {
	t := &Table[V]{}
	for i := range t.shards {
		t.shards[i] = &shard[V]{entries: make(map[uint64]V)}
	}
	return t
}

// getShard returns the shard for a given id.
// Uses bitwise AND for fast modulo (only works with power-of-2 shard count).
func (t *Table[V]) getShard(id uint64) *shard[V] {
	return t.shards[id&shardMask]
}

// Get retrieves an object by id.
// Returns (value, true) if present, (zero, false) otherwise.
func (t *Table[V]) Get(id uint64) (V, bool) {
	s := t.getShard(id)
	s.mu.RLock()
	v, ok := s.entries[id]
	s.mu.RUnlock()
	return v, ok
}

// Contains reports whether an id is present.
func (t *Table[V]) Contains(id uint64) bool {
	s := t.getShard(id)
	s.mu.RLock()
	_, ok := s.entries[id]
	s.mu.RUnlock()
	return ok
}

// Put stores an object under id, replacing any existing entry.
func (t *Table[V]) Put(id uint64, v V) {
	s := t.getShard(id)
	s.mu.Lock()
	s.entries[id] = v
	s.mu.Unlock()
}

// PutIfAbsent stores an object under id only if the id is unused.
// Returns true if the object was stored.
func (t *Table[V]) PutIfAbsent(id uint64, v V) bool {
	s := t.getShard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = v
	return true
}

// Delete removes an entry.
// Returns true if the entry was found and removed.
func (t *Table[V]) Delete(id uint64) bool {
	s := t.getShard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Len returns the total number of entries across all shards.
func (t *Table[V]) Len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry until fn returns false. The shard lock is
// held during each call, so fn must not call back into the table.
func (t *Table[V]) Range(fn func(id uint64, v V) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		for id, v := range s.entries {
			if !fn(id, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Clear removes all entries.
func (t *Table[V]) Clear() {
	for _, s := range t.shards {
		s.mu.Lock()
		s.entries = make(map[uint64]V)
		s.mu.Unlock()
	}
}

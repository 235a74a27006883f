// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package freelru is a wrapper around go-freelru.SyncedLRU with additional statistics embedded
// and can be used as a drop in replacement.
package freelru // import "go.opentelemetry.io/rejit/libpf/freelru"

import (
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
)

// SyncedLRU is a wrapper around go-freelru.SyncedLRU with additional statistics embedded.
type SyncedLRU[K comparable, V any] struct {
	lru *lru.SyncedLRU[K, V]

	// Internal statistics
	hit     atomic.Uint64
	miss    atomic.Uint64
	added   atomic.Uint64
	deleted atomic.Uint64
}

type Statistics struct {
	// Number of times for a hit of a cache entry.
	Hit uint64
	// Number of times for a miss of a cache entry.
	Miss uint64
	// Number of elements that were added to the cache.
	Added uint64
	// Number of elements that were deleted from the cache.
	Deleted uint64
}

func NewSynced[K comparable, V any](capacity uint32,
	hash lru.HashKeyCallback[K]) (*SyncedLRU[K, V], error) {
	cache, err := lru.NewSynced[K, V](capacity, hash)
	if err != nil {
		return nil, err
	}
	return &SyncedLRU[K, V]{
		lru: cache,
	}, nil
}

func (c *SyncedLRU[K, V]) Add(key K, value V) (evicted bool) {
	evicted = c.lru.Add(key, value)
	if evicted {
		c.deleted.Add(1)
	}
	c.added.Add(1)
	return evicted
}

func (c *SyncedLRU[K, V]) Get(key K) (value V, ok bool) {
	value, ok = c.lru.Get(key)
	if ok {
		c.hit.Add(1)
	} else {
		c.miss.Add(1)
	}
	return value, ok
}

func (c *SyncedLRU[K, V]) Len() int {
	return c.lru.Len()
}

func (c *SyncedLRU[K, V]) Remove(key K) (present bool) {
	present = c.lru.Remove(key)
	if present {
		c.deleted.Add(1)
	}
	return present
}

// GetAndResetStatistics returns the internal statistics for this LRU and resets all values to 0.
func (c *SyncedLRU[K, V]) GetAndResetStatistics() Statistics {
	return Statistics{
		Hit:     c.hit.Swap(0),
		Miss:    c.miss.Swap(0),
		Added:   c.added.Swap(0),
		Deleted: c.deleted.Swap(0),
	}
}

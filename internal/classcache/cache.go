// Package classcache provides the process-scoped, size-bounded compiled
// class cache named in spec.md §3/§5/§9: a resource with explicit init and
// teardown, injected into the batcher at construction rather than reached
// for as a package-level global.
package classcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// Cache is a bounded, concurrency-safe LRU of compiled classes keyed by
// class hash. Backed by github.com/hashicorp/golang-lru/v2 rather than a
// hand-rolled map+list, per SPEC_FULL.md's "never fall back to the standard
// library where the ecosystem shows a way".
type Cache struct {
	inner *lru.Cache[core.ClassHash, *core.CompiledClass]
}

// New builds a cache bounded to capacity entries. Capacity must be positive.
func New(capacity int) (*Cache, error) {
	inner, err := lru.New[core.ClassHash, *core.CompiledClass](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached class for hash, if present.
func (c *Cache) Get(hash core.ClassHash) (*core.CompiledClass, bool) {
	return c.inner.Get(hash)
}

// Put inserts or refreshes class in the cache, evicting the least recently
// used entry if the cache is at capacity.
func (c *Cache) Put(class *core.CompiledClass) {
	c.inner.Add(class.ClassHash, class)
}

// Len reports the number of cached classes.
func (c *Cache) Len() int { return c.inner.Len() }

// Purge evicts every entry, used on teardown.
func (c *Cache) Purge() { c.inner.Purge() }

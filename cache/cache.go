// Package cache holds compiled shader artifacts in memory, keyed by the
// content fingerprint of (source, options). The file watcher delivers
// change notifications at least once, so the same content is frequently
// "recompiled"; this cache turns those duplicates into lookups.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/gogpu/shaderwatch/compiler"
)

// shardCount spreads lock contention across independent shards.
// Power of 2 so shard selection is a bitwise AND.
const shardCount = 16

// DefaultCapacity is the per-shard entry limit used when NewArtifacts is
// given a non-positive capacity.
const DefaultCapacity = 64

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// Artifacts is a sharded LRU cache of compiled shader artifacts.
//
// Keys are compiler.Digest fingerprints, so two shader files with
// identical source and options share one entry. Values are published
// *compiler.Artifact pointers and must not be mutated by callers.
//
// Artifacts is safe for concurrent use; counters are atomic so Stats can
// be read from any goroutine without blocking compilation.
type Artifacts struct {
	shards   [shardCount]*artifactShard
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// artifactShard is one independently locked slice of the cache.
type artifactShard struct {
	mu      sync.Mutex
	entries map[compiler.Digest]*list.Element
	order   *list.List // front = most recently used
}

// lruEntry is the element payload in a shard's order list.
type lruEntry struct {
	key   compiler.Digest
	value *compiler.Artifact
}

// NewArtifacts creates a cache holding up to perShard entries in each of
// its 16 shards. If perShard <= 0, DefaultCapacity is used.
func NewArtifacts(perShard int) *Artifacts {
	if perShard <= 0 {
		perShard = DefaultCapacity
	}
	c := &Artifacts{capacity: perShard}
	for i := range c.shards {
		c.shards[i] = &artifactShard{
			entries: make(map[compiler.Digest]*list.Element),
			order:   list.New(),
		}
	}
	return c
}

// shard selects the shard for a digest. The digest is already uniformly
// distributed, so its first byte is enough.
func (c *Artifacts) shard(key compiler.Digest) *artifactShard {
	return c.shards[key[0]&(shardCount-1)]
}

// Get returns the cached artifact for key, marking it most recently used.
func (c *Artifacts) Get(key compiler.Digest) (*compiler.Artifact, bool) {
	s := c.shard(key)
	s.mu.Lock()
	elem, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	s.order.MoveToFront(elem)
	value := elem.Value.(*lruEntry).value
	s.mu.Unlock()
	c.hits.Add(1)
	return value, true
}

// Put stores an artifact under key, evicting the least recently used
// entries of the shard once it is over capacity. Storing an existing key
// replaces its value.
func (c *Artifacts) Put(key compiler.Digest, value *compiler.Artifact) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*lruEntry).value = value
		s.order.MoveToFront(elem)
		return
	}

	for s.order.Len() >= c.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*lruEntry).key)
		c.evictions.Add(1)
	}

	s.entries[key] = s.order.PushFront(&lruEntry{key: key, value: value})
}

// Len returns the total number of cached entries across all shards.
func (c *Artifacts) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Clear removes every entry. Counters are not reset.
func (c *Artifacts) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[compiler.Digest]*list.Element)
		s.order.Init()
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Artifacts) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

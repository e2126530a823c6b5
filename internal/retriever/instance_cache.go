package retriever

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/recall-mcp/internal/config"
	"github.com/dshills/recall-mcp/internal/log"
)

// Factory builds a retriever for a data source
type Factory func(dataSourceID string, cfg config.RetrievalConfig) (*HybridRetriever, error)

// InstanceStats reports instance cache activity
type InstanceStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
	Size      int
}

type instanceKey struct {
	dataSourceID string
	fingerprint  string
}

type instanceEntry struct {
	retriever  *HybridRetriever
	insertedAt time.Time
}

// InstanceCache reuses retrievers per (data source, config fingerprint).
//
// Entries expire ttl after insertion. Above capacity the oldest inserted entry
// is evicted, even if it was just returned: hits never refresh an entry's
// position.
type InstanceCache struct {
	mu       sync.Mutex
	items    *lru.Cache[instanceKey, *instanceEntry]
	capacity int
	ttl      time.Duration
	factory  Factory
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// NewInstanceCache creates a cache of at most capacity retrievers.
// A zero ttl disables expiry.
func NewInstanceCache(capacity int, ttl time.Duration, factory Factory) (*InstanceCache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("instance cache capacity must be >= 1, got %d", capacity)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("instance cache ttl must be >= 0, got %s", ttl)
	}
	if factory == nil {
		return nil, fmt.Errorf("instance cache factory is required")
	}

	items, err := lru.New[instanceKey, *instanceEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &InstanceCache{
		items:    items,
		capacity: capacity,
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
	}, nil
}

// GetOrCreate returns the cached retriever for dataSourceID and cfg, building
// one with the factory on a miss. The factory runs without the lock held.
func (c *InstanceCache) GetOrCreate(dataSourceID string, cfg config.RetrievalConfig) (*HybridRetriever, error) {
	key := instanceKey{dataSourceID: dataSourceID, fingerprint: cfg.Fingerprint()}

	c.mu.Lock()
	if r, ok := c.lookupLocked(key); ok {
		c.hits++
		c.mu.Unlock()
		return r, nil
	}
	c.misses++
	c.mu.Unlock()

	r, err := c.factory(dataSourceID, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have built the same retriever meanwhile
	if existing, ok := c.lookupLocked(key); ok {
		return existing, nil
	}

	// Peek never reorders, so the LRU's oldest entry is the oldest inserted
	if evicted := c.items.Add(key, &instanceEntry{retriever: r, insertedAt: c.now()}); evicted {
		c.evictions++
		log.Debugf("retriever cache full, evicted oldest entry")
	}
	return r, nil
}

// lookupLocked returns a live entry, dropping it if expired
func (c *InstanceCache) lookupLocked(key instanceKey) (*HybridRetriever, bool) {
	e, ok := c.items.Peek(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl {
		c.items.Remove(key)
		return nil, false
	}
	return e.retriever, true
}

// Stats returns cumulative counters and the current size
func (c *InstanceCache) Stats() InstanceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := InstanceStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.items.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Clear drops every cached retriever and resets the counters
func (c *InstanceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Purge()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Range calls fn for every cached retriever, oldest inserted first.
// fn runs without the lock held.
func (c *InstanceCache) Range(fn func(dataSourceID string, r *HybridRetriever)) {
	type pair struct {
		id string
		r  *HybridRetriever
	}

	c.mu.Lock()
	var pairs []pair
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok {
			pairs = append(pairs, pair{id: k.dataSourceID, r: e.retriever})
		}
	}
	c.mu.Unlock()

	for _, p := range pairs {
		fn(p.id, p.r)
	}
}

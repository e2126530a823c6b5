// Package embedcache caches query embedding vectors.
//
// Entries are keyed by a hash of the normalized query text, evicted in LRU
// order at capacity and expired lazily on read. A process-wide instance is
// available through Shared so that independent retrievers reuse vectors for
// identical queries.
package embedcache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/recall-mcp/internal/log"
)

// Key is the cache key of a normalized query
type Key [32]byte

// Stats are cumulative cache counters
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	vector     []float32
	insertedAt time.Time
}

// Cache is a bounded LRU of query embeddings with TTL expiry.
// It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	items *lru.Cache[Key, *entry]
	size  int
	ttl   time.Duration
	now   func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache holding at most size vectors for ttl each.
// A zero ttl disables expiry.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size < 1 {
		return nil, fmt.Errorf("embedding cache size must be >= 1, got %d", size)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("embedding cache ttl must be >= 0, got %s", ttl)
	}

	items, err := lru.New[Key, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Cache{
		items: items,
		size:  size,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// NormalizeQuery lowercases query and collapses runs of whitespace
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// KeyFor returns the cache key for query
func KeyFor(query string) Key {
	return sha256.Sum256([]byte(NormalizeQuery(query)))
}

// Get returns a copy of the cached vector for query.
// Expired entries are removed and reported as misses.
func (c *Cache) Get(query string) ([]float32, bool) {
	key := KeyFor(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl {
		c.items.Remove(key)
		c.misses++
		return nil, false
	}

	c.hits++
	return cloneVector(e.vector), true
}

// Set stores vector for query, replacing any previous entry
func (c *Cache) Set(query string, vector []float32) {
	key := KeyFor(query)
	e := &entry{vector: cloneVector(vector), insertedAt: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Add on an existing key replaces in place and never evicts
	if evicted := c.items.Add(key, e); evicted {
		c.evictions++
	}
}

// Clear drops every entry; counters are kept
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}

// Size returns the number of entries, expired ones included until read
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Capacity returns the maximum number of entries
func (c *Cache) Capacity() int {
	return c.size
}

// TTL returns the entry lifetime
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.items.Len(),
		Capacity:  c.size,
	}
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var (
	sharedMu    sync.Mutex
	sharedCache *Cache
)

// Shared returns the process-wide cache, creating it on first call.
// The first caller's size and ttl are permanent; later calls asking for
// different settings get the existing cache and a log line.
func Shared(size int, ttl time.Duration) (*Cache, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedCache != nil {
		if sharedCache.size != size || sharedCache.ttl != ttl {
			log.Infof("query embedding cache already created with size=%d ttl=%s; ignoring size=%d ttl=%s",
				sharedCache.size, sharedCache.ttl, size, ttl)
		}
		return sharedCache, nil
	}

	c, err := New(size, ttl)
	if err != nil {
		return nil, err
	}
	sharedCache = c
	return c, nil
}

// resetShared drops the process-wide cache so tests start clean
func resetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedCache = nil
}

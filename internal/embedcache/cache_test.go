package embedcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, size int, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	c, err := New(size, ttl)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	return c, clock
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(0, time.Minute)
	assert.Error(t, err)
	_, err = New(1, -time.Second)
	assert.Error(t, err)
}

func TestSetThenGet(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)

	c.Set("find auth handler", []float32{0.1, 0.2})
	v, ok := c.Get("find auth handler")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestNormalizedDuplicatesShareSlot(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)

	c.Set("Find  Auth\tHandler", []float32{1})
	v, ok := c.Get("  find auth   handler ")
	require.True(t, ok)
	assert.Equal(t, []float32{1}, v)
	assert.Equal(t, 1, c.Size())

	assert.Equal(t, "find auth handler", NormalizeQuery(" FIND\n auth  handler"))
	assert.Equal(t, KeyFor("a  b"), KeyFor("A B"))
	assert.NotEqual(t, KeyFor("a b"), KeyFor("ab"))
}

func TestMissCounts(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)

	_, ok := c.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c, clock := newTestCache(t, 4, 30*time.Second)

	c.Set("q", []float32{1})
	clock.Advance(29 * time.Second)
	_, ok := c.Get("q")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("q")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c, clock := newTestCache(t, 4, 0)

	c.Set("q", []float32{1})
	clock.Advance(1000 * time.Hour)
	_, ok := c.Get("q")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(t, 2, time.Minute)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)

	c.Set("c", []float32{3})

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestReplaceDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, 2, time.Minute)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("a", []float32{9}) // replaces and marks a most recent
	c.Set("c", []float32{3}) // evicts b

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{9}, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestReturnedVectorIsCopy(t *testing.T) {
	c, _ := newTestCache(t, 2, time.Minute)

	src := []float32{1, 2}
	c.Set("q", src)
	src[0] = 99

	v, _ := c.Get("q")
	v[1] = 42

	again, _ := c.Get("q")
	assert.Equal(t, []float32{1, 2}, again)
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})

	c.Clear()
	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 8, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q := fmt.Sprintf("q%d", (i+j)%12)
				if _, ok := c.Get(q); !ok {
					c.Set(q, []float32{float32(j)})
				}
			}
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(1600), stats.Hits+stats.Misses)
	assert.LessOrEqual(t, stats.Size, 8)
}

func TestSharedFirstCallerWins(t *testing.T) {
	resetShared()
	defer resetShared()

	first, err := Shared(10, time.Minute)
	require.NoError(t, err)

	second, err := Shared(50, time.Hour)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 10, second.Capacity())
	assert.Equal(t, time.Minute, second.TTL())

	_, err = Shared(0, 0)
	assert.NoError(t, err, "conflicting settings are ignored once created")
}

func TestSharedInvalidFirstCall(t *testing.T) {
	resetShared()
	defer resetShared()

	_, err := Shared(0, time.Minute)
	assert.Error(t, err)

	c, err := Shared(3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Capacity())
}

func TestStatsHitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.Equal(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate())
}

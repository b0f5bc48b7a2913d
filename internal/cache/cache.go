// Package cache holds fetched collection data with a per-entry TTL and an
// LRU bound on the number of entries.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxEntries = 100
	DefaultTTL        = 5 * time.Minute
)

// Entry is one cached value.
type Entry struct {
	Data           any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	TTL            time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Stats counts cache traffic since creation or the last Clear.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Options configures a CollectionDataCache. Zero values take the defaults.
type Options struct {
	MaxEntries int
	DefaultTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CollectionDataCache is safe for concurrent use.
type CollectionDataCache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *Entry]
	defaultTTL time.Duration
	now        func() time.Time
	stats      Stats
	group      singleflight.Group
}

// New creates a cache.
func New(opts Options) *CollectionDataCache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l, _ := simplelru.NewLRU[string, *Entry](opts.MaxEntries, nil)
	return &CollectionDataCache{lru: l, defaultTTL: opts.DefaultTTL, now: opts.Now}
}

// Set stores data under key. ttl <= 0 uses the default TTL. When the cache
// is full the least recently accessed entry is evicted.
func (c *CollectionDataCache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Add(key, &Entry{Data: data, CreatedAt: now, LastAccessedAt: now, TTL: ttl}) {
		c.stats.Evictions++
	}
}

// Get returns the data for key. Expired entries are removed and reported as
// a miss.
func (c *CollectionDataCache) Get(key string) (any, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.expired(now) {
		c.lru.Remove(key)
		c.stats.Misses++
		c.stats.Evictions++
		return nil, false
	}
	e.LastAccessedAt = now
	c.stats.Hits++
	return e.Data, true
}

// Peek returns the entry without touching recency or stats.
func (c *CollectionDataCache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *CollectionDataCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear drops every entry and resets the stats.
func (c *CollectionDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.stats = Stats{}
}

func (c *CollectionDataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CollectionDataCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// GetOrLoad returns the cached value or calls load once per key across
// concurrent callers and caches its result. cached reports a hit.
func (c *CollectionDataCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) (data any, cached bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.peekFresh(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// peekFresh covers a load that completed between Get and Do.
func (c *CollectionDataCache) peekFresh(key string) (any, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok || e.expired(now) {
		return nil, false
	}
	return e.Data, true
}

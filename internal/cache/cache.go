// Package cache holds provider responses for identical requests across runs.
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Stats reports cache effectiveness.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Cache is a size-bounded LRU whose entries expire after a fixed TTL. It is
// safe for concurrent use.
type Cache[V any] struct {
	lru        *expirable.LRU[string, V]
	group      singleflight.Group
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64

	// OnLookup, when set, observes every Get.
	OnLookup func(hit bool)
}

// New creates a cache holding at most maxEntries for ttl each.
func New[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[V]{
		lru:        expirable.NewLRU[string, V](maxEntries, nil, ttl),
		maxEntries: maxEntries,
	}
}

// Key joins request parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.OnLookup != nil {
		c.OnLookup(ok)
	}
	return v, ok
}

// Put stores v under key, evicting the least recently used entry when full.
func (c *Cache[V]) Put(key string, v V) {
	c.lru.Add(key, v)
}

// GetOrLoad returns the cached value or calls load once for concurrent
// callers of the same key. Errors are not cached. The shared load runs
// detached from any one caller's cancellation; a caller whose ctx ends stops
// waiting with ctx.Err() while the load continues for the others.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lru.Peek(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.Put(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *Cache[V]) Purge() { c.lru.Purge() }

// Stats returns a point-in-time snapshot of cache counters.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    c.lru.Len(),
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}

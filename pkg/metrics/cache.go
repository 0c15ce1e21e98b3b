package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CachedQuerier wraps a Querier with an in-memory TTL cache keyed by the
// full request. Cached results are shared; callers must treat them as
// read-only. A non-positive TTL makes the wrapper a passthrough.
type CachedQuerier struct {
	next Querier
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// NewCachedQuerier creates the caching wrapper.
func NewCachedQuerier(next Querier, ttl time.Duration) *CachedQuerier {
	return &CachedQuerier{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Query serves from cache when a fresh entry exists, otherwise delegates
// and stores the result. Errors are never cached.
func (c *CachedQuerier) Query(ctx context.Context, req Request) (Result, error) {
	if c.ttl <= 0 {
		return c.next.Query(ctx, req)
	}

	key := cacheKey(req)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		c.hits.Add(1)
		return entry.result, nil
	}
	c.misses.Add(1)

	result, err := c.next.Query(ctx, req)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, expires: now.Add(c.ttl)}
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	return result, nil
}

// Stats reports cumulative cache hits and misses.
func (c *CachedQuerier) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func cacheKey(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d|%d|%d",
		req.Source, req.Filter,
		req.Timerange.From.UnixMilli(), req.Timerange.To.UnixMilli(),
		req.Timerange.Interval, req.Limit)
	for _, g := range req.GroupBy {
		b.WriteString("|")
		b.WriteString(string(g))
	}
	for _, m := range req.Metrics {
		fmt.Fprintf(&b, "|%s:%s", m.Field, m.Aggregation)
	}
	return b.String()
}

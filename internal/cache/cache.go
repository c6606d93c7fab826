// Package cache is the process-wide query cache shared by dashboard views.
// Entries are keyed by query key ("vehicles", "drivers/<id>"), served fresh
// until their stale time, and dropped after their cache time.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Options controls the lifetime of one key's entry.
type Options struct {
	// StaleTime is how long a fetched value is served without refetching.
	// Zero means always refetch.
	StaleTime time.Duration
	// CacheTime is how long an entry is kept at all.
	CacheTime time.Duration
}

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
	cacheTime time.Duration
}

// Cache stores fetched values and collapses concurrent fetches of one key.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	epoch   uint64
	group   singleflight.Group
	now     func() time.Time
	logger  log.FieldLogger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for invalidation and sweep messages.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  log.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the cached value for key while it is fresh, otherwise calls
// fn once for all concurrent callers and stores the result. Errors are not
// cached. If the key is invalidated while fn runs, the stored result is
// already stale. Canceling ctx releases this caller only; the fetch keeps
// running for the others.
func Fetch[T any](ctx context.Context, c *Cache, key string, opts Options, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.fresh(key, opts); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	// the shared fetch outlives any single caller; each caller still stops
	// waiting when its own ctx is done
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		epoch := c.currentEpoch()
		v, err := fn(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.store(key, v, opts, epoch)
		return v, nil
	})
	var res any
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		res = r.Val
	}
	typed, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: key %q holds %T", key, res)
	}
	return typed, nil
}

// Peek returns whatever is stored for key, fresh or not.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores v under key as freshly fetched.
func (c *Cache) Set(key string, v any, opts Options) {
	c.store(key, v, opts, c.currentEpoch())
}

// Update applies fn to the stored value of key, if any, without changing its
// freshness. It is used for optimistic edits.
func (c *Cache) Update(key string, fn func(any) any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.value = fn(e.value)
	return true
}

// Invalidate marks every entry whose key equals one of prefixes, or starts
// with prefix+"/", as stale. The next Fetch refetches.
func (c *Cache) Invalidate(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	var marked int
	for key, e := range c.entries {
		if matches(key, prefixes) {
			e.stale = true
			marked++
		}
	}
	c.logger.WithFields(log.Fields{
		"keys":    prefixes,
		"entries": marked,
	}).Debug("Cache invalidated")
}

// Sweep removes entries older than their cache time and returns how many
// were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var dropped int
	for key, e := range c.entries {
		if e.cacheTime > 0 && now.Sub(e.fetchedAt) >= e.cacheTime {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.WithField("dropped", dropped).Debug("Cache swept")
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fresh(key string, opts Options) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.stale {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= opts.StaleTime {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Cache) store(key string, v any, opts Options, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		value:     v,
		fetchedAt: c.now(),
		stale:     epoch != c.epoch,
		cacheTime: opts.CacheTime,
	}
}

func matches(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if key == p || strings.HasPrefix(key, p+"/") {
			return true
		}
	}
	return false
}

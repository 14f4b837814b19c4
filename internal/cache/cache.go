// Package cache provides the process-wide search result cache: a bounded LRU
// keyed by normalized query, with lazy TTL expiry, duplicate-miss
// suppression, and an optional shared second level.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache defaults.
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

// SecondLevel is a shared backing cache, such as Redis. Its errors are logged
// and treated as misses.
type SecondLevel[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// Config configures a ResultCache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// Now is the clock used for entry creation times. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type entry[V any] struct {
	value   V
	created time.Time
}

// ResultCache is safe for concurrent use.
type ResultCache[V any] struct {
	mu      sync.Mutex
	entries *lru.Cache[string, entry[V]]
	// gen changes on Purge so that in-flight misses do not repopulate a
	// purged cache.
	gen uint64

	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	l2     SecondLevel[V]
	// cacheable rejects values that must not be stored. Nil stores all.
	cacheable func(V) bool
	logger    *slog.Logger
}

// Option configures a ResultCache.
type Option[V any] func(*ResultCache[V])

// WithSecondLevel adds a shared backing cache.
func WithSecondLevel[V any](l2 SecondLevel[V]) Option[V] {
	return func(c *ResultCache[V]) {
		c.l2 = l2
	}
}

// WithCacheable skips storing values for which keep returns false. They are
// still returned to the caller.
func WithCacheable[V any](keep func(V) bool) Option[V] {
	return func(c *ResultCache[V]) {
		c.cacheable = keep
	}
}

// New creates a cache.
func New[V any](cfg Config, opts ...Option[V]) *ResultCache[V] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	entries, _ := lru.New[string, entry[V]](cfg.MaxEntries)
	c := &ResultCache[V]{
		entries: entries,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a live entry. An expired entry is removed and reported absent.
func (c *ResultCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *ResultCache[V]) getLocked(key string) (V, bool) {
	var zero V
	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.created) >= c.ttl {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *ResultCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry[V]{value: value, created: c.now()})
}

func (c *ResultCache[V]) setIfGen(key string, value V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.entries.Add(key, entry[V]{value: value, created: c.now()})
	return true
}

// Purge removes every entry, including the second level's.
func (c *ResultCache[V]) Purge(ctx context.Context) {
	c.mu.Lock()
	c.entries.Purge()
	c.gen++
	c.mu.Unlock()

	if c.l2 != nil {
		if err := c.l2.Purge(ctx); err != nil {
			c.logger.Warn("cache_l2_purge_failed", slog.String("error", err.Error()))
		}
	}
}

// Len returns the number of stored entries, live or not yet evicted.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Do returns the cached value for key or computes it with fn. Concurrent
// misses for the same key run fn once. hit reports whether the value came
// from either cache level. A caller whose ctx ends stops waiting and gets
// ctx.Err(); the computation continues for the other callers.
func (c *ResultCache[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (value V, hit bool, err error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, true, nil
	}
	gen := c.gen
	c.mu.Unlock()

	if c.l2 != nil {
		v, ok, err := c.l2.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache_l2_get_failed", slog.String("error", err.Error()))
		} else if ok {
			c.setIfGen(key, v, gen)
			return v, true, nil
		}
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fn(shared)
		if err != nil {
			return v, err
		}
		if c.cacheable != nil && !c.cacheable(v) {
			return v, nil
		}
		if c.setIfGen(key, v, gen) && c.l2 != nil {
			if err := c.l2.Set(shared, key, v, c.ttl); err != nil {
				c.logger.Warn("cache_l2_set_failed", slog.String("error", err.Error()))
			}
		}
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		v, _ := res.Val.(V)
		return v, false, nil
	}
}

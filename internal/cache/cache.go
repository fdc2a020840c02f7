// Package cache stores successful read responses keyed by request.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage"
	"github.com/vietddude/flatshare/internal/metrics"
)

// Cache is an in-memory request cache written through to a repository.
// Expiry is checked lazily on read; nothing is evicted in the background.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*domain.CacheEntry
	loaded  map[string]struct{} // keys already looked up in the repository

	repo       storage.CacheRepository
	defaultTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithRepository makes the cache durable.
func WithRepository(repo storage.CacheRepository) Option {
	return func(c *Cache) { c.repo = repo }
}

// WithDefaultTTL sets the TTL used when Put is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*domain.CacheEntry),
		loaded:     make(map[string]struct{}),
		defaultTTL: 5 * time.Minute,
		now:        time.Now,
		log:        slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a fresh entry for key.
func (c *Cache) Get(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	e := c.lookup(ctx, key)
	if e == nil || !e.Fresh(c.now()) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("fresh").Inc()
	return e, true
}

// GetStale returns the entry for key regardless of age, for offline fallback.
func (c *Cache) GetStale(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	e := c.lookup(ctx, key)
	if e == nil {
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("stale").Inc()
	return e, true
}

// IsFresh reports whether key holds an unexpired entry.
func (c *Cache) IsFresh(ctx context.Context, key string) bool {
	e := c.lookup(ctx, key)
	return e != nil && e.Fresh(c.now())
}

// Put stores value under key, overwriting any previous entry.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := &domain.CacheEntry{
		Key:      key,
		Value:    append([]byte(nil), value...),
		StoredAt: c.now(),
		TTL:      ttl,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.loaded[key] = struct{}{}
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.Put(ctx, entry); err != nil {
			c.log.Warn("Failed to persist cache entry", "key", key, "error", err)
		}
	}
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.loaded[key] = struct{}{}
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.Delete(ctx, key); err != nil {
			c.log.Warn("Failed to delete cache entry", "key", key, "error", err)
		}
	}
}

// InvalidatePrefix removes every key starting with prefix that is held in memory.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	c.mu.RLock()
	var keys []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range keys {
		c.Invalidate(ctx, k)
	}
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(ctx context.Context, key string) *domain.CacheEntry {
	c.mu.RLock()
	e, ok := c.entries[key]
	_, seen := c.loaded[key]
	c.mu.RUnlock()
	if ok {
		return e
	}
	if seen || c.repo == nil {
		return nil
	}

	stored, err := c.repo.Get(ctx, key)
	if err != nil {
		c.log.Warn("Failed to load cache entry", "key", key, "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Put wins over the repository copy.
	if cur, ok := c.entries[key]; ok {
		return cur
	}
	c.loaded[key] = struct{}{}
	if stored != nil {
		c.entries[key] = stored
	}
	return stored
}

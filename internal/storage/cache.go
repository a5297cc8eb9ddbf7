package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Default cache lifetimes
const (
	DefaultCacheTTL        = 24 * time.Hour
	DefaultMinimumCacheTTL = 6 * time.Hour
)

// Cache stores scrape results in the scrape_cache table. Minimum-quality
// results live shorter so a real scrape is attempted sooner.
type Cache struct {
	store      *Storage
	ttl        time.Duration
	minimumTTL time.Duration
	now        func() time.Time
}

// NewCache creates a cache over an open Storage
func NewCache(store *Storage, ttl, minimumTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if minimumTTL <= 0 {
		minimumTTL = DefaultMinimumCacheTTL
	}
	return &Cache{store: store, ttl: ttl, minimumTTL: minimumTTL, now: time.Now}
}

// Get returns the live cached result for url, or nil on a miss
func (c *Cache) Get(ctx context.Context, url string) (*scrape.Result, error) {
	entry, err := c.store.GetCacheEntry(ctx, url, c.now())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	var r scrape.Result
	if err := json.Unmarshal(entry.Data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode cached result for %s: %w", url, err)
	}
	r.IsMinimumCache = entry.IsMinimum
	return &r, nil
}

// Put stores r under url, replacing any previous entry
func (c *Cache) Put(ctx context.Context, url string, r *scrape.Result) error {
	if r == nil {
		return fmt.Errorf("refusing to cache nil result for %s", url)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result for %s: %w", url, err)
	}

	now := c.now()
	ttl := c.ttl
	if r.IsMinimumCache {
		ttl = c.minimumTTL
	}

	return c.store.PutCacheEntry(ctx, &CacheEntry{
		URL:       url,
		Data:      data,
		IsMinimum: r.IsMinimumCache,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

// Invalidate drops the entry for url
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	return c.store.DeleteCacheEntry(ctx, url)
}

// Purge deletes expired entries
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	return c.store.PurgeExpiredCache(ctx, c.now())
}

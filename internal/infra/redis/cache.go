package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/flatshare/internal/core/domain"
)

// CacheRepo implements storage.CacheRepository using Redis.
type CacheRepo struct {
	client    *Client
	rdb       *redis.Client
	retention time.Duration
}

// NewCacheRepo creates a Redis-backed cache repository. Entries are kept for
// their TTL plus retention so they can still serve as offline fallbacks;
// retention <= 0 keeps them until overwritten or invalidated.
func NewCacheRepo(client *Client, retention time.Duration) *CacheRepo {
	return &CacheRepo{client: client, rdb: client.rdb, retention: retention}
}

func (r *CacheRepo) entryKey(key string) string {
	return r.client.key("cache", key)
}

// Get returns the stored entry or nil.
func (r *CacheRepo) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	data, err := r.rdb.Get(ctx, r.entryKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Put stores entry, overwriting any previous value.
func (r *CacheRepo) Put(ctx context.Context, entry *domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	var expiration time.Duration
	if r.retention > 0 && entry.TTL > 0 {
		expiration = entry.TTL + r.retention
	}
	if err := r.rdb.Set(ctx, r.entryKey(entry.Key), data, expiration).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.entryKey(key)).Err()
}

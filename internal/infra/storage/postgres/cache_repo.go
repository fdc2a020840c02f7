package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
)

// CacheRepo implements storage.CacheRepository using PostgreSQL.
type CacheRepo struct {
	db *DB
}

// NewCacheRepo creates a new PostgreSQL cache repository.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

type cacheRow struct {
	Key      string    `db:"key"`
	Value    []byte    `db:"value"`
	StoredAt time.Time `db:"stored_at"`
	TTLMs    int64     `db:"ttl_ms"`
}

// Get returns the stored entry or nil.
func (r *CacheRepo) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var row cacheRow
	err := r.db.GetContext(ctx, &row,
		"SELECT key, value, stored_at, ttl_ms FROM request_cache WHERE key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &domain.CacheEntry{
		Key:      row.Key,
		Value:    row.Value,
		StoredAt: row.StoredAt,
		TTL:      time.Duration(row.TTLMs) * time.Millisecond,
	}, nil
}

// Put upserts an entry.
func (r *CacheRepo) Put(ctx context.Context, entry *domain.CacheEntry) error {
	query := `
		INSERT INTO request_cache (key, value, stored_at, ttl_ms)
		VALUES (:key, :value, :stored_at, :ttl_ms)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at, ttl_ms = EXCLUDED.ttl_ms
	`
	_, err := r.db.NamedExecContext(ctx, query, cacheRow{
		Key:      entry.Key,
		Value:    entry.Value,
		StoredAt: entry.StoredAt,
		TTLMs:    entry.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM request_cache WHERE key = $1", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes entries whose TTL ended before cutoff.
func (r *CacheRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM request_cache
		WHERE ttl_ms > 0 AND stored_at + ttl_ms * INTERVAL '1 millisecond' < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache entries: %w", err)
	}
	return int(n), nil
}

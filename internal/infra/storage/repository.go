package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
)

var (
	// ErrNotFound is returned when a queued request doesn't exist
	ErrNotFound = errors.New("not found")
)

// QueueRepository is the durable backing store of the offline queue.
type QueueRepository interface {
	// Append stores req at the tail of the queue and assigns req.Seq
	Append(ctx context.Context, req *domain.QueuedRequest) error

	// List returns all queued requests in FIFO order
	List(ctx context.Context) ([]*domain.QueuedRequest, error)

	// Remove deletes a queued request (successfully replayed)
	Remove(ctx context.Context, id string) error

	// IncrementAttempts records a failed replay attempt
	IncrementAttempts(ctx context.Context, id string, lastErr string) error

	// Count returns the number of queued requests without loading them
	Count(ctx context.Context) (int, error)
}

// CacheRepository is the durable backing store of the request cache.
type CacheRepository interface {
	// Get returns the entry for key, or nil if there is none
	Get(ctx context.Context, key string) (*domain.CacheEntry, error)

	// Put stores or overwrites an entry
	Put(ctx context.Context, entry *domain.CacheEntry) error

	// Delete removes an entry; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// CachePruner is implemented by cache stores without native expiry.
type CachePruner interface {
	// DeleteExpiredBefore removes entries whose TTL ended before cutoff and
	// returns how many were removed. Entries without TTL are kept.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

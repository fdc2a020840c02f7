// Package queue holds mutating requests that failed while offline until they
// can be replayed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage"
	"github.com/vietddude/flatshare/internal/metrics"
)

// ErrQueueDisabled is returned by Enqueue after the backing store has failed.
var ErrQueueDisabled = errors.New("offline queue disabled")

// Queue is a durable FIFO of QueuedRequests.
//
// Size is served from an atomic counter so status polling never touches the
// repository. Appends are serialized so concurrent callers keep call order.
type Queue struct {
	repo     storage.QueueRepository
	appendMu sync.Mutex
	size     atomic.Int64
	disabled atomic.Bool
	now      func() time.Time
	log      *slog.Logger
}

// New creates a Queue over repo, reading the persisted count once.
func New(ctx context.Context, repo storage.QueueRepository) (*Queue, error) {
	q := &Queue{
		repo: repo,
		now:  time.Now,
		log:  slog.Default().With("component", "queue"),
	}
	count, err := repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queued requests: %w", err)
	}
	q.setSize(int64(count))
	return q, nil
}

// Enqueue appends req. ID and EnqueuedAt are filled in when empty.
func (q *Queue) Enqueue(ctx context.Context, req *domain.QueuedRequest) error {
	if q.disabled.Load() {
		return ErrQueueDisabled
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now()
	}

	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	if err := q.repo.Append(ctx, req); err != nil {
		q.disable(err)
		return fmt.Errorf("%w: %v", ErrQueueDisabled, err)
	}
	metrics.OfflineQueueSize.Set(float64(q.size.Add(1)))
	q.log.Info("Request queued for replay", "id", req.ID, "method", req.Method, "url", req.URL)
	return nil
}

// PeekAll returns every queued request in FIFO order without removing them.
// A listing that disagrees with the counter, for example after the store
// dropped orphaned entries, resyncs the counter.
func (q *Queue) PeekAll(ctx context.Context) ([]*domain.QueuedRequest, error) {
	reqs, err := q.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued requests: %w", err)
	}
	if int64(len(reqs)) != q.size.Load() {
		if err := q.Resync(ctx); err != nil {
			q.log.Warn("Failed to resync queue size", "error", err)
		}
	}
	return reqs, nil
}

// Dequeue removes a replayed request.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	err := q.repo.Remove(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to dequeue %s: %w", id, err)
	}
	metrics.OfflineQueueSize.Set(float64(q.size.Add(-1)))
	return nil
}

// MarkFailed records a failed replay attempt; the request keeps its position.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.repo.IncrementAttempts(ctx, id, msg); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to record attempt for %s: %w", id, err)
	}
	return nil
}

// Size returns the number of queued requests.
func (q *Queue) Size() int {
	return int(q.size.Load())
}

// Disabled reports whether queueing was turned off after a store failure.
func (q *Queue) Disabled() bool {
	return q.disabled.Load()
}

// Resync reloads the counter from the repository. A successful read also
// re-enables a queue that was disabled by a store failure.
func (q *Queue) Resync(ctx context.Context) error {
	q.appendMu.Lock()
	defer q.appendMu.Unlock()

	count, err := q.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count queued requests: %w", err)
	}
	q.setSize(int64(count))
	if q.disabled.CompareAndSwap(true, false) {
		q.log.Info("Offline queue store recovered, queueing enabled", "pending", count)
	}
	return nil
}

func (q *Queue) setSize(n int64) {
	q.size.Store(n)
	metrics.OfflineQueueSize.Set(float64(n))
}

func (q *Queue) disable(err error) {
	if q.disabled.CompareAndSwap(false, true) {
		q.log.Error("Offline queue store failed, queueing disabled", "error", err)
	}
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage"
)

// MemoryStorage keeps queue and cache state in process memory.
// It does not survive restarts and is used for tests and the memory driver.
type MemoryStorage struct {
	queue   map[string]*domain.QueuedRequest
	nextSeq int64
	entries map[string]*domain.CacheEntry
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		queue:   make(map[string]*domain.QueuedRequest),
		entries: make(map[string]*domain.CacheEntry),
	}
}

// -----------------------------------------------------------------------------
// Queue Repository
// -----------------------------------------------------------------------------

type QueueRepo struct {
	store *MemoryStorage
}

func NewQueueRepo(store *MemoryStorage) *QueueRepo {
	return &QueueRepo{store: store}
}

func (r *QueueRepo) Append(ctx context.Context, req *domain.QueuedRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextSeq++
	req.Seq = r.store.nextSeq
	cp := *req
	r.store.queue[req.ID] = &cp
	return nil
}

func (r *QueueRepo) List(ctx context.Context) ([]*domain.QueuedRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.QueuedRequest, 0, len(r.store.queue))
	for _, q := range r.store.queue {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *QueueRepo) Remove(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.queue[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.store.queue, id)
	return nil
}

func (r *QueueRepo) IncrementAttempts(ctx context.Context, id string, lastErr string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q, ok := r.store.queue[id]
	if !ok {
		return storage.ErrNotFound
	}
	q.Attempts++
	q.LastError = lastErr
	q.LastAttemptAt = time.Now()
	return nil
}

func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.queue), nil
}

// -----------------------------------------------------------------------------
// Cache Repository
// -----------------------------------------------------------------------------

type CacheRepo struct {
	store *MemoryStorage
}

func NewCacheRepo(store *MemoryStorage) *CacheRepo {
	return &CacheRepo{store: store}
}

func (r *CacheRepo) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *CacheRepo) Put(ctx context.Context, entry *domain.CacheEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *entry
	r.store.entries[entry.Key] = &cp
	return nil
}

func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.entries, key)
	return nil
}

func (r *CacheRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for k, e := range r.store.entries {
		if e.TTL > 0 && e.StoredAt.Add(e.TTL).Before(cutoff) {
			delete(r.store.entries, k)
			n++
		}
	}
	return n, nil
}

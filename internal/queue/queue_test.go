package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage/memory"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(context.Background(), memory.NewQueueRepo(memory.NewMemoryStorage()))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, url := range []string{"/r1", "/r2", "/r3"} {
		if err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: url}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Size() != 3 {
		t.Fatalf("size = %d, want 3", q.Size())
	}

	reqs, err := q.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	for i, want := range []string{"/r1", "/r2", "/r3"} {
		if reqs[i].URL != want {
			t.Errorf("position %d = %s, want %s", i, reqs[i].URL, want)
		}
		if reqs[i].ID == "" || reqs[i].EnqueuedAt.IsZero() {
			t.Errorf("id/enqueuedAt not assigned: %+v", reqs[i])
		}
	}

	if err := q.MarkFailed(ctx, reqs[0].ID, errors.New("offline")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := q.Dequeue(ctx, reqs[1].ID); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	// Dequeuing twice is harmless and keeps the counter accurate.
	if err := q.Dequeue(ctx, reqs[1].ID); err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if q.Size() != 2 {
		t.Errorf("size = %d, want 2", q.Size())
	}

	reqs, _ = q.PeekAll(ctx)
	if reqs[0].URL != "/r1" || reqs[0].Attempts != 1 || reqs[1].URL != "/r3" {
		t.Errorf("unexpected queue after replay: %+v %+v", reqs[0], reqs[1])
	}
}

func TestQueue_SizeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewQueueRepo(memory.NewMemoryStorage())

	q, _ := New(ctx, repo)
	_ = q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/a"})
	_ = q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/b"})

	restarted, err := New(ctx, repo)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if restarted.Size() != 2 {
		t.Errorf("size after restart = %d, want 2", restarted.Size())
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: fmt.Sprintf("/r%d", i)})
		}(i)
	}
	wg.Wait()

	if q.Size() != 100 {
		t.Fatalf("size = %d, want 100", q.Size())
	}
	reqs, _ := q.PeekAll(ctx)
	for i := 1; i < len(reqs); i++ {
		if reqs[i].Seq <= reqs[i-1].Seq {
			t.Fatalf("sequence not strictly increasing at %d", i)
		}
	}
}

type brokenRepo struct {
	*memory.QueueRepo
}

func (brokenRepo) Append(ctx context.Context, req *domain.QueuedRequest) error {
	return errors.New("disk full")
}

func TestQueue_StoreFailureDisablesQueue(t *testing.T) {
	ctx := context.Background()
	q, _ := New(ctx, brokenRepo{memory.NewQueueRepo(memory.NewMemoryStorage())})

	err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/x"})
	if !errors.Is(err, ErrQueueDisabled) {
		t.Fatalf("expected ErrQueueDisabled, got %v", err)
	}
	if !q.Disabled() {
		t.Error("queue should be disabled")
	}
	if err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/y"}); !errors.Is(err, ErrQueueDisabled) {
		t.Errorf("expected ErrQueueDisabled on later enqueue, got %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("size = %d, want 0", q.Size())
	}
}

func TestQueue_PeekAllResyncsLostEntries(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewQueueRepo(memory.NewMemoryStorage())
	q, _ := New(ctx, repo)
	for _, u := range []string{"/a", "/b", "/c"} {
		if err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: u}); err != nil {
			t.Fatal(err)
		}
	}

	// The store loses an entry behind the queue's back.
	reqs, _ := repo.List(ctx)
	if err := repo.Remove(ctx, reqs[1].ID); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 3 {
		t.Fatalf("size = %d, want 3 before listing", q.Size())
	}

	reqs, err := q.PeekAll(ctx)
	if err != nil || len(reqs) != 2 {
		t.Fatalf("PeekAll = %d, %v", len(reqs), err)
	}
	if q.Size() != 2 {
		t.Errorf("size = %d, want 2", q.Size())
	}
}

type flakyRepo struct {
	*memory.QueueRepo
	mu      sync.Mutex
	failing bool
}

func (r *flakyRepo) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func (r *flakyRepo) Append(ctx context.Context, req *domain.QueuedRequest) error {
	r.mu.Lock()
	failing := r.failing
	r.mu.Unlock()
	if failing {
		return errors.New("connection reset")
	}
	return r.QueueRepo.Append(ctx, req)
}

func TestQueue_ResyncReenablesAfterStoreRecovers(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{QueueRepo: memory.NewQueueRepo(memory.NewMemoryStorage()), failing: true}
	q, _ := New(ctx, repo)

	if err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/x"}); !errors.Is(err, ErrQueueDisabled) {
		t.Fatalf("expected ErrQueueDisabled, got %v", err)
	}
	repo.setFailing(false)

	if err := q.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	if q.Disabled() {
		t.Fatal("queue should be enabled after a successful resync")
	}
	if err := q.Enqueue(ctx, &domain.QueuedRequest{Method: "POST", URL: "/y"}); err != nil {
		t.Fatalf("enqueue after recovery: %v", err)
	}
	if q.Size() != 1 {
		t.Errorf("size = %d, want 1", q.Size())
	}
}

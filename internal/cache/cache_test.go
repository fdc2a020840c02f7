package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_FreshAndStale(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New(WithClock(clock.Now))

	c.Put(ctx, "meals", []byte("v1"), time.Minute)
	if e, ok := c.Get(ctx, "meals"); !ok || string(e.Value) != "v1" {
		t.Fatalf("expected fresh hit, got %v %v", e, ok)
	}
	if !c.IsFresh(ctx, "meals") {
		t.Error("expected fresh")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx, "meals"); ok {
		t.Error("expired entry must not be returned as fresh")
	}
	if c.IsFresh(ctx, "meals") {
		t.Error("expected stale")
	}
	if e, ok := c.GetStale(ctx, "meals"); !ok || string(e.Value) != "v1" {
		t.Errorf("expected stale fallback, got %v %v", e, ok)
	}
}

func TestCache_DefaultTTLAndOverwrite(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New(WithClock(clock.Now), WithDefaultTTL(10*time.Second))

	c.Put(ctx, "k", []byte("a"), 0)
	c.Put(ctx, "k", []byte("b"), 0)
	e, ok := c.Get(ctx, "k")
	if !ok || string(e.Value) != "b" || e.TTL != 10*time.Second {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := New()

	c.Put(ctx, "meals:house-1", []byte("x"), time.Minute)
	c.Put(ctx, "meals:house-2", []byte("y"), time.Minute)
	c.Put(ctx, "expenses:house-1", []byte("z"), time.Minute)

	c.Invalidate(ctx, "expenses:house-1")
	if _, ok := c.GetStale(ctx, "expenses:house-1"); ok {
		t.Error("invalidated key still present")
	}

	c.InvalidatePrefix(ctx, "meals:")
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestCache_LoadsFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCacheRepo(memory.NewMemoryStorage())

	first := New(WithRepository(repo))
	first.Put(ctx, "meals", []byte("persisted"), time.Hour)

	// A new instance over the same repository simulates a restart.
	second := New(WithRepository(repo))
	e, ok := second.Get(ctx, "meals")
	if !ok || string(e.Value) != "persisted" {
		t.Fatalf("expected entry loaded from repository, got %v %v", e, ok)
	}

	second.Invalidate(ctx, "meals")
	third := New(WithRepository(repo))
	if _, ok := third.GetStale(ctx, "meals"); ok {
		t.Error("invalidate must remove the persisted entry")
	}
}

type failingRepo struct{}

func (failingRepo) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	return nil, errors.New("store down")
}
func (failingRepo) Put(ctx context.Context, e *domain.CacheEntry) error { return errors.New("store down") }
func (failingRepo) Delete(ctx context.Context, key string) error        { return errors.New("store down") }

func TestCache_RepositoryFailureDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	c := New(WithRepository(failingRepo{}))

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("expected miss")
	}
	c.Put(ctx, "k", []byte("v"), time.Minute)
	if e, ok := c.Get(ctx, "k"); !ok || string(e.Value) != "v" {
		t.Errorf("memory copy should still serve reads, got %v %v", e, ok)
	}
}

func TestCache_ConcurrentPut(t *testing.T) {
	ctx := context.Background()
	c := New(WithRepository(memory.NewCacheRepo(memory.NewMemoryStorage())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			c.Put(ctx, key, []byte{byte(i)}, time.Minute)
			c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 26 {
		t.Errorf("expected 26 keys, got %d", c.Len())
	}
}

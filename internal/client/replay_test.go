package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/flatshare/internal/connectivity"
	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage/memory"
	"github.com/vietddude/flatshare/internal/queue"
)

func enqueue(t *testing.T, q *queue.Queue, method, url string) {
	t.Helper()
	if err := q.Enqueue(context.Background(), &domain.QueuedRequest{Method: method, URL: url}); err != nil {
		t.Fatalf("enqueue %s: %v", url, err)
	}
}

func TestRetryOfflineRequests_FIFO(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	q := newTestQueue(t, nil)
	for _, p := range []string{"/r1", "/r2", "/r3"} {
		enqueue(t, q, http.MethodPost, srv.URL+p)
	}
	mon := &fakeMonitor{}
	c := newTestClient(t, q, nil, WithMonitor(mon))

	n, err := c.RetryOfflineRequests(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 3 || q.Size() != 0 {
		t.Fatalf("replayed = %d, size = %d", n, q.Size())
	}
	if strings.Join(order, ",") != "/r1,/r2,/r3" {
		t.Errorf("order = %v", order)
	}
	if len(mon.sweeps) != 1 || mon.sweeps[0] != 3 {
		t.Errorf("sweep notifications = %v, want [3]", mon.sweeps)
	}
}

func TestRetryOfflineRequests_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
		}
		<-release
	}))
	defer srv.Close()

	q := newTestQueue(t, nil)
	enqueue(t, q, http.MethodPost, srv.URL+"/meals")
	c := newTestClient(t, q, nil)

	first := make(chan int, 1)
	go func() {
		n, _ := c.RetryOfflineRequests(context.Background())
		first <- n
	}()
	<-entered

	if !c.OfflineStatus().RetryInProgress {
		t.Error("RetryInProgress should be true during a sweep")
	}

	var wg sync.WaitGroup
	var extra atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := c.RetryOfflineRequests(context.Background())
			if err != nil {
				t.Errorf("overlapping sweep: %v", err)
			}
			extra.Add(int32(n))
		}()
	}
	wg.Wait()
	close(release)

	if n := <-first; n != 1 {
		t.Errorf("first sweep replayed %d, want 1", n)
	}
	if extra.Load() != 0 || hits.Load() != 1 {
		t.Errorf("overlapping sweeps replayed %d, server hits %d", extra.Load(), hits.Load())
	}
	if c.OfflineStatus().RetryInProgress {
		t.Error("guard should be released after the sweep")
	}
}

func TestRetryOfflineRequests_FailureKeepsPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/r1" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	q := newTestQueue(t, nil)
	enqueue(t, q, http.MethodPost, srv.URL+"/r1")
	enqueue(t, q, http.MethodPost, srv.URL+"/r2")
	c := newTestClient(t, q, nil)
	ctx := context.Background()

	n, err := c.RetryOfflineRequests(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1, nil", n, err)
	}
	reqs, _ := q.PeekAll(ctx)
	if len(reqs) != 1 || !strings.HasSuffix(reqs[0].URL, "/r1") {
		t.Fatalf("remaining = %+v", reqs)
	}
	if reqs[0].Attempts != 1 || !strings.Contains(reqs[0].LastError, "503") {
		t.Errorf("attempts = %d, last error = %q", reqs[0].Attempts, reqs[0].LastError)
	}
}

func TestRetryOfflineRequests_RejectedRequestsAreDropped(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusUnprocessableEntity} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var rejectedCalls, flakyCalls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/rejected" {
					rejectedCalls.Add(1)
					w.WriteHeader(code)
					return
				}
				flakyCalls.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			q := newTestQueue(t, nil)
			enqueue(t, q, http.MethodPost, srv.URL+"/rejected")
			enqueue(t, q, http.MethodPost, srv.URL+"/flaky")
			c := newTestClient(t, q, nil)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				if _, err := c.RetryOfflineRequests(ctx); err != nil {
					t.Fatal(err)
				}
			}
			if got := rejectedCalls.Load(); got != 1 {
				t.Errorf("rejected request dispatched %d times, want 1", got)
			}
			if got := flakyCalls.Load(); got != 5 {
				t.Errorf("retryable request dispatched %d times, want 5", got)
			}
			reqs, _ := q.PeekAll(ctx)
			if len(reqs) != 1 || !strings.HasSuffix(reqs[0].URL, "/flaky") || reqs[0].Attempts != 5 {
				t.Errorf("remaining = %+v", reqs)
			}
			if q.Size() != 1 {
				t.Errorf("size = %d, want 1", q.Size())
			}
		})
	}
}

func TestRetryOfflineRequests_CancelledSweepRecordsNoFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		cancel()
		<-r.Context().Done()
		return nil, r.Context().Err()
	})
	q := newTestQueue(t, nil)
	enqueue(t, q, http.MethodPost, "http://api.test/meals")
	c := newTestClient(t, q, nil, WithDoer(doer))

	if n, err := c.RetryOfflineRequests(ctx); err != nil || n != 0 {
		t.Fatalf("sweep = %d, %v; want 0, nil", n, err)
	}
	reqs, _ := q.PeekAll(context.Background())
	if len(reqs) != 1 || reqs[0].Attempts != 0 {
		t.Errorf("remaining = %+v, want one untouched entry", reqs)
	}
}

func TestRetryOfflineRequests_DropsAfterMaxAttempts(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	q := newTestQueue(t, nil)
	enqueue(t, q, http.MethodDelete, "http://api.test/expenses/7")
	c := newTestClient(t, q, nil, WithDoer(doer), WithMaxReplayAttempts(1))
	ctx := context.Background()

	if _, err := c.RetryOfflineRequests(ctx); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 1 {
		t.Fatalf("size after first sweep = %d, want 1", q.Size())
	}
	if _, err := c.RetryOfflineRequests(ctx); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 0 {
		t.Errorf("size after second sweep = %d, want 0", q.Size())
	}
}

func TestRetryOfflineRequests_PanicIsolated(t *testing.T) {
	var mu sync.Mutex
	var served []string
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/r2" {
			panic("transport bug")
		}
		mu.Lock()
		served = append(served, r.URL.Path)
		mu.Unlock()
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	q := newTestQueue(t, nil)
	for _, p := range []string{"/r1", "/r2", "/r3"} {
		enqueue(t, q, http.MethodPost, "http://api.test"+p)
	}
	c := newTestClient(t, q, nil, WithDoer(doer))

	n, err := c.RetryOfflineRequests(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("sweep = %d, %v; want 2, nil", n, err)
	}
	if strings.Join(served, ",") != "/r1,/r3" {
		t.Errorf("served = %v", served)
	}
	if q.Size() != 1 {
		t.Errorf("size = %d, want 1", q.Size())
	}
}

type countingRepo struct {
	*memory.QueueRepo
	lists atomic.Int32
}

func (r *countingRepo) List(ctx context.Context) ([]*domain.QueuedRequest, error) {
	r.lists.Add(1)
	return r.QueueRepo.List(ctx)
}

func TestOfflineStatus_DoesNotReadStore(t *testing.T) {
	repo := &countingRepo{QueueRepo: memory.NewQueueRepo(memory.NewMemoryStorage())}
	q := newTestQueue(t, repo)
	enqueue(t, q, http.MethodPost, "http://api.test/meals")
	c := newTestClient(t, q, nil)

	for range 1000 {
		if st := c.OfflineStatus(); st.PendingRequests != 1 {
			t.Fatalf("pending = %d, want 1", st.PendingRequests)
		}
	}
	if got := repo.lists.Load(); got != 0 {
		t.Errorf("store listed %d times", got)
	}
}

type switchPlatform struct {
	mu   sync.Mutex
	cur  connectivity.RawState
	subs []func(connectivity.RawState)
}

func (p *switchPlatform) FetchCurrentState(context.Context) (connectivity.RawState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur, nil
}

func (p *switchPlatform) Subscribe(fn func(connectivity.RawState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.subs = nil
	}
}

func (p *switchPlatform) set(s connectivity.RawState) {
	p.mu.Lock()
	p.cur = s
	subs := append([]func(connectivity.RawState){}, p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func TestOfflineMutationReplayedOnReconnect(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/meals" {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	platform := &switchPlatform{cur: connectivity.Disconnected()}
	mon := connectivity.NewMonitor(context.Background(), platform, connectivity.WithMonitorLogger(discard))
	defer mon.Cleanup()

	q := newTestQueue(t, nil)
	c := newTestClient(t, q, nil, WithBaseURL(srv.URL), WithMonitor(mon))
	mon.AttachRetrier(c)

	resp, err := c.Post(context.Background(), "/meals", map[string]string{"name": "curry"}, RequestConfig{})
	if err != nil || !resp.Queued {
		t.Fatalf("offline post = %+v, %v; want queued", resp, err)
	}
	if q.Size() != 1 || posts.Load() != 0 {
		t.Fatalf("size = %d, posts = %d before reconnect", q.Size(), posts.Load())
	}

	platform.set(connectivity.Connected("wifi", connectivity.WifiStrength(90)))

	deadline := time.Now().Add(2 * time.Second)
	for q.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained after reconnect, size = %d", q.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if posts.Load() != 1 {
		t.Errorf("server received %d posts, want 1", posts.Load())
	}
	if !c.OfflineStatus().Online {
		t.Error("status should report online")
	}
}

func TestCollectionKey(t *testing.T) {
	tests := map[string]string{
		"http://api.test/meals":                 "http://api.test/meals",
		"http://api.test/meals?house=1":         "http://api.test/meals",
		"http://api.test/expenses/7":            "http://api.test/expenses",
		"http://api.test/houses/3f2a-11/meals/": "http://api.test/houses/3f2a-11/meals",
	}
	for in, want := range tests {
		if got := collectionKey(in); got != want {
			t.Errorf("collectionKey(%q) = %q, want %q", in, got, want)
		}
	}
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", errors.New("keychain locked")
}

func TestRetryOfflineRequests_TokenFailureKeepsEntry(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		t.Error("request dispatched without a token")
		return nil, errors.New("unreachable")
	})
	q := newTestQueue(t, nil)
	enqueue(t, q, http.MethodPost, "http://api.test/meals")
	c := newTestClient(t, q, nil, WithDoer(doer), WithTokenSource(failingTokens{}))

	if _, err := c.RetryOfflineRequests(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 1 {
		t.Errorf("size = %d, want 1", q.Size())
	}
}

func TestRetryOfflineRequests_ReenablesRecoveredQueue(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	q := newTestQueue(t, &brokenAppendRepo{QueueRepo: memory.NewQueueRepo(memory.NewMemoryStorage())})
	c := newTestClient(t, q, nil, WithDoer(doer))
	ctx := context.Background()

	if _, err := c.Post(ctx, "http://api.test/meals", nil, RequestConfig{}); err == nil {
		t.Fatal("expected error while the store is failing")
	}
	if !c.OfflineStatus().QueueDisabled {
		t.Fatal("queue should be disabled")
	}

	// Counting still works, so the next sweep turns queueing back on.
	if _, err := c.RetryOfflineRequests(ctx); err != nil {
		t.Fatal(err)
	}
	if c.OfflineStatus().QueueDisabled {
		t.Error("queue should be re-enabled after a sweep")
	}
}

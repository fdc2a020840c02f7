package errclass

import (
	"sync"

	"github.com/vietddude/flatshare/internal/core/domain"
)

// DefaultRingCapacity is the number of classifications kept for diagnostics.
const DefaultRingCapacity = 100

// Ring is a bounded buffer of AppErrors; the oldest entry is evicted first.
type Ring struct {
	mu    sync.Mutex
	buf   []*domain.AppError
	start int
	size  int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]*domain.AppError, capacity)}
}

// Push appends e, evicting the oldest entry when full.
func (r *Ring) Push(e *domain.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = e
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Snapshot returns the newest n entries (all if n <= 0), oldest first.
func (r *Ring) Snapshot(n int) []*domain.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]*domain.AppError, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

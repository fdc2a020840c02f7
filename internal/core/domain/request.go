package domain

import (
	"net/http"
	"time"
)

// CacheEntry is a stored successful response body.
type CacheEntry struct {
	Key      string        `json:"key"`
	Value    []byte        `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
// A zero TTL never expires.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.TTL <= 0 {
		return true
	}
	return now.Sub(e.StoredAt) < e.TTL
}

// QueuedRequest is a mutating request waiting for replay.
type QueuedRequest struct {
	ID            string      `json:"id"`
	Seq           int64       `json:"seq"` // assigned by the repository, FIFO order
	Method        string      `json:"method"`
	URL           string      `json:"url"`
	Headers       http.Header `json:"headers,omitempty"`
	Body          []byte      `json:"body,omitempty"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitzero"`
}

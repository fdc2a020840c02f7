// Package client issues API requests with response caching, offline queueing
// of mutations and replay on reconnect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vietddude/flatshare/internal/cache"
	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/errclass"
	"github.com/vietddude/flatshare/internal/metrics"
	"github.com/vietddude/flatshare/internal/queue"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryBase  = 200 * time.Millisecond
	defaultRetryCap   = 5 * time.Second
	maxResponseLength = 10 << 20
)

// Monitor is the connectivity view the client needs.
type Monitor interface {
	IsOnline() bool
	IsOffline() bool
	NotifyRetrySweep(count int)
}

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// RequestConfig controls a single Request.
type RequestConfig struct {
	Cache           bool          // serve fresh hits from cache and store successes
	CacheKey        string        // defaults to the resolved URL; paths are resolved too
	CacheTTL        time.Duration // 0 uses the cache default
	OfflineFallback bool          // return a stale entry when the network fails
	Retries         int           // extra attempts for retryable failures
	Timeout         time.Duration // per attempt, 0 uses the client default
	SkipAuth        bool
	SkipQueue       bool     // never queue this mutation
	Invalidate      []string // cache keys or paths dropped after a successful mutation
}

// Response is the outcome of a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
	Stale      bool // served from cache past its TTL
	Queued     bool // mutation stored for later replay
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client is the request client. It implements connectivity.Retrier.
type Client struct {
	baseURL    string
	doer       Doer
	tokens     TokenSource
	cache      *cache.Cache
	queue      *queue.Queue
	monitor    Monitor
	classifier *errclass.Classifier
	log        *slog.Logger

	timeout           time.Duration
	retryBase         time.Duration
	retryCap          time.Duration
	maxReplayAttempts int

	sweeping atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL resolves relative request paths against base.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithTokenSource enables bearer authentication.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithMonitor connects the client to a connectivity monitor.
func WithMonitor(m Monitor) Option {
	return func(c *Client) { c.monitor = m }
}

// WithClassifier overrides the error classifier.
func WithClassifier(cl *errclass.Classifier) Option {
	return func(c *Client) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryBackoff sets the base and cap of the retry backoff.
func WithRetryBackoff(base, ceiling time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.retryBase = base
		}
		if ceiling > 0 {
			c.retryCap = ceiling
		}
	}
}

// WithMaxReplayAttempts drops queued requests after n failed replays.
// Zero keeps them forever.
func WithMaxReplayAttempts(n int) Option {
	return func(c *Client) { c.maxReplayAttempts = max(n, 0) }
}

// WithLogger overrides the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Client over the given queue and cache.
func New(q *queue.Queue, ch *cache.Cache, opts ...Option) *Client {
	c := &Client{
		doer:       newHTTPDoer(),
		cache:      ch,
		queue:      q,
		classifier: errclass.New(),
		log:        slog.Default().With("component", "client"),
		timeout:    defaultTimeout,
		retryBase:  defaultRetryBase,
		retryCap:   defaultRetryCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.New()
	}
	return c
}

// Classifier returns the classifier used for request failures.
func (c *Client) Classifier() *errclass.Classifier {
	return c.classifier
}

// Request performs method on target. A non-nil error is always a
// *domain.AppError.
func (c *Client) Request(ctx context.Context, method, target string, body any, cfg RequestConfig) (*Response, error) {
	method = strings.ToUpper(method)
	resp, outcome, appErr := c.request(ctx, method, target, body, cfg)
	metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	if appErr != nil {
		return nil, appErr
	}
	return resp, nil
}

// Get is shorthand for a GET Request.
func (c *Client) Get(ctx context.Context, target string, cfg RequestConfig) (*Response, error) {
	return c.Request(ctx, http.MethodGet, target, nil, cfg)
}

// Post is shorthand for a POST Request.
func (c *Client) Post(ctx context.Context, target string, body any, cfg RequestConfig) (*Response, error) {
	return c.Request(ctx, http.MethodPost, target, body, cfg)
}

// Delete is shorthand for a DELETE Request.
func (c *Client) Delete(ctx context.Context, target string, cfg RequestConfig) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, target, nil, cfg)
}

func (c *Client) request(ctx context.Context, method, target string, body any, cfg RequestConfig) (*Response, string, *domain.AppError) {
	url := c.resolve(target)
	errCtx := map[string]any{"method": method, "url": url}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, "error", c.classifier.Classify(err, errCtx)
	}

	if isMutation(method) {
		return c.mutate(ctx, method, url, payload, cfg, errCtx)
	}
	if cfg.Cache {
		return c.read(ctx, method, url, cfg, errCtx)
	}

	resp, err := c.dispatch(ctx, method, url, payload, nil, cfg)
	if err != nil {
		return nil, "error", c.classifier.Classify(err, errCtx)
	}
	return resp, "ok", nil
}

func (c *Client) read(ctx context.Context, method, url string, cfg RequestConfig, errCtx map[string]any) (*Response, string, *domain.AppError) {
	key := url
	if cfg.CacheKey != "" {
		key = c.cacheKey(cfg.CacheKey)
	}

	if entry, ok := c.cache.Get(ctx, key); ok {
		return cachedResponse(entry, false), "cache_hit", nil
	}

	resp, err := c.dispatch(ctx, method, url, nil, nil, cfg)
	if err == nil {
		c.cache.Put(ctx, key, resp.Body, cfg.CacheTTL)
		return resp, "ok", nil
	}

	appErr := c.classifier.Classify(err, errCtx)
	if cfg.OfflineFallback {
		if entry, ok := c.cache.GetStale(ctx, key); ok {
			c.log.Info("Serving stale cache entry", "key", key, "kind", appErr.Kind, "age", time.Since(entry.StoredAt))
			return cachedResponse(entry, true), "stale", nil
		}
	}
	return nil, "error", appErr
}

func (c *Client) mutate(ctx context.Context, method, url string, payload []byte, cfg RequestConfig, errCtx map[string]any) (*Response, string, *domain.AppError) {
	if !cfg.SkipQueue && c.monitor != nil && c.monitor.IsOffline() {
		appErr := c.classifier.Classify(errOffline, errCtx)
		return c.enqueueOrFail(ctx, method, url, payload, appErr)
	}

	resp, err := c.dispatch(ctx, method, url, payload, nil, cfg)
	if err == nil {
		for _, key := range cfg.Invalidate {
			c.cache.Invalidate(ctx, c.cacheKey(key))
		}
		return resp, "ok", nil
	}

	appErr := c.classifier.Classify(err, errCtx)
	if cfg.SkipQueue || !appErr.Kind.Connectivity() {
		return nil, "error", appErr
	}
	return c.enqueueOrFail(ctx, method, url, payload, appErr)
}

// enqueueOrFail stores the mutation for replay. If the store is unavailable
// the original failure is returned.
func (c *Client) enqueueOrFail(ctx context.Context, method, url string, payload []byte, cause *domain.AppError) (*Response, string, *domain.AppError) {
	if c.queue == nil {
		return nil, "error", cause
	}

	req := &domain.QueuedRequest{
		Method:    method,
		URL:       url,
		Body:      payload,
		LastError: cause.Message,
	}
	if payload != nil {
		req.Headers = http.Header{"Content-Type": {"application/json"}}
	}
	if err := c.queue.Enqueue(ctx, req); err != nil {
		c.classifier.Critical(err, map[string]any{"method": method, "url": url})
		return nil, "error", cause
	}
	return &Response{StatusCode: http.StatusAccepted, Queued: true}, "queued", nil
}

// OfflineStatus is a snapshot of the offline machinery.
type OfflineStatus struct {
	PendingRequests int  `json:"pending_requests"`
	RetryInProgress bool `json:"retry_in_progress"`
	Online          bool `json:"online"`
	QueueDisabled   bool `json:"queue_disabled"`
}

// OfflineStatus reports queue size and sweep state without touching the store.
func (c *Client) OfflineStatus() OfflineStatus {
	st := OfflineStatus{
		RetryInProgress: c.sweeping.Load(),
		Online:          c.monitor == nil || c.monitor.IsOnline(),
	}
	if c.queue != nil {
		st.PendingRequests = c.queue.Size()
		st.QueueDisabled = c.queue.Disabled()
	}
	return st
}

func (c *Client) resolve(target string) string {
	if c.baseURL == "" || strings.Contains(target, "://") {
		return target
	}
	return c.baseURL + "/" + strings.TrimLeft(target, "/")
}

// cacheKey resolves path-style keys so they match URL-keyed entries.
func (c *Client) cacheKey(key string) string {
	if strings.HasPrefix(key, "/") {
		return c.resolve(key)
	}
	return key
}

func cachedResponse(e *domain.CacheEntry, stale bool) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Body:       e.Value,
		FromCache:  true,
		Stale:      stale,
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return data, nil
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

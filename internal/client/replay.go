package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/metrics"
)

// RetryOfflineRequests replays queued mutations in FIFO order and returns how
// many succeeded. Only one sweep runs at a time; overlapping calls return 0
// immediately. A failed replay keeps its position for the next sweep, except
// for auth and validation rejections, which are dropped.
func (c *Client) RetryOfflineRequests(ctx context.Context) (int, error) {
	if c.queue == nil {
		return 0, nil
	}
	if !c.sweeping.CompareAndSwap(false, true) {
		metrics.ReplaySweeps.WithLabelValues("skipped").Inc()
		return 0, nil
	}
	defer c.sweeping.Store(false)

	if c.queue.Disabled() {
		if err := c.queue.Resync(ctx); err != nil {
			c.log.Warn("Offline queue store still unavailable", "error", err)
		}
	}

	if c.queue.Size() == 0 {
		metrics.ReplaySweeps.WithLabelValues("empty").Inc()
		return 0, nil
	}

	pending, err := c.queue.PeekAll(ctx)
	if err != nil {
		return 0, c.classifier.Critical(err, map[string]any{"operation": "replay"})
	}
	if len(pending) == 0 {
		metrics.ReplaySweeps.WithLabelValues("empty").Inc()
		return 0, nil
	}

	metrics.ReplaySweeps.WithLabelValues("run").Inc()
	if c.monitor != nil {
		c.monitor.NotifyRetrySweep(len(pending))
	}
	c.log.Info("Replaying offline requests", "count", len(pending))

	replayed := 0
	for _, req := range pending {
		if ctx.Err() != nil {
			break
		}

		if c.maxReplayAttempts > 0 && req.Attempts >= c.maxReplayAttempts {
			c.log.Error("Dropping queued request after too many attempts",
				"id", req.ID,
				"method", req.Method,
				"url", req.URL,
				"attempts", req.Attempts,
				"last_error", req.LastError,
			)
			if err := c.queue.Dequeue(ctx, req.ID); err != nil {
				c.log.Warn("Failed to drop queued request", "id", req.ID, "error", err)
			}
			metrics.ReplayedRequests.WithLabelValues("dropped").Inc()
			continue
		}

		if err := c.replay(ctx, req); err != nil {
			if ctx.Err() != nil {
				break
			}
			appErr := c.classifier.Classify(err, map[string]any{
				"operation": "replay",
				"id":        req.ID,
				"method":    req.Method,
				"url":       req.URL,
			})
			if rejected(err, appErr) {
				c.log.Error("Dropping queued request rejected by the server",
					"id", req.ID,
					"method", req.Method,
					"url", req.URL,
					"kind", appErr.Kind,
					"attempts", req.Attempts+1,
					"error", appErr,
				)
				if err := c.queue.Dequeue(ctx, req.ID); err != nil {
					c.log.Warn("Failed to drop queued request", "id", req.ID, "error", err)
				}
				metrics.ReplayedRequests.WithLabelValues("rejected").Inc()
				continue
			}

			c.log.Warn("Replay failed", "id", req.ID, "method", req.Method, "url", req.URL, "error", err)
			if err := c.queue.MarkFailed(ctx, req.ID, err); err != nil {
				c.log.Warn("Failed to record replay attempt", "id", req.ID, "error", err)
			}
			metrics.ReplayedRequests.WithLabelValues("failed").Inc()
			continue
		}

		if err := c.queue.Dequeue(ctx, req.ID); err != nil {
			c.log.Warn("Failed to dequeue replayed request", "id", req.ID, "error", err)
		}
		c.cache.InvalidatePrefix(ctx, collectionKey(req.URL))
		metrics.ReplayedRequests.WithLabelValues("ok").Inc()
		replayed++
	}

	c.log.Info("Replay sweep complete", "replayed", replayed, "remaining", c.queue.Size())
	return replayed, nil
}

// replay sends a single queued request. A panic is reported as a failure of
// this request only.
func (c *Client) replay(ctx context.Context, req *domain.QueuedRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
	}()
	_, err = c.do(ctx, req.Method, req.URL, req.Body, req.Headers, RequestConfig{})
	return err
}

// rejected reports whether the server answered with an auth or validation
// failure, which replaying again cannot fix. Local failures, such as a missing
// token, keep the entry queued.
func rejected(err error, e *domain.AppError) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch e.Kind {
	case domain.ErrorKindAuthentication, domain.ErrorKindAuthorization, domain.ErrorKindValidation:
		return true
	}
	return false
}

// collectionKey strips the query and the last path segment when it looks like
// an item id, so replaying POST /meals or DELETE /expenses/7 drops the cached
// listings under /meals and /expenses.
func collectionKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 && isID(path[i+1:]) {
		path = path[:i]
	}
	u.Path = path
	return u.String()
}

func isID(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if (r < '0' || r > '9') && r != '-' && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

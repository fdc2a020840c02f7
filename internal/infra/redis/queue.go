package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage"
)

// QueueRepo implements storage.QueueRepository using Redis.
// Order lives in a sorted set scored by a monotonically increasing sequence;
// request payloads are stored under their own keys.
type QueueRepo struct {
	client *Client
	rdb    *redis.Client
}

// NewQueueRepo creates a new Redis-backed offline queue repository.
func NewQueueRepo(client *Client) *QueueRepo {
	return &QueueRepo{client: client, rdb: client.rdb}
}

func (r *QueueRepo) queueKey() string { return r.client.key("offline_queue") }

func (r *QueueRepo) seqKey() string { return r.client.key("offline_queue", "seq") }

func (r *QueueRepo) requestKey(id string) string {
	return r.client.key("offline_request", id)
}

// Append adds a request at the tail of the queue.
func (r *QueueRepo) Append(ctx context.Context, req *domain.QueuedRequest) error {
	seq, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("incr failed: %w", err)
	}
	req.Seq = seq

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal queued request: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.requestKey(req.ID), data, 0)
	pipe.ZAdd(ctx, r.queueKey(), redis.Z{Score: float64(seq), Member: req.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	return nil
}

// List returns all queued requests, oldest first.
func (r *QueueRepo) List(ctx context.Context) ([]*domain.QueuedRequest, error) {
	ids, err := r.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.requestKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	out := make([]*domain.QueuedRequest, 0, len(ids))
	var orphans []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Payload gone but ID still in queue
			orphans = append(orphans, ids[i])
			continue
		}
		var req domain.QueuedRequest
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			slog.Error("Dropping undecodable queued request", "id", ids[i], "error", err)
			orphans = append(orphans, ids[i])
			continue
		}
		out = append(out, &req)
	}

	if len(orphans) > 0 {
		if err := r.rdb.ZRem(ctx, r.queueKey(), orphans...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove orphaned queue entries: %w", err)
		}
		for _, id := range orphans {
			r.rdb.Del(ctx, r.requestKey(id.(string)))
		}
	}
	return out, nil
}

// Remove deletes a request from the queue.
func (r *QueueRepo) Remove(ctx context.Context, id string) error {
	removed, err := r.rdb.ZRem(ctx, r.queueKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := r.rdb.Del(ctx, r.requestKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete queued request: %w", err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementAttempts bumps the attempt counter; the queue position is unchanged.
func (r *QueueRepo) IncrementAttempts(ctx context.Context, id string, lastErr string) error {
	data, err := r.rdb.Get(ctx, r.requestKey(id)).Bytes()
	if err == redis.Nil {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get queued request: %w", err)
	}

	var req domain.QueuedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to unmarshal queued request: %w", err)
	}

	req.Attempts++
	req.LastError = lastErr
	req.LastAttemptAt = time.Now()

	newData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal queued request: %w", err)
	}
	if err := r.rdb.Set(ctx, r.requestKey(id), newData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set queued request: %w", err)
	}
	return nil
}

// Count returns the number of queued requests.
func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

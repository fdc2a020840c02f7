package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/infra/storage"
)

// QueueRepo implements storage.QueueRepository using PostgreSQL.
type QueueRepo struct {
	db *DB
}

// NewQueueRepo creates a new PostgreSQL offline queue repository.
func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

type queuedRow struct {
	Seq           int64        `db:"seq"`
	ID            string       `db:"id"`
	Method        string       `db:"method"`
	URL           string       `db:"url"`
	Headers       string       `db:"headers"`
	Body          []byte       `db:"body"`
	EnqueuedAt    time.Time    `db:"enqueued_at"`
	Attempts      int          `db:"attempts"`
	LastError     string       `db:"last_error"`
	LastAttemptAt sql.NullTime `db:"last_attempt_at"`
}

func (r queuedRow) toDomain() (*domain.QueuedRequest, error) {
	req := &domain.QueuedRequest{
		ID:         r.ID,
		Seq:        r.Seq,
		Method:     r.Method,
		URL:        r.URL,
		Body:       r.Body,
		EnqueuedAt: r.EnqueuedAt,
		Attempts:   r.Attempts,
		LastError:  r.LastError,
	}
	if r.LastAttemptAt.Valid {
		req.LastAttemptAt = r.LastAttemptAt.Time
	}
	if r.Headers != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(r.Headers), &h); err != nil {
			return nil, fmt.Errorf("failed to decode headers of %s: %w", r.ID, err)
		}
		req.Headers = h
	}
	return req, nil
}

// Append inserts a request; the serial column defines FIFO order.
func (r *QueueRepo) Append(ctx context.Context, req *domain.QueuedRequest) error {
	args, err := appendArgs(req)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO offline_requests (id, method, url, headers, body, enqueued_at, attempts, last_error, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	var seq int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&seq); err != nil {
		return fmt.Errorf("failed to insert offline request: %w", err)
	}
	req.Seq = seq
	return nil
}

func appendArgs(req *domain.QueuedRequest) ([]any, error) {
	headers, err := json.Marshal(req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	lastAttempt := sql.NullTime{Time: req.LastAttemptAt, Valid: !req.LastAttemptAt.IsZero()}
	return []any{
		req.ID, req.Method, req.URL, string(headers), req.Body, req.EnqueuedAt,
		req.Attempts, req.LastError, lastAttempt,
	}, nil
}

// List returns all queued requests ordered by seq.
func (r *QueueRepo) List(ctx context.Context) ([]*domain.QueuedRequest, error) {
	var rows []queuedRow
	query := `
		SELECT seq, id, method, url, headers, body, enqueued_at, attempts, last_error, last_attempt_at
		FROM offline_requests
		ORDER BY seq ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list offline requests: %w", err)
	}

	out := make([]*domain.QueuedRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Remove deletes a replayed request.
func (r *QueueRepo) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM offline_requests WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete offline request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementAttempts records a failed replay.
func (r *QueueRepo) IncrementAttempts(ctx context.Context, id string, lastErr string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE offline_requests SET attempts = attempts + 1, last_error = $2, last_attempt_at = NOW() WHERE id = $1",
		id, lastErr,
	)
	if err != nil {
		return fmt.Errorf("failed to update offline request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the number of queued requests.
func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT count(*) FROM offline_requests"); err != nil {
		return 0, fmt.Errorf("failed to count offline requests: %w", err)
	}
	return count, nil
}

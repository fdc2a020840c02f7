package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/flatshare/internal/infra/storage"
)

// Pruner deletes persisted cache entries that expired longer than the
// retention period ago. Stale entries within retention stay available for
// offline fallback.
type Pruner struct {
	repo      storage.CachePruner
	retention time.Duration
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(repo storage.CachePruner, retention time.Duration) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		now:       time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single pass and returns the number of removed entries.
func (p *Pruner) Prune(ctx context.Context) int {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to prune cache entries", "error", err)
		return 0
	}
	if n > 0 {
		slog.Debug("Pruned expired cache entries", "count", n, "cutoff", cutoff)
	}
	return n
}

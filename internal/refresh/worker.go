// Package refresh resolves jobs submitted without waiting, so their final
// state is recorded even if nobody asks for it.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fluxmcp/internal/job"
)

const maxConcurrent = 4

// Resolver lists unresolved jobs and refreshes one from the provider.
type Resolver interface {
	Pending(ctx context.Context) ([]job.Job, error)
	Status(ctx context.Context, id string) (job.Job, error)
}

// Pruner deletes history older than a cutoff.
type Pruner interface {
	PruneJobs(ctx context.Context, before time.Time) (int64, error)
}

// Worker periodically refreshes pending jobs.
type Worker struct {
	resolver  Resolver
	interval  time.Duration
	pruner    Pruner
	retention time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. An interval <= 0 disables Run.
func NewWorker(resolver Resolver, interval time.Duration) *Worker {
	return &Worker{
		resolver: resolver,
		interval: interval,
		logger:   slog.Default(),
	}
}

// SetPruner makes each iteration delete history not updated within retention.
func (w *Worker) SetPruner(p Pruner, retention time.Duration) {
	w.pruner = p
	w.retention = retention
}

// Run refreshes pending jobs every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("refresh iteration failed", "error", err)
			continue
		}
		if n > 0 {
			w.logger.Debug("refreshed pending jobs", "count", n)
		}
	}
}

// RunOnce refreshes every pending job, at most four at a time, and returns
// how many it checked. Per-job failures are logged and do not stop the pass.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.resolver.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending jobs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, j := range pending {
		id := j.ID
		g.Go(func() error {
			res, err := w.resolver.Status(gctx, id)
			if err != nil {
				w.logger.Warn("refreshing job failed", "job_id", id, "error", err)
				return nil
			}
			if res.Status.Terminal() {
				w.logger.Info("job resolved", "job_id", id, "status", res.Status)
			}
			return nil
		})
	}
	g.Wait()

	if w.pruner != nil && w.retention > 0 {
		removed, err := w.pruner.PruneJobs(ctx, time.Now().Add(-w.retention))
		if err != nil {
			w.logger.Warn("pruning job history failed", "error", err)
		} else if removed > 0 {
			w.logger.Info("pruned job history", "removed", removed)
		}
	}
	return len(pending), nil
}

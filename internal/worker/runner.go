package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises the background loops. All workers share one context:
// the first failure cancels the rest so the process can restart cleanly
// instead of limping along with a dead writer.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all have returned. A worker
// error is wrapped with its name and propagated once the siblings drain.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "name", w.Name())
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("worker %s: %w", w.Name(), err)
			}
			slog.Debug("worker stopped", "name", w.Name())
			return nil
		})
	}
	return g.Wait()
}

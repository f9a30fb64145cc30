package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
)

const defaultSweepInterval = 10 * time.Minute

// SessionSweeper periodically purges expired sessions from stores that
// accumulate dead rows. The in-memory store evicts on its own and does not
// need one.
type SessionSweeper struct {
	store    storage.Purger
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewSessionSweeper creates the worker. interval <= 0 selects the default.
func NewSessionSweeper(store storage.Purger, interval time.Duration, m *telemetry.Metrics, logger *slog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{store: store, interval: interval, metrics: m, logger: logger}
}

// Name returns the worker identifier.
func (w *SessionSweeper) Name() string { return "session_sweeper" }

// Run sweeps once on start (rows may have expired while the gateway was
// down), then on the configured cadence until ctx is cancelled.
func (w *SessionSweeper) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *SessionSweeper) sweep(ctx context.Context) {
	n, err := w.store.PurgeExpired(ctx)
	if err != nil {
		w.logger.LogAttrs(ctx, slog.LevelError, "session purge failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		w.metrics.SessionsPurged.Add(float64(n))
		w.logger.LogAttrs(ctx, slog.LevelInfo, "expired sessions purged",
			slog.Int64("sessions", n),
		)
	}
}

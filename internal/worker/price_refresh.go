package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
)

const defaultRefreshInterval = 24 * time.Hour

// PriceRefreshWorker keeps the catalog current against the external price
// feed: fetch, persist, swap. Failures leave the serving snapshot alone.
type PriceRefreshWorker struct {
	fetcher  *pricing.Fetcher
	store    storage.PriceStore
	catalog  *pricing.Catalog
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewPriceRefreshWorker creates the worker. interval <= 0 selects the
// default daily cadence.
func NewPriceRefreshWorker(fetcher *pricing.Fetcher, store storage.PriceStore, catalog *pricing.Catalog, interval time.Duration, m *telemetry.Metrics, logger *slog.Logger) *PriceRefreshWorker {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceRefreshWorker{
		fetcher:  fetcher,
		store:    store,
		catalog:  catalog,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Name returns the worker identifier.
func (w *PriceRefreshWorker) Name() string { return "price_refresh" }

// Run refreshes immediately when the catalog came up empty (first boot,
// nothing persisted yet), then on the configured cadence until ctx is
// cancelled.
func (w *PriceRefreshWorker) Run(ctx context.Context) error {
	if w.catalog.Len() == 0 {
		if _, err := w.Refresh(ctx); err != nil {
			w.logger.LogAttrs(ctx, slog.LevelError, "initial price refresh failed",
				slog.String("error", err.Error()),
			)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Refresh(ctx); err != nil {
				w.logger.LogAttrs(ctx, slog.LevelError, "price refresh failed",
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Refresh fetches the feed, merges it into the store and swaps the catalog
// to the stored table. Protected and manually seeded models are absent from
// the fetch result, so their stored rows survive the merge. Returns how
// many models the new snapshot serves.
func (w *PriceRefreshWorker) Refresh(ctx context.Context) (int, error) {
	fetched, err := w.fetcher.Fetch(ctx)
	if err != nil {
		w.metrics.PriceRefreshes.WithLabelValues("error").Inc()
		return 0, err
	}
	if err := w.store.SavePrices(ctx, fetched); err != nil {
		w.metrics.PriceRefreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("save prices: %w", err)
	}
	stored, err := w.store.LoadPrices(ctx)
	if err != nil {
		w.metrics.PriceRefreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("load prices: %w", err)
	}
	w.catalog.Replace(stored)
	w.metrics.PriceRefreshes.WithLabelValues("ok").Inc()
	w.logger.LogAttrs(ctx, slog.LevelInfo, "price catalog refreshed",
		slog.Int("fetched", len(fetched)),
		slog.Int("models", w.catalog.Len()),
	)
	return w.catalog.Len(), nil
}

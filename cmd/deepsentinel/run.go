package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/budget"
	"github.com/jinzhao-rjb/DeepSentine/internal/config"
	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
	"github.com/jinzhao-rjb/DeepSentine/internal/proxy"
	"github.com/jinzhao-rjb/DeepSentine/internal/push"
	"github.com/jinzhao-rjb/DeepSentine/internal/server"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage/memstore"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage/sqlite"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
	"github.com/jinzhao-rjb/DeepSentine/internal/tokenizer"
	"github.com/jinzhao-rjb/DeepSentine/internal/upstream"
	"github.com/jinzhao-rjb/DeepSentine/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("starting deepsentinel", "version", version, "addr", cfg.Server.Addr)

	ctx := context.Background()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Open the session/price store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Seed manual prices from config
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Price catalog from the last persisted table. When nothing is stored
	// yet the refresh worker fetches the feed immediately on start.
	catalog := pricing.NewCatalog()
	stored, err := store.LoadPrices(ctx)
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}
	catalog.Replace(stored)
	slog.Info("price catalog loaded", "models", catalog.Len())

	// Shared BPE encoder; constructed once, the dictionary is large.
	counter, err := tokenizer.New()
	if err != nil {
		return err
	}

	ledger := budget.New(sentinel.PicounitsFromDisplay(cfg.Budget.InitialLimit))

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	hub := push.NewHub(logger, cfg.Push.Buffer, metrics)

	// Upstream routing over one tuned transport
	resolver := &dnscache.Resolver{}
	families := make([]upstream.Family, 0, len(cfg.Upstream.Families))
	for _, f := range cfg.Upstream.Families {
		families = append(families, upstream.Family{
			Name:     f.Name,
			BaseURL:  f.BaseURL,
			APIKey:   f.APIKey,
			Prefixes: f.Prefixes,
		})
	}
	upstreams, err := upstream.NewRegistry(families, upstream.NewTransport(resolver))
	if err != nil {
		return err
	}

	// Workers
	history := worker.NewHistoryWriter(store, cfg.History.QueueSize, metrics, logger)
	fetcher := pricing.NewFetcher(pricing.FetcherConfig{
		URL:                cfg.Pricing.RefreshURL,
		NativePrefixes:     cfg.Pricing.CNYPrefixes,
		MultiplierPrefixes: cfg.Pricing.MultiplierPrefixes,
		Multiplier:         cfg.Pricing.CNYMultiplier,
		Protected:          cfg.Pricing.Protected(),
	})
	refresh := worker.NewPriceRefreshWorker(fetcher, store, catalog, cfg.Pricing.RefreshInterval, metrics, logger)
	workers := []worker.Worker{history, refresh}
	if purger, ok := store.(storage.Purger); ok {
		workers = append(workers, worker.NewSessionSweeper(purger, cfg.History.SweepInterval, metrics, logger))
	}

	// Wire the billed pipeline
	svc := proxy.New(proxy.Deps{
		Catalog:   catalog,
		Counter:   counter,
		Ledger:    ledger,
		Sessions:  store,
		Upstreams: upstreams,
		Events:    hub,
		History:   history,
		Metrics:   metrics,
		Logger:    logger,
	})

	deps := server.Deps{
		Proxy:      svc,
		Ledger:     ledger,
		Sessions:   store,
		Catalog:    catalog,
		Refresher:  refresh,
		Push:       push.NewHandler(hub, logger, cfg.Push.OriginPatterns),
		ReadyCheck: store.Ping,
	}
	if cfg.Telemetry.Metrics.MetricsEnabled() {
		deps.Metrics = metrics
		deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	handler := server.New(deps)

	// No WriteTimeout: SSE responses stay open for the life of the stream.
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	// Start workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	// Start server
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("deepsentinel ready", "addr", cfg.Server.Addr, "limit", cfg.Budget.InitialLimit)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown: stop accepting requests, then stop workers. The history
	// writer drains its queue before returning, so pending appends reach
	// the store ahead of Close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	cancelWorkers()
	if err := <-workersDone; err != nil {
		slog.Warn("worker shutdown", "error", err)
	}

	slog.Info("deepsentinel stopped")
	return nil
}

// openStore selects the persistence backend: an empty or "memory" DSN runs
// fully in process, anything else is a SQLite path.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.DSN {
	case "", "memory":
		return memstore.New(cfg.History.TTL)
	default:
		return sqlite.New(cfg.Store.DSN, cfg.History.TTL)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

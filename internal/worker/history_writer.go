package worker

import (
	"context"
	"log/slog"
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
)

const (
	defaultHistoryQueue = 1024
	// historyStoreTime bounds a single append; a wedged store must not
	// back the queue up forever.
	historyStoreTime = 5 * time.Second
	historyDrainTime = 30 * time.Second
)

// HistoryWriter moves session appends from the request path to the store
// through a bounded queue. Enqueueing never blocks; when the queue is full
// the append is dropped and counted, so a slow store degrades history
// completeness instead of stream latency.
type HistoryWriter struct {
	ch      chan sentinel.HistoryAppend
	store   storage.SessionStore
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewHistoryWriter creates a HistoryWriter over store. queueSize <= 0
// selects the default.
func NewHistoryWriter(store storage.SessionStore, queueSize int, m *telemetry.Metrics, logger *slog.Logger) *HistoryWriter {
	if queueSize <= 0 {
		queueSize = defaultHistoryQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryWriter{
		ch:      make(chan sentinel.HistoryAppend, queueSize),
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Name returns the worker identifier.
func (w *HistoryWriter) Name() string { return "history_writer" }

// Record enqueues an append. It never blocks; drops on full queue.
func (w *HistoryWriter) Record(a sentinel.HistoryAppend) {
	select {
	case w.ch <- a:
		w.metrics.HistoryQueue.Set(float64(len(w.ch)))
	default:
		w.metrics.HistoryDropped.Inc()
		w.logger.LogAttrs(context.Background(), slog.LevelWarn, "history append dropped, queue full",
			slog.String("session_id", a.SessionID),
		)
	}
}

// Run writes queued appends until ctx is cancelled, then drains what is
// left under a deadline so shutdown flushes the store.
func (w *HistoryWriter) Run(ctx context.Context) error {
	for {
		select {
		case a := <-w.ch:
			// Background parent: cancellation must not truncate an
			// append already taken off the queue.
			w.write(context.Background(), a)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *HistoryWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), historyDrainTime)
	defer cancel()
	for {
		select {
		case a := <-w.ch:
			w.write(ctx, a)
			if ctx.Err() != nil {
				w.logger.LogAttrs(ctx, slog.LevelWarn, "history drain deadline hit",
					slog.Int("remaining", len(w.ch)),
				)
				return
			}
		default:
			return
		}
	}
}

func (w *HistoryWriter) write(parent context.Context, a sentinel.HistoryAppend) {
	ctx, cancel := context.WithTimeout(parent, historyStoreTime)
	defer cancel()
	if err := w.store.Append(ctx, a.SessionID, a.Messages); err != nil {
		w.logger.LogAttrs(ctx, slog.LevelError, "history append failed",
			slog.String("session_id", a.SessionID),
			slog.Int("messages", len(a.Messages)),
			slog.String("error", err.Error()),
		)
	}
	w.metrics.HistoryQueue.Set(float64(len(w.ch)))
}

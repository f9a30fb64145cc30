// Package push fans billing progress events out to WebSocket subscribers.
// Delivery is best effort: a slow subscriber loses events rather than
// stalling the proxy hot path.
package push

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth.
const DefaultSubscriberBuffer = 100

// Hub tracks subscribers and broadcasts progress events to them.
type Hub struct {
	logger  *slog.Logger
	buffer  int
	metrics *telemetry.Metrics

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber is one attached consumer. Events arrive on C until Unsubscribe
// closes it.
type Subscriber struct {
	C chan sentinel.ProgressEvent

	dropped atomic.Uint64
}

// Dropped returns how many events this subscriber missed to a full buffer.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// NewHub creates a hub. A non-positive buffer falls back to the default;
// nil metrics get a private registry.
func NewHub(logger *slog.Logger, buffer int, m *telemetry.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if m == nil {
		m = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		logger:  logger,
		buffer:  buffer,
		metrics: m,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new consumer and returns its handle.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan sentinel.ProgressEvent, h.buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.PushSubscribers.Inc()
	return sub
}

// Unsubscribe removes the consumer and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	h.mu.Unlock()
	if ok {
		close(sub.C)
		h.metrics.PushSubscribers.Dec()
	}
}

// Publish delivers ev to every subscriber without blocking. Full subscriber
// buffers drop the event and bump the drop counter.
func (h *Hub) Publish(ev sentinel.ProgressEvent) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			h.metrics.ProgressDropped.Inc()
		}
	}
}

// Dropped returns the hub-wide count of events lost to full buffers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats reports lifetime published and dropped event counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Package proxy implements the billed streaming pipeline: admission control
// against the budget, upstream relay with a byte-faithful SSE tee, real-time
// token metering, and the mid-stream circuit breaker.
package proxy

import (
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/budget"
	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
	"github.com/jinzhao-rjb/DeepSentine/internal/throttle"
	"github.com/jinzhao-rjb/DeepSentine/internal/upstream"
)

// TokenCounter counts billable tokens. Implemented by tokenizer.Counter.
type TokenCounter interface {
	Count(text string) int
	CountMessages(msgs []sentinel.Message) int
}

// Publisher receives throttled billing progress events. Implemented by
// push.Hub.
type Publisher interface {
	Publish(ev sentinel.ProgressEvent)
}

// HistoryRecorder queues fire-and-forget session history appends.
// Implemented by worker.HistoryWriter.
type HistoryRecorder interface {
	Record(a sentinel.HistoryAppend)
}

// Deps carries the service's collaborators. Events, History, Metrics and
// Logger may be nil.
type Deps struct {
	Catalog   *pricing.Catalog
	Counter   TokenCounter
	Ledger    *budget.Accumulator
	Sessions  storage.SessionStore
	Upstreams *upstream.Registry
	Events    Publisher
	History   HistoryRecorder
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Service drives billed chat completions end to end.
type Service struct {
	deps Deps
}

// New builds a Service. Nil Metrics get a private registry; nil Logger falls
// back to slog.Default.
func New(deps Deps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// Flight is one admitted request moving through the pipeline. Prices are
// snapshotted at admission so a concurrent catalog refresh cannot change
// what an in-flight request is billed.
type Flight struct {
	// Model is the client-supplied model id.
	Model string
	// SessionID is the resolved session, never empty.
	SessionID string
	// PromptTokens is the admission estimate, raised to the official count
	// when a usage frame reports more.
	PromptTokens int
	// Estimate is the prompt cost charged when streaming starts.
	Estimate sentinel.Picounits

	req    *sentinel.ChatRequest
	client *upstream.Client
	body   []byte
	price  pricing.Price
	gate   *throttle.Gate

	// Per-request running counters. tokens counts streamed completion
	// tokens; cost counts everything charged, prompt included.
	tokens int
	cost   sentinel.Picounits
	reply  strings.Builder
}

// Streaming reports whether the flight uses the SSE pipeline.
func (f *Flight) Streaming() bool { return f.req.Streaming() }

// publish pushes one progress event carrying the flight's counters and the
// ledger snapshot.
func (s *Service) publish(f *Flight, delta int) {
	if s.deps.Events == nil {
		return
	}
	total, limit, breached := s.deps.Ledger.Snapshot()
	s.deps.Events.Publish(sentinel.ProgressEvent{
		SessionID:   f.SessionID,
		Model:       f.Model,
		DeltaTokens: delta,
		TotalTokens: f.tokens,
		TotalCost:   total.Display(),
		Limit:       limit.Display(),
		Breached:    breached,
		Timestamp:   time.Now().UnixMilli(),
	})
	s.deps.Metrics.ProgressEmitted.Inc()
}

// finish runs the shared close path: the mandatory final progress event and
// the deferred history append of the last user message plus whatever
// assistant text accumulated.
func (s *Service) finish(f *Flight) {
	s.publish(f, f.gate.SinceLast(f.tokens))

	msgs := make([]sentinel.Message, 0, 2)
	for i := len(f.req.Messages) - 1; i >= 0; i-- {
		if f.req.Messages[i].Role == "user" {
			msgs = append(msgs, f.req.Messages[i])
			break
		}
	}
	if reply := f.reply.String(); reply != "" {
		msgs = append(msgs, sentinel.Message{Role: "assistant", Content: reply})
	}
	if len(msgs) == 0 || s.deps.History == nil {
		return
	}
	s.deps.History.Record(sentinel.HistoryAppend{
		SessionID: f.SessionID,
		Messages:  msgs,
		At:        time.Now(),
	})
}

// charge bills picounits for tokens of the given type against the ledger
// and the flight's cost counter, returning the breach transition.
func (s *Service) charge(f *Flight, tokens int, kind string, amount sentinel.Picounits) (newlyBreached bool) {
	f.cost = f.cost.AddSat(amount)
	_, newlyBreached = s.deps.Ledger.Add(amount)
	s.deps.Metrics.TokensBilled.WithLabelValues(f.Model, kind).Add(float64(tokens))
	s.deps.Metrics.CostAccumulated.Add(float64(amount))
	if newlyBreached {
		s.deps.Metrics.BudgetBreaches.Inc()
	}
	return newlyBreached
}

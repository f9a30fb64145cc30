package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jinzhao-rjb/DeepSentine/internal/sse"
	"github.com/jinzhao-rjb/DeepSentine/internal/upstream"
)

// streamBufSize is the relay read granularity. Provider chunks are far
// smaller; one read almost always carries whole events.
const streamBufSize = 32 * 1024

// upstreamErrorPayload is the terminal frame sent when the provider stream
// fails after the response has been committed.
var upstreamErrorPayload = []byte(`{"error":"upstream_stream_error"}`)

// Stream relays an admitted flight's upstream response to w, metering cost
// as bytes flow. A non-nil error means nothing has been written and the
// caller still owns the response; once the SSE headers are committed all
// failures are handled in-stream.
//
// Cancelling ctx (client disconnect) aborts the upstream read. The prompt
// charge already applied is retained.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, f *Flight) error {
	start := time.Now()
	resp, err := f.client.OpenStream(ctx, f.body)
	if err != nil {
		s.observeUpstreamError(f, err)
		return err
	}
	defer resp.Body.Close()
	s.deps.Metrics.UpstreamDuration.WithLabelValues(f.client.Family(), f.Model).Observe(time.Since(start).Seconds())

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}
	sse.WriteHeaders(w)
	flusher.Flush()

	s.deps.Metrics.ActiveStreams.Inc()
	defer s.deps.Metrics.ActiveStreams.Dec()
	defer s.finish(f)

	// Charge the prompt before the first upstream byte. A prompt that
	// itself breaches the budget cuts the stream immediately.
	s.charge(f, f.PromptTokens, "input", f.Estimate)
	if s.deps.Ledger.Breached() {
		s.cutBreach(ctx, w, flusher, f)
		return nil
	}

	var split sse.Splitter
	buf := make([]byte, streamBufSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			// Raw bytes go downstream before any billing work so that
			// metering never adds client-visible latency.
			if _, err := w.Write(buf[:n]); err != nil {
				s.deps.Logger.LogAttrs(ctx, slog.LevelDebug, "client write failed",
					slog.String("session_id", f.SessionID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			flusher.Flush()

			for _, ev := range split.Feed(buf[:n]) {
				if ev.Done {
					continue
				}
				if s.billEvent(f, ev.Data) {
					s.cutBreach(ctx, w, flusher, f)
					return nil
				}
			}
		}
		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF):
				// Upstream finished; its [DONE] was already forwarded.
			case ctx.Err() != nil:
				s.deps.Logger.LogAttrs(ctx, slog.LevelDebug, "client disconnected",
					slog.String("session_id", f.SessionID),
					slog.String("model", f.Model),
				)
			default:
				s.deps.Metrics.UpstreamErrors.WithLabelValues(f.client.Family(), "stream").Inc()
				s.deps.Logger.LogAttrs(ctx, slog.LevelWarn, "upstream stream failed",
					slog.String("family", f.client.Family()),
					slog.String("model", f.Model),
					slog.String("error", readErr.Error()),
				)
				if err := sse.WriteData(w, upstreamErrorPayload); err == nil {
					sse.WriteDone(w)
					flusher.Flush()
				}
			}
			return nil
		}
	}
}

// billEvent meters one parsed SSE event against the flight and reports
// whether the budget is breached. Content frames are counted with the
// shared tokenizer; usage frames raise the prompt charge when the official
// count exceeds the admission estimate (never lowered, so the ledger stays
// monotonic).
func (s *Service) billEvent(f *Flight, data []byte) bool {
	if content := sse.DeltaContent(data); content != "" {
		f.reply.WriteString(content)
		t := s.deps.Counter.Count(content)
		f.tokens += t
		s.charge(f, t, "output", f.price.OutputPico.MulTokens(t))
	}
	if usage, ok := sse.UsageFrom(data); ok && usage.PromptTokens > f.PromptTokens {
		extra := usage.PromptTokens - f.PromptTokens
		f.PromptTokens = usage.PromptTokens
		s.charge(f, extra, "input", f.price.InputPico.MulTokens(extra))
	}
	if s.deps.Ledger.Breached() {
		return true
	}
	delta := f.gate.SinceLast(f.tokens)
	if f.gate.Allow(f.tokens, f.cost) {
		s.publish(f, delta)
	}
	return false
}

// cutBreach terminates the relay at the budget boundary: breach frame plus
// [DONE] downstream, then the deferred close path emits the final event.
func (s *Service) cutBreach(ctx context.Context, w io.Writer, flusher http.Flusher, f *Flight) {
	total, limit, _ := s.deps.Ledger.Snapshot()
	if err := sse.WriteBreach(w, total.Display(), limit.Display()); err == nil {
		flusher.Flush()
	}
	s.deps.Logger.LogAttrs(ctx, slog.LevelWarn, "stream cut by budget breaker",
		slog.String("session_id", f.SessionID),
		slog.String("model", f.Model),
		slog.String("total_cost", total.String()),
		slog.String("limit", limit.String()),
	)
}

// observeUpstreamError counts a failed upstream call by family and status.
func (s *Service) observeUpstreamError(f *Flight, err error) {
	status := "connect"
	var se *upstream.StatusError
	if errors.As(err, &se) {
		status = strconv.Itoa(se.StatusCode)
	}
	s.deps.Metrics.UpstreamErrors.WithLabelValues(f.client.Family(), status).Inc()
}

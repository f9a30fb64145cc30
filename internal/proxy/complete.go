package proxy

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jinzhao-rjb/DeepSentine/internal/sse"
)

// Complete runs the non-streaming path: one upstream round trip, billed
// from the response's usage block (falling back to tokenizing the reply
// when the provider omits it). The response body and upstream status are
// returned for relay; billing happens after the provider has done the
// work, so a breach here latches the ledger without clipping the reply.
func (s *Service) Complete(ctx context.Context, f *Flight) ([]byte, int, error) {
	start := time.Now()
	body, status, err := f.client.Complete(ctx, f.body)
	if err != nil {
		s.observeUpstreamError(f, err)
		return nil, status, err
	}
	s.deps.Metrics.UpstreamDuration.WithLabelValues(f.client.Family(), f.Model).Observe(time.Since(start).Seconds())

	defer s.finish(f)
	s.charge(f, f.PromptTokens, "input", f.Estimate)

	reply := completionContent(body)
	f.reply.WriteString(reply)

	if usage, ok := sse.UsageFrom(body); ok {
		if usage.PromptTokens > f.PromptTokens {
			extra := usage.PromptTokens - f.PromptTokens
			f.PromptTokens = usage.PromptTokens
			s.charge(f, extra, "input", f.price.InputPico.MulTokens(extra))
		}
		f.tokens += usage.CompletionTokens
		s.charge(f, usage.CompletionTokens, "output", f.price.OutputPico.MulTokens(usage.CompletionTokens))
	} else {
		t := s.deps.Counter.Count(reply)
		f.tokens += t
		s.charge(f, t, "output", f.price.OutputPico.MulTokens(t))
	}
	return body, status, nil
}

// completionContent concatenates message content across the choices of a
// non-streaming completion response.
func completionContent(body []byte) string {
	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() {
		return ""
	}
	var sb strings.Builder
	choices.ForEach(func(_, choice gjson.Result) bool {
		if c := choice.Get("message.content"); c.Type == gjson.String {
			sb.WriteString(c.Str)
		}
		return true
	})
	return sb.String()
}

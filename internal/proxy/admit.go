package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/sjson"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/throttle"
)

// Admit runs admission control over a raw chat-completion payload: envelope
// validation, price snapshot, prompt estimation, budget precheck, optional
// history merge and the upstream body rewrite. It returns the flight ready
// to stream, or an error mapping to a client-visible rejection.
//
// The prompt estimate covers the request's own messages; merged history is
// not pre-estimated and is reconciled from the provider's usage report.
func (s *Service) Admit(ctx context.Context, raw []byte) (*Flight, error) {
	var req sentinel.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode request: %v: %w", err, sentinel.ErrBadRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required: %w", sentinel.ErrBadRequest)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty: %w", sentinel.ErrBadRequest)
	}
	if req.SessionID == "" {
		req.SessionID = sentinel.DefaultSessionID
	}

	price, ok := s.deps.Catalog.Get(req.Model)
	if !ok {
		return nil, fmt.Errorf("no price for model %q: %w", req.Model, sentinel.ErrUnknownModel)
	}
	client, err := s.deps.Upstreams.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	promptTokens := s.deps.Counter.CountMessages(req.Messages)
	estimate := price.InputPico.MulTokens(promptTokens)
	if err := s.deps.Ledger.Precheck(estimate); err != nil {
		s.deps.Metrics.BudgetRejects.Inc()
		return nil, fmt.Errorf("admission for %s: %w", req.Model, err)
	}

	messages, merged := s.mergeHistory(ctx, &req)
	body, err := rewriteBody(raw, &req, messages, merged)
	if err != nil {
		return nil, fmt.Errorf("rewrite request: %v: %w", err, sentinel.ErrBadRequest)
	}

	return &Flight{
		Model:        req.Model,
		SessionID:    req.SessionID,
		PromptTokens: promptTokens,
		Estimate:     estimate,
		req:          &req,
		client:       client,
		body:         body,
		price:        price,
		gate:         throttle.New(),
	}, nil
}

// mergeHistory prepends stored session history when the request asks for
// it. Store failures degrade to the request's own messages; a chat must
// not fail because history is unavailable.
func (s *Service) mergeHistory(ctx context.Context, req *sentinel.ChatRequest) (msgs []sentinel.Message, merged bool) {
	if !req.LoadHistory {
		return req.Messages, false
	}
	history, err := s.deps.Sessions.Messages(ctx, req.SessionID)
	if err != nil {
		s.deps.Logger.LogAttrs(ctx, slog.LevelWarn, "history load failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		return req.Messages, false
	}
	if len(history) == 0 {
		return req.Messages, false
	}
	out := make([]sentinel.Message, 0, len(history)+len(req.Messages))
	out = append(out, history...)
	out = append(out, req.Messages...)
	return out, true
}

// rewriteBody strips the gateway envelope fields from the raw payload and
// pins the streaming options, leaving passthrough fields the envelope does
// not model (temperature, tools, ...) untouched.
func rewriteBody(raw []byte, req *sentinel.ChatRequest, messages []sentinel.Message, merged bool) ([]byte, error) {
	out, err := sjson.DeleteBytes(raw, "session_id")
	if err != nil {
		return nil, err
	}
	out, err = sjson.DeleteBytes(out, "load_history")
	if err != nil {
		return nil, err
	}
	if merged {
		out, err = sjson.SetBytes(out, "messages", messages)
		if err != nil {
			return nil, err
		}
	}
	if req.Streaming() {
		out, err = sjson.SetBytes(out, "stream", true)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "stream_options.include_usage", true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

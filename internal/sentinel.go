// Package sentinel defines domain types for the DeepSentinel billing gateway.
// This package has no project imports -- it is the dependency root.
package sentinel

import (
	"context"
	"time"
)

// DefaultSessionID is used when a chat request omits session_id.
const DefaultSessionID = "default"

// Message is a single chat message within a session.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's chat-completion envelope. SessionID and
// LoadHistory are gateway extensions; they are stripped from the payload
// before it is forwarded upstream. Stream distinguishes "absent" from an
// explicit false: absent defaults to streaming.
type ChatRequest struct {
	Model       string    `json:"model"`
	SessionID   string    `json:"session_id,omitempty"`
	Messages    []Message `json:"messages"`
	LoadHistory bool      `json:"load_history,omitempty"`
	Stream      *bool     `json:"stream,omitempty"`
}

// Streaming reports whether the request should use the streaming pipeline.
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// ModelPrice holds display-currency per-token prices as persisted in the
// price namespace. Multiplier converts catalog currency to display currency
// (e.g. 7.2 for USD catalog prices displayed in CNY); 0 is treated as 1.
type ModelPrice struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Usage carries token counts reported by an upstream provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProgressEvent is a throttled billing notification pushed to UI
// subscribers. DeltaTokens and TotalTokens are per-request; TotalCost and
// Limit reflect the process-wide ledger. Timestamp is unix milliseconds.
type ProgressEvent struct {
	SessionID   string  `json:"session_id"`
	Model       string  `json:"model"`
	DeltaTokens int     `json:"delta_tokens"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	Limit       float64 `json:"limit"`
	Breached    bool    `json:"breached"`
	Timestamp   int64   `json:"ts"`
}

// HistoryAppend is a deferred session-history write. Appends are queued
// post-flight and must never block or fail a request.
type HistoryAppend struct {
	SessionID string
	Messages  []Message
	At        time.Time
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

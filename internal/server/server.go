// Package server implements the HTTP transport layer for the DeepSentinel
// gateway: the billed chat endpoint, the budget control plane and the
// WebSocket push channel.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinzhao-rjb/DeepSentine/internal/budget"
	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
	"github.com/jinzhao-rjb/DeepSentine/internal/proxy"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// PriceRefresher triggers an immediate price feed refresh, returning the
// number of models in the refreshed catalog.
type PriceRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Proxy          *proxy.Service
	Ledger         *budget.Accumulator
	Sessions       storage.SessionStore
	Catalog        *pricing.Catalog
	Refresher      PriceRefresher     // nil = refresh endpoint unavailable
	Push           http.Handler       // nil = no websocket channel
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(s.instrument)
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletion)
		r.Get("/models", s.handleListModels)

		// Budget control plane
		r.Get("/status", s.handleStatus)
		r.Get("/check_gate", s.handleCheckGate)
		r.Post("/config/limit", s.handleSetLimit)
		r.Post("/config/reset", s.handleReset)

		r.Get("/sessions/{session_id}/messages", s.handleSessionMessages)
		r.Post("/admin/refresh_prices", s.handleRefreshPrices)

		if deps.Push != nil {
			r.Method(http.MethodGet, "/ws", deps.Push)
		}
	})

	return r
}

type server struct {
	deps Deps
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// maxAdminBody is the maximum allowed control-plane request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// okResponse acknowledges a control-plane mutation.
type okResponse struct {
	OK bool `json:"ok"`
}

// statusResponse mirrors the accumulator snapshot in display currency.
type statusResponse struct {
	TotalCost float64 `json:"total_cost"`
	Limit     float64 `json:"limit"`
	Breached  bool    `json:"breached"`
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	total, limit, breached := s.deps.Ledger.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		TotalCost: total.Display(),
		Limit:     limit.Display(),
		Breached:  breached,
	})
}

// checkGateResponse answers the cheap pre-flight poll UIs issue before
// submitting a prompt.
type checkGateResponse struct {
	Allowed   bool    `json:"allowed"`
	TotalCost float64 `json:"total_cost"`
	Limit     float64 `json:"limit"`
}

func (s *server) handleCheckGate(w http.ResponseWriter, _ *http.Request) {
	total, limit, breached := s.deps.Ledger.Snapshot()
	writeJSON(w, http.StatusOK, checkGateResponse{
		Allowed:   !breached,
		TotalCost: total.Display(),
		Limit:     limit.Display(),
	})
}

type limitRequest struct {
	Limit float64 `json:"limit"`
}

func (s *server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("limit must be non-negative"))
		return
	}
	s.deps.Ledger.SetLimit(sentinel.PicounitsFromDisplay(req.Limit))
	slog.LogAttrs(r.Context(), slog.LevelInfo, "budget limit updated",
		slog.Float64("limit", req.Limit),
	)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Ledger.Reset()
	slog.LogAttrs(r.Context(), slog.LevelInfo, "budget ledger reset")
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// sessionMessagesResponse wraps a session's history.
type sessionMessagesResponse struct {
	SessionID string             `json:"session_id"`
	Messages  []sentinel.Message `json:"messages"`
}

// handleSessionMessages returns a session's stored history. Store failures
// degrade to an empty list: reads are advisory and must not surface
// storage trouble to chat UIs.
func (s *server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	msgs, err := s.deps.Sessions.Messages(r.Context(), sessionID)
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "session read failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		msgs = nil
	}
	if msgs == nil {
		msgs = []sentinel.Message{}
	}
	writeJSON(w, http.StatusOK, sessionMessagesResponse{
		SessionID: sessionID,
		Messages:  msgs,
	})
}

// refreshResponse reports the catalog size after a successful refresh.
type refreshResponse struct {
	OK     bool `json:"ok"`
	Models int  `json:"models"`
}

func (s *server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("price refresh not configured"))
		return
	}
	n, err := s.deps.Refresher.Refresh(r.Context())
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "price refresh failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse("price refresh failed"))
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{OK: true, Models: n})
}

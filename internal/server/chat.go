package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/telemetry"
	"github.com/jinzhao-rjb/DeepSentine/internal/upstream"
)

// maxChatBody caps a chat request body (4 MB). Merged histories stay well
// under this; anything larger is not a chat payload.
const maxChatBody = 4 << 20

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer("server").Start(r.Context(), "chat_completion")
	defer span.End()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}

	flight, err := s.deps.Proxy.Admit(ctx, raw)
	if err != nil {
		span.RecordError(err)
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	span.SetAttributes(
		attribute.String("model", flight.Model),
		attribute.String("session_id", flight.SessionID),
		attribute.Bool("stream", flight.Streaming()),
	)

	if flight.Streaming() {
		// Stream returns an error only before committing the response;
		// in-flight failures are terminated with SSE frames.
		if err := s.deps.Proxy.Stream(ctx, w, flight); err != nil {
			span.RecordError(err)
			writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		}
		return
	}

	body, status, err := s.deps.Proxy.Complete(ctx, flight)
	if err != nil {
		span.RecordError(err)
		// Provider rejections are relayed with their own status and body so
		// clients see what the provider said.
		var se *upstream.StatusError
		if errors.As(err, &se) && se.StatusCode > 0 {
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(se.StatusCode)
			io.WriteString(w, se.Body)
			return
		}
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body)
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrUnknownModel), errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrBudgetExceeded), errors.Is(err, sentinel.ErrBudgetBreached):
		return http.StatusPaymentRequired
	case errors.Is(err, sentinel.ErrUpstreamConnect), errors.Is(err, sentinel.ErrUpstreamStream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

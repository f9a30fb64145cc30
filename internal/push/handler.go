package push

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds a single frame write so one dead peer cannot wedge
// its pump goroutine.
const writeTimeout = 5 * time.Second

// Handler upgrades GET requests to WebSocket connections and streams hub
// events to them as JSON text frames.
type Handler struct {
	hub            *Hub
	logger         *slog.Logger
	originPatterns []string
}

// NewHandler builds a WebSocket handler over hub. originPatterns follows
// websocket.AcceptOptions; empty means same-origin only.
func NewHandler(hub *Hub, logger *slog.Logger, originPatterns []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger, originPatterns: originPatterns}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelWarn, "websocket accept failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "hub closed")

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	// The client never sends application frames; CloseRead keeps control
	// frames flowing and cancels the context on disconnect.
	ctx := conn.CloseRead(r.Context())

	h.logger.LogAttrs(ctx, slog.LevelDebug, "websocket subscriber attached",
		slog.Int("subscribers", h.hub.Subscribers()),
	)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.logger.LogAttrs(ctx, slog.LevelDebug, "websocket write failed",
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}

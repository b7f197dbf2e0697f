package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Handler upgrades GET /ws/dispatch to a websocket that receives Hub
// events. The optional agent query parameter filters outcomes.
type Handler struct {
	hub            *Hub
	originPatterns []string
}

// NewHandler creates a websocket handler for hub. With no origin patterns
// every origin is accepted.
func NewHandler(hub *Hub, originPatterns ...string) *Handler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &Handler{hub: hub, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent")
	logger := h.hub.logger.With("agent_id", agentID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.CloseNow(); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sub := h.hub.subscribe(agentID)
	defer h.hub.unsubscribe(sub)
	logger.Info("Dispatch stream subscribed")

	// The stream is one-way; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Dispatch stream closed")
			return
		case payload := <-sub.events:
			if err := write(ctx, ws, payload); err != nil {
				logger.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, ws *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, payload)
}

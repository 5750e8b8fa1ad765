// Package logbridge relays browser console output to the server log over a
// WebSocket and lets the server push messages (such as "reload") back.
package logbridge

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jakobhellermann/wasm-server-runner/internal/logging"
)

// Target is attached to every relayed record.
const Target = logging.BrowserTarget

// Bridge upgrades requests to WebSocket connections and logs what the page sends.
type Bridge struct {
	logger   *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
}

func New(logger *slog.Logger, hub *Hub) *Bridge {
	return &Bridge{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			// Pages may be opened through any host alias of the dev machine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{ws: ws}
	b.hub.add(c)
	defer func() {
		b.hub.remove(c)
		_ = ws.Close()
	}()

	ctx := r.Context()
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				b.logger.Warn("websocket connection closed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			b.logger.Warn("ignoring non-text websocket message", "size", len(data))
			continue
		}

		msg, err := Parse(string(data))
		if err != nil {
			b.logger.Warn("dropping browser log message", "message", string(data), "error", err)
			continue
		}
		b.logger.Log(ctx, msg.Level, msg.Text, logging.TargetKey, Target)
	}
}

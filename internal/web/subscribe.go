package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appLog "daycal/internal/log"
	"daycal/internal/model"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	// Tokens are checked before the upgrade, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// handleSubscribe streams every snapshot the store publishes. The first
// frame is the current claim set.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	sub, err := s.store.Subscribe(r.Context())
	if err != nil {
		writeStoreError(w, "subscribe", err)
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		appLog.Error("failed to upgrade the websocket", err)
		return
	}
	defer ws.Close()

	sessionID := uuid.NewString()
	appLog.Info("websocket client connected", "session", sessionID, "owner", id.OwnerID)

	pongWait := s.pingInterval * 2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound messages are ignored; reading keeps pong and close handling alive.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				appLog.Debug("websocket reader stopped", "session", sessionID, "reason", err.Error())
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				appLog.Info("websocket feed ended", "session", sessionID)
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(model.Frame{Type: model.FrameSnapshot, Snapshot: snap}); err != nil {
				appLog.Warn("failed to write websocket frame", "session", sessionID, "error", err.Error())
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				appLog.Warn("websocket ping failed", "session", sessionID, "error", err.Error())
				return
			}
		case <-gone:
			appLog.Info("websocket client disconnected", "session", sessionID)
			return
		}
	}
}

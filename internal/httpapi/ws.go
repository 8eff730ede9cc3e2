package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskdeck/taskdeck/pkg/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin policy is handled by the API key middleware; the realtime
	// channel accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades GET /ws?task_id= to a websocket, subscribes it to the
// task's broadcast room, and ingests inbound chat frames. Chat failures are
// logged without dropping the connection.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeJSONError(w, http.StatusBadRequest, "task_id required")
		return
	}
	if _, err := a.Store.GetTask(r.Context(), taskID); err != nil {
		writeDomainError(w, err)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := a.Hub.Subscribe(taskID)
	defer a.Hub.Unsubscribe(taskID, sub)

	// Writer pump: hub events and keepalive pings. Stops when the read loop
	// returns and closes done.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case b, ok := <-sub:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read", "task_id", taskID, "error", err)
			}
			close(done)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame models.ChatFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "chat" {
			slog.Debug("ws frame ignored", "task_id", taskID)
			continue
		}
		// Chat availability degrades gracefully: a collaborator failure is
		// logged and the connection stays open. The request context dies
		// with the hijacked connection, so ingestion runs on its own.
		if err := a.Engine.Chat(context.Background(), taskID, frame.Content); err != nil {
			slog.Error("chat ingestion failed", "task_id", taskID, "error", err)
		}
	}
}

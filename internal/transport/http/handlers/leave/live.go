package leavehandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"leaveflow/internal/domain/leave"
	"leaveflow/internal/transport/http/middleware"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

type liveFrame struct {
	Type     string               `json:"type"`
	Requests []leave.LeaveRequest `json:"requests"`
}

// handleLiveRequests streams the caller's request list over a websocket.
// Every frame is the complete current list; the first one is sent right
// after the upgrade.
func (h *Handler) handleLiveRequests(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	sub, err := h.Service.WatchFor(r.Context(), viewerOf(user, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Cancel()

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live feed upgrade failed", "err", err, "userId", user.UserID)
		return
	}
	defer conn.Close()

	if h.Metrics != nil {
		defer h.Metrics.FeedOpened()()
	}

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case requests, ok := <-sub.Updates():
			if !ok {
				return
			}
			if requests == nil {
				requests = []leave.LeaveRequest{}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(liveFrame{Type: "snapshot", Requests: requests}); err != nil {
				slog.Debug("live feed write failed", "err", err, "userId", user.UserID)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.Closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(liveWriteWait))
			return
		}
	}
}

// readUntilClosed drains client frames so pongs and close messages are
// processed, and signals when the peer goes away.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

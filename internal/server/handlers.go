// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/syncchat/internal/logger"
)

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, and admits a new Client to the hub. When the hub is full the
// socket is closed straight away and never produces an event.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Admit(client) {
		logger.Warn("server full; closing connection", "addr", r.RemoteAddr, "max_connections", s.config.MaxConnections)
		rejectConnection(conn, "server full")
	}
}

func rejectConnection(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logger.Debug("error writing rejection close frame", "error", err)
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		logger.Debug("error closing rejected connection", "error", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "SyncChat server is running!")
}

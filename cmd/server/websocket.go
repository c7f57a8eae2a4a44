// Package main is the entry point of the application
package main

import (
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmatei/chess-server/pkg/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	CheckOrigin: func(r *http.Request) bool {
		path := os.Getenv("FRONTEND_PATH")
		return path == "" || path == r.Header.Get("Origin")
	},
}

// handleWebSocket handles WebSocket connections. An optional token
// query parameter binds the connection to a registered identity; a bad
// token is rejected before the upgrade. Guests may instead pass the
// player_id the server handed them on a previous CONNECTED, so a
// reload lands back in the same seat.
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	var userID string
	if token != "" {
		ident, err := app.Verifier.Verify(token)
		if err != nil {
			app.Logger.Warn("rejected websocket with invalid token",
				zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = ident.UserID
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	conn := server.NewConnection(ws, app.Hub, app.Logger)
	if userID != "" {
		conn.Authenticate(userID)
	} else if pid := r.URL.Query().Get("player_id"); pid != "" {
		conn.ResumeAs(pid)
	}
	app.Hub.Register(conn)

	app.Logger.Info("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr))

	go conn.WritePump()
	go conn.ReadPump()
}

package server

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmatei/chess-server/pkg/messages"
)

// Connection is one client socket. PlayerID is the stable identifier
// handed to the game core: a UUID for guests (fresh, or resumed from a
// previous connection), the identity id for authenticated players.
type Connection struct {
	ID uuid.UUID

	PlayerID string
	UserID   string

	ws   *websocket.Conn
	hub  *Hub
	send chan []byte // Buffered channel of outbound messages.

	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket.
func NewConnection(ws *websocket.Conn, hub *Hub, logger *zap.Logger) *Connection {
	id := uuid.New()
	return &Connection{
		ID:       id,
		PlayerID: id.String(),
		ws:       ws,
		hub:      hub,
		send:     make(chan []byte, 256), // buffered for outgoing messages
		logger:   logger,
	}
}

// Authenticate pins the connection to a verified identity. Must be
// called before the connection is registered with the hub.
func (c *Connection) Authenticate(userID string) {
	c.PlayerID = userID
	c.UserID = userID
}

// ResumeAs restores a guest's remembered player id so a reload or
// dropped socket comes back to the same seat. The id must be a UUID we
// previously minted; anything else keeps the fresh one. Ignored on
// authenticated connections. Must be called before hub registration.
func (c *Connection) ResumeAs(playerID string) {
	if c.UserID != "" {
		return
	}
	if _, err := uuid.Parse(playerID); err != nil {
		return
	}
	c.PlayerID = playerID
}

// ReadPump handles inbound messages from the client.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", zap.Error(err))
			}
			break
		}

		// We only handle text frames.
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Error("failed to parse inbound JSON", zap.Error(err))
			continue
		}

		c.hub.inbound <- InboundHubMessage{Conn: c, Message: inbound}
	}
}

// WritePump handles outbound messages to the client.
func (c *Connection) WritePump() {
	defer c.ws.Close()

	for {
		message, ok := <-c.send
		if !ok {
			// Channel closed.
			return
		}

		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("write error",
				zap.String("connection_id", c.ID.String()),
				zap.Error(err))
			return
		}
	}
}

// SendJSON serializes v and queues it for delivery. A client too slow
// to drain its buffer loses the message rather than stalling the hub.
func (c *Connection) SendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropped message to slow client",
			zap.String("connection_id", c.ID.String()))
	}
}

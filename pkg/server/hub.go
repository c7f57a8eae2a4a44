// Package server is the websocket transport: it upgrades connections,
// parses client intents and routes them into the game core, and fans
// core events back out to the session groups they concern.
package server

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/internal/auth"
	"github.com/dmatei/chess-server/pkg/events"
	"github.com/dmatei/chess-server/pkg/game"
	"github.com/dmatei/chess-server/pkg/matchmaking"
	"github.com/dmatei/chess-server/pkg/messages"
	"github.com/dmatei/chess-server/pkg/presence"
	"github.com/dmatei/chess-server/pkg/rules"
)

// lobbyRoom groups connections watching the pending-games list.
const lobbyRoom = "lobby"

// InboundHubMessage pairs a parsed client message with its sender.
type InboundHubMessage struct {
	Conn    *Connection
	Message messages.InboundMessage
}

// Hub routes between websocket connections and the game core. All
// intent handling runs on the hub goroutine; room membership is
// additionally guarded by roomsMu because core events arrive on
// publisher goroutines.
type Hub struct {
	connections map[*Connection]bool

	roomsMu sync.RWMutex
	rooms   map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection
	inbound    chan InboundHubMessage
	done       chan struct{}

	registry *game.Registry
	queue    *matchmaking.Queue
	tracker  *presence.Tracker
	verifier *auth.Verifier
	logger   *zap.Logger
}

// NewHub builds the hub and subscribes it to the core's async events:
// bot moves, clock expiries and forfeits all surface here.
func NewHub(
	registry *game.Registry,
	queue *matchmaking.Queue,
	tracker *presence.Tracker,
	verifier *auth.Verifier,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		rooms:       make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage, 64),
		done:        make(chan struct{}),
		registry:    registry,
		queue:       queue,
		tracker:     tracker,
		verifier:    verifier,
		logger:      logger,
	}

	publisher.Subscribe(events.EventBoardUpdated, h.onBoardUpdated)
	publisher.Subscribe(events.EventSessionOver, h.onSessionOver)
	publisher.Subscribe(events.EventPendingChanged, h.onPendingChanged)

	return h
}

// Register hands a new connection to the hub goroutine.
func (h *Hub) Register(c *Connection) {
	h.register <- c
}

// Unregister removes a connection; safe to call after shutdown.
func (h *Hub) Unregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run is the hub's main loop. It owns the connection table; everything
// that mutates it goes through these channels.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.connections[c] = true
			h.logger.Info("connection registered",
				zap.String("connection_id", c.ID.String()),
				zap.Bool("authenticated", c.UserID != ""))
			c.SendJSON(messages.OutboundMessage{
				Event: messages.EventConnected,
				Payload: messages.ConnectedPayload{
					ConnectionID:  c.ID.String(),
					PlayerID:      c.PlayerID,
					Authenticated: c.UserID != "",
				},
			})

		case c := <-h.unregister:
			if _, ok := h.connections[c]; !ok {
				continue
			}
			delete(h.connections, c)
			close(c.send)
			h.dropConnection(c)

		case in := <-h.inbound:
			h.handleMessage(in.Conn, in.Message)

		case <-h.done:
			for c := range h.connections {
				delete(h.connections, c)
				close(c.send)
			}
			return
		}
	}
}

// Shutdown stops the hub loop and closes every connection's outbound
// channel.
func (h *Hub) Shutdown() {
	close(h.done)
}

// dropConnection runs the leave protocol: abandon pending sessions,
// leave the queue, and open a disconnect grace window if the player was
// mid-game.
func (h *Hub) dropConnection(c *Connection) {
	h.leaveAllRooms(c)
	h.queue.Dequeue(c.PlayerID)
	h.registry.CleanupPending(c.PlayerID)

	if rec, ok := h.tracker.MarkDisconnected(c.PlayerID); ok {
		h.broadcastRoom(rec.SessionID, c, messages.OutboundMessage{
			Event:   messages.EventOpponentDisconnected,
			Payload: messages.OpponentPayload{GameID: rec.SessionID},
		})
	}

	h.logger.Info("connection unregistered",
		zap.String("connection_id", c.ID.String()))
}

func (h *Hub) handleMessage(c *Connection, msg messages.InboundMessage) {
	switch msg.Type {
	case messages.TypeInitGame:
		h.handleInitGame(c, msg.Payload)
	case messages.TypeJoinGame:
		h.handleJoinGame(c, msg.Payload)
	case messages.TypeMove:
		h.handleMove(c, msg.Payload)
	case messages.TypeResign:
		h.handleResign(c, msg.Payload)
	case messages.TypeDrawOffer:
		h.handleDrawOffer(c, msg.Payload)
	case messages.TypeDrawAccept:
		h.handleDrawAccept(c, msg.Payload)
	case messages.TypeDrawDecline:
		h.handleDrawDecline(c, msg.Payload)
	case messages.TypeGetPendingGames:
		h.handleGetPendingGames(c)
	case messages.TypeQuickPlay:
		h.handleQuickPlay(c, msg.Payload)
	case messages.TypeCancelQueue:
		h.queue.Dequeue(c.PlayerID)
	case messages.TypeSyncTime:
		h.handleSyncTime(c, msg.Payload)
	case messages.TypeRejoinGame:
		h.handleRejoinGame(c)
	default:
		h.logger.Debug("unknown message type", zap.String("type", msg.Type))
		h.sendError(c, "unknown message type")
	}
}

func (h *Hub) handleInitGame(c *Connection, raw json.RawMessage) {
	var p messages.InitGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "invalid payload")
		return
	}
	userID, ok := h.identityFor(c, p.Token)
	if !ok {
		return
	}

	view := h.registry.CreateSession(game.CreateParams{
		PlayerID:        c.PlayerID,
		UserID:          userID,
		DurationMinutes: p.TimeControl,
		RandomizeSide:   p.RandomizeSide,
		IsPrivate:       p.IsPrivate,
		IsBot:           p.IsBot,
		BotDifficulty:   p.BotDifficulty,
	})

	h.joinRoom(view.ID, c)
	c.SendJSON(messages.OutboundMessage{
		Event:   messages.EventGameCreated,
		Payload: gameStatePayload(view),
	})
}

func (h *Hub) handleJoinGame(c *Connection, raw json.RawMessage) {
	var p messages.JoinGamePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}
	userID, ok := h.identityFor(c, p.Token)
	if !ok {
		return
	}

	view, err := h.registry.JoinSession(p.GameID, c.PlayerID, userID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.joinRoom(view.ID, c)
	c.SendJSON(messages.OutboundMessage{
		Event:   messages.EventGameJoined,
		Payload: gameStatePayload(view),
	})
	h.broadcastRoom(view.ID, c, messages.OutboundMessage{
		Event: messages.EventOpponentJoined,
		Payload: messages.OpponentPayload{
			GameID:     view.ID,
			OpponentID: c.PlayerID,
		},
	})
}

func (h *Hub) handleMove(c *Connection, raw json.RawMessage) {
	var p messages.MovePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}

	outcome, err := h.registry.ApplyMove(p.GameID, c.PlayerID, rules.Move{
		From:      p.From,
		To:        p.To,
		Promotion: p.Promotion,
	})
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	// The terminal result, if any, is broadcast by the session-over
	// event; only the board update goes out here.
	h.broadcastRoom(outcome.GameID, nil, messages.OutboundMessage{
		Event:   messages.EventUpdateBoard,
		Payload: updateBoardPayload(outcome),
	})
}

func (h *Hub) handleResign(c *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}
	if err := h.registry.Resign(p.GameID, c.PlayerID); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) handleDrawOffer(c *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}
	side, err := h.registry.OfferDraw(p.GameID, c.PlayerID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.broadcastRoom(p.GameID, c, messages.OutboundMessage{
		Event:   messages.EventDrawOffer,
		Payload: messages.DrawOfferPayload{GameID: p.GameID, Side: side},
	})
}

func (h *Hub) handleDrawAccept(c *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}
	// The drawn result goes out via the session-over event.
	if err := h.registry.AcceptDraw(p.GameID, c.PlayerID); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) handleDrawDecline(c *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}
	if err := h.registry.DeclineDraw(p.GameID, c.PlayerID); err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.broadcastRoom(p.GameID, c, messages.OutboundMessage{
		Event:   messages.EventDrawDecline,
		Payload: messages.DrawOfferPayload{GameID: p.GameID},
	})
}

func (h *Hub) handleGetPendingGames(c *Connection) {
	h.joinRoom(lobbyRoom, c)
	c.SendJSON(messages.OutboundMessage{
		Event:   messages.EventPendingGamesUpdate,
		Payload: pendingGamesPayload(h.registry.PendingSessions()),
	})
}

func (h *Hub) handleQuickPlay(c *Connection, raw json.RawMessage) {
	var p messages.QuickPlayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "invalid payload")
		return
	}
	userID, ok := h.identityFor(c, p.Token)
	if !ok {
		return
	}

	res := h.queue.Enqueue(c.PlayerID, userID, c, p.TimeControl)
	if !res.Matched {
		return
	}

	h.joinRoom(res.SessionID, c)
	if oc, isConn := res.Opponent.(*Connection); isConn {
		h.joinRoom(res.SessionID, oc)
	}

	view, err := h.registry.ViewFor(res.SessionID, c.PlayerID)
	if err == nil {
		c.SendJSON(messages.OutboundMessage{
			Event:   messages.EventMatchFound,
			Payload: gameStatePayload(view),
		})
	}
	oppView, err := h.registry.ViewFor(res.SessionID, res.OpponentID)
	if err == nil {
		res.Opponent.SendJSON(messages.OutboundMessage{
			Event:   messages.EventMatchFound,
			Payload: gameStatePayload(oppView),
		})
	}
}

// handleSyncTime forces a flag check against current truth; clients ask
// for this when their local countdown hits zero before the server's
// timer fires.
func (h *Hub) handleSyncTime(c *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GameID == "" {
		h.sendError(c, "invalid payload")
		return
	}

	h.registry.CheckTimeout(p.GameID)

	clocks, err := h.registry.Clocks(p.GameID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	view, err := h.registry.ViewFor(p.GameID, c.PlayerID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.SendJSON(messages.OutboundMessage{
		Event: messages.EventUpdateBoard,
		Payload: messages.UpdateBoardPayload{
			GameID:  p.GameID,
			FEN:     view.FEN,
			Clocks:  toClocks(clocks),
			History: view.HistorySAN,
		},
	})
}

func (h *Hub) handleRejoinGame(c *Connection) {
	rec, ok := h.tracker.Reconnect(c.PlayerID)
	if !ok {
		h.sendError(c, "no active game to rejoin")
		return
	}

	h.joinRoom(rec.View.ID, c)
	c.SendJSON(messages.OutboundMessage{
		Event:   messages.EventGameJoined,
		Payload: gameStatePayload(rec.View),
	})
	h.broadcastRoom(rec.View.ID, c, messages.OutboundMessage{
		Event: messages.EventOpponentReconnected,
		Payload: messages.OpponentPayload{
			GameID:     rec.View.ID,
			OpponentID: c.PlayerID,
		},
	})
	if rec.OpponentDisconnected {
		c.SendJSON(messages.OutboundMessage{
			Event:   messages.EventOpponentDisconnected,
			Payload: messages.OpponentPayload{GameID: rec.View.ID},
		})
	}
}

// identityFor resolves an optional per-intent token. An unverifiable
// token rejects the intent; an absent one means the player stays a
// guest (or keeps the identity bound at connect time).
func (h *Hub) identityFor(c *Connection, token string) (string, bool) {
	if token == "" {
		return c.UserID, true
	}
	ident, err := h.verifier.Verify(token)
	if err != nil {
		h.sendError(c, "invalid token")
		return "", false
	}
	if c.UserID == "" {
		c.UserID = ident.UserID
	}
	return ident.UserID, true
}

// Core event fan-out. These run on publisher goroutines.

func (h *Hub) onBoardUpdated(e events.Event) {
	outcome, ok := e.Payload.(*game.MoveOutcome)
	if !ok {
		return
	}
	h.broadcastRoom(e.SessionID, nil, messages.OutboundMessage{
		Event:   messages.EventUpdateBoard,
		Payload: updateBoardPayload(outcome),
	})
}

func (h *Hub) onSessionOver(e events.Event) {
	info, ok := e.Payload.(game.OverInfo)
	if !ok {
		return
	}
	h.broadcastRoom(e.SessionID, nil, messages.OutboundMessage{
		Event:   messages.EventGameOver,
		Payload: gameOverPayload(info),
	})
	h.closeRoom(e.SessionID)
}

func (h *Hub) onPendingChanged(events.Event) {
	h.broadcastRoom(lobbyRoom, nil, messages.OutboundMessage{
		Event:   messages.EventPendingGamesUpdate,
		Payload: pendingGamesPayload(h.registry.PendingSessions()),
	})
}

// Room bookkeeping.

func (h *Hub) joinRoom(roomID string, c *Connection) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*Connection]bool)
		h.rooms[roomID] = room
	}
	room[c] = true
}

func (h *Hub) leaveAllRooms(c *Connection) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	for id, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

func (h *Hub) closeRoom(roomID string) {
	h.roomsMu.Lock()
	delete(h.rooms, roomID)
	h.roomsMu.Unlock()
}

// broadcastRoom sends msg to every member of the room except the
// excluded connection.
func (h *Hub) broadcastRoom(roomID string, except *Connection, msg messages.OutboundMessage) {
	h.roomsMu.RLock()
	members := make([]*Connection, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			members = append(members, c)
		}
	}
	h.roomsMu.RUnlock()

	for _, c := range members {
		c.SendJSON(msg)
	}
}

func (h *Hub) sendError(c *Connection, message string) {
	c.SendJSON(messages.OutboundMessage{
		Event:   messages.EventError,
		Payload: messages.ErrorPayload{Message: message},
	})
}

// Payload conversion between core facts and wire shapes.

func toClocks(cl game.Clocks) messages.Clocks {
	return messages.Clocks{White: cl.White, Black: cl.Black}
}

func gameStatePayload(v *game.View) messages.GameStatePayload {
	return messages.GameStatePayload{
		GameID:  v.ID,
		Side:    v.Side,
		FEN:     v.FEN,
		Clocks:  toClocks(v.Clocks),
		History: v.HistorySAN,
	}
}

func updateBoardPayload(o *game.MoveOutcome) messages.UpdateBoardPayload {
	p := messages.UpdateBoardPayload{
		GameID:  o.GameID,
		FEN:     o.FEN,
		Clocks:  toClocks(o.Clocks),
		History: o.HistorySAN,
	}
	if o.From != "" {
		p.LastMove = &messages.LastMove{From: o.From, To: o.To}
	}
	return p
}

func gameOverPayload(info game.OverInfo) messages.GameOverPayload {
	p := messages.GameOverPayload{
		GameID:  info.GameID,
		Winner:  info.Winner,
		Reason:  info.Reason,
		FEN:     info.FEN,
		History: info.HistorySAN,
	}
	if p.History == nil {
		p.History = []string{}
	}
	if info.From != "" {
		p.LastMove = &messages.LastMove{From: info.From, To: info.To}
	}
	return p
}

func pendingGamesPayload(pending []game.PendingGame) messages.PendingGamesPayload {
	games := make([]messages.PendingGame, 0, len(pending))
	for _, p := range pending {
		games = append(games, messages.PendingGame{
			GameID:      p.GameID,
			TimeControl: p.TimeControl,
		})
	}
	return messages.PendingGamesPayload{Games: games}
}

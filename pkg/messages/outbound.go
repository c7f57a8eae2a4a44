package messages

import "github.com/dmatei/chess-server/internal/color"

// OutboundMessage is how we wrap responses before sending them to the
// client.
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Outbound event names.
const (
	EventConnected            = "CONNECTED"
	EventGameCreated          = "GAME_CREATED"
	EventGameJoined           = "GAME_JOINED"
	EventOpponentJoined       = "OPPONENT_JOINED"
	EventUpdateBoard          = "UPDATE_BOARD"
	EventGameOver             = "GAME_OVER"
	EventDrawOffer            = "DRAW_OFFER"
	EventDrawDecline          = "DRAW_DECLINE"
	EventMatchFound           = "MATCH_FOUND"
	EventQueueTimeout         = "QUEUE_TIMEOUT"
	EventOpponentDisconnected = "OPPONENT_DISCONNECTED"
	EventOpponentReconnected  = "OPPONENT_RECONNECTED"
	EventPendingGamesUpdate   = "PENDING_GAMES_UPDATE"
	EventError                = "ERROR"
)

// ConnectedPayload acknowledges a new connection. Guests persist
// PlayerID and send it back as the player_id query parameter on their
// next connect to keep their seat.
type ConnectedPayload struct {
	ConnectionID  string `json:"connection_id"`
	PlayerID      string `json:"player_id"`
	Authenticated bool   `json:"authenticated"`
}

// Clocks carries remaining time per side in milliseconds.
type Clocks struct {
	White int64 `json:"w"`
	Black int64 `json:"b"`
}

// GameStatePayload is shared by GAME_CREATED, GAME_JOINED and
// MATCH_FOUND: everything a client needs to render a session.
type GameStatePayload struct {
	GameID  string      `json:"game_id"`
	Side    color.Color `json:"color"`
	FEN     string      `json:"fen"`
	Clocks  Clocks      `json:"time_remaining"`
	History []string    `json:"history"`
}

// LastMove echoes the squares of the move that produced an update.
type LastMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UpdateBoardPayload broadcasts a new position to a session's group.
type UpdateBoardPayload struct {
	GameID   string    `json:"game_id"`
	FEN      string    `json:"fen"`
	LastMove *LastMove `json:"last_move,omitempty"`
	Clocks   Clocks    `json:"time_remaining"`
	History  []string  `json:"history"`
}

// GameOverPayload broadcasts a terminal result. The final position,
// last move and full history ride along so clients need nothing beyond
// this message to render the finished game.
type GameOverPayload struct {
	GameID   string    `json:"game_id"`
	Winner   string    `json:"winner"` // "w", "b" or "draw"
	Reason   string    `json:"reason"`
	FEN      string    `json:"fen"`
	LastMove *LastMove `json:"last_move,omitempty"`
	History  []string  `json:"history"`
}

// DrawOfferPayload names the side with the outstanding offer.
type DrawOfferPayload struct {
	GameID string      `json:"game_id"`
	Side   color.Color `json:"color"`
}

// OpponentPayload identifies the opponent on join/reconnect events.
type OpponentPayload struct {
	GameID     string `json:"game_id"`
	OpponentID string `json:"opponent_id,omitempty"`
}

// PendingGame is one open seat in the lobby list.
type PendingGame struct {
	GameID      string `json:"game_id"`
	TimeControl int    `json:"time_control"` // minutes per side
}

// PendingGamesPayload is the lobby list of joinable sessions.
type PendingGamesPayload struct {
	Games []PendingGame `json:"games"`
}

// ErrorPayload reports a rejected intent to its sender only.
type ErrorPayload struct {
	Message string `json:"message"`
}

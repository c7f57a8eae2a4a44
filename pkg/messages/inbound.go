package messages

import "encoding/json"

// InboundMessage is the generic wrapper for messages coming from the
// client. The "type" field tells us the intent; "payload" is the data
// we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound intent names.
const (
	TypeInitGame        = "INIT_GAME"
	TypeJoinGame        = "JOIN_GAME"
	TypeMove            = "MOVE"
	TypeResign          = "RESIGN"
	TypeDrawOffer       = "DRAW_OFFER"
	TypeDrawAccept      = "DRAW_ACCEPT"
	TypeDrawDecline     = "DRAW_DECLINE"
	TypeGetPendingGames = "GET_PENDING_GAMES"
	TypeQuickPlay       = "QUICK_PLAY"
	TypeCancelQueue     = "CANCEL_QUEUE"
	TypeSyncTime        = "SYNC_TIME"
	TypeRejoinGame      = "REJOIN_GAME"
)

// InitGamePayload creates a new session.
type InitGamePayload struct {
	TimeControl   int    `json:"time_control"` // minutes per side
	RandomizeSide bool   `json:"randomize_side"`
	IsPrivate     bool   `json:"is_private"`
	IsBot         bool   `json:"is_bot"`
	BotDifficulty int    `json:"bot_difficulty"`
	Token         string `json:"token,omitempty"`
}

// JoinGamePayload fills the empty seat of an existing session.
type JoinGamePayload struct {
	GameID string `json:"game_id"`
	Token  string `json:"token,omitempty"`
}

// MovePayload submits a move in from/to/promotion form.
type MovePayload struct {
	GameID    string `json:"game_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// GameRefPayload covers the intents that only name a session: resign,
// draw offers and clock syncs.
type GameRefPayload struct {
	GameID string `json:"game_id"`
}

// QuickPlayPayload enters the matchmaking queue.
type QuickPlayPayload struct {
	TimeControl int    `json:"time_control"` // minutes per side
	Token       string `json:"token,omitempty"`
}

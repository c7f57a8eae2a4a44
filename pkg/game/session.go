// Package game is the authoritative core of the server: it owns every
// session, sequences all mutations against them, enforces the chess
// clocks and funnels every way a game can end through a single
// idempotent finish path.
package game

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/dmatei/chess-server/internal/color"
)

// Status is the lifecycle state of a session. Transitions only move
// forward: waiting -> active -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// BotPlayerID occupies the synthetic seat in bot games. The bot plays
// through the same move path as a human, under this id.
const BotPlayerID = "bot"

// Result is the terminal outcome of a finished session.
type Result struct {
	Winner string // "w", "b" or "draw"
	Reason string // checkmate, resignation, timeout, ...
}

// Session is one game's authoritative state. All fields are guarded by
// mu; only the Registry mutates a Session.
type Session struct {
	ID string

	Players map[color.Color]string // side -> player id, "" while the seat is empty
	UserIDs map[color.Color]string // side -> identity id for registered players

	Turn       color.Color
	FEN        string
	MovesUCI   []string
	HistorySAN []string

	InitialTimeMs int64
	TimeRemaining map[color.Color]int64 // milliseconds, never negative
	LastMoveAt    time.Time             // when the running side's clock was last charged

	IsPrivate     bool
	IsBot         bool
	BotDifficulty int

	Status    Status
	DrawOffer color.Color // side with the outstanding offer, "" when none
	Result    *Result

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	timer *time.Timer // armed deadline for the side to move

	mu sync.Mutex
}

// sideOf returns the side the player occupies, or "" when not seated.
func (s *Session) sideOf(playerID string) color.Color {
	if playerID == "" {
		return ""
	}
	if s.Players[color.White] == playerID {
		return color.White
	}
	if s.Players[color.Black] == playerID {
		return color.Black
	}
	return ""
}

// openSeat returns the first empty side, or "" when the session is full.
func (s *Session) openSeat() color.Color {
	if s.Players[color.White] == "" {
		return color.White
	}
	if s.Players[color.Black] == "" {
		return color.Black
	}
	return ""
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newGameID returns a short shareable session code.
func newGameID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-derived code; collisions are caught by
		// the registry on insert.
		n := time.Now().UnixNano()
		for i := range b {
			b[i] = idAlphabet[n%int64(len(idAlphabet))]
			n /= int64(len(idAlphabet))
		}
		return string(b)
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

// Clocks is a point-in-time reading of both remaining times.
type Clocks struct {
	White int64
	Black int64
}

// View is a read-only copy of the session facts a single player needs.
type View struct {
	ID                 string
	Side               color.Color
	OpponentID         string
	FEN                string
	Clocks             Clocks
	HistorySAN         []string
	Status             Status
	IsBot              bool
	TimeControlMinutes int
}

// MoveOutcome reports an accepted move.
type MoveOutcome struct {
	GameID     string
	FEN        string
	From, To   string
	HistorySAN []string
	Clocks     Clocks

	GameOver bool
	Winner   string
	Reason   string
}

// OverInfo reports a terminal result for broadcasting. It carries the
// final position in full: the room is torn down on this event, so any
// board update still in flight may never arrive.
type OverInfo struct {
	GameID     string
	Winner     string
	Reason     string
	FEN        string
	From, To   string // squares of the last move, empty for a moveless game
	HistorySAN []string
}

// PendingGame is one joinable session in the lobby list.
type PendingGame struct {
	GameID      string
	TimeControl int // minutes per side
}

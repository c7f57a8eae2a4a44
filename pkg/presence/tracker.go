// Package presence tracks disconnect grace periods. Dropping a socket
// does not pause the chess clock and does not end the game; it opens a
// window during which the player may return. Only when the window runs
// out is the session forfeited.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/internal/color"
	"github.com/dmatei/chess-server/pkg/events"
	"github.com/dmatei/chess-server/pkg/game"
)

// Record is one player's open grace window.
type Record struct {
	PlayerID       string
	SessionID      string
	Side           color.Color
	DisconnectedAt time.Time
}

// Tracker keeps the table of open grace windows. It performs no timers
// of its own; SweepExpired is invoked by an external scheduler.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record // keyed by player id

	registry *game.Registry
	logger   *zap.Logger
}

// NewTracker creates an empty tracker bound to the session registry.
// It subscribes to session-over events so a game ending while a player
// is away drops their record immediately instead of waiting for the
// sweep.
func NewTracker(registry *game.Registry, publisher *events.Publisher, logger *zap.Logger) *Tracker {
	t := &Tracker{
		records:  make(map[string]*Record),
		registry: registry,
		logger:   logger,
	}
	publisher.Subscribe(events.EventSessionOver, t.onSessionOver)
	return t
}

func (t *Tracker) onSessionOver(e events.Event) {
	t.mu.Lock()
	for id, rec := range t.records {
		if rec.SessionID == e.SessionID {
			delete(t.records, id)
		}
	}
	t.mu.Unlock()
}

// MarkDisconnected opens a grace window for the player if they are
// seated in an active, non-bot session. The session's clock keeps
// running; a disconnected player can still lose on time.
func (t *Tracker) MarkDisconnected(playerID string) (*Record, bool) {
	sessionID, side, isBot, ok := t.registry.ActiveSessionOf(playerID)
	if !ok || isBot {
		return nil, false
	}

	rec := &Record{
		PlayerID:       playerID,
		SessionID:      sessionID,
		Side:           side,
		DisconnectedAt: time.Now(),
	}

	t.mu.Lock()
	t.records[playerID] = rec
	t.mu.Unlock()

	t.logger.Info("player disconnected from active session",
		zap.String("player_id", playerID),
		zap.String("session_id", sessionID))

	return rec, true
}

// Reconnected is what a successful reconnect reports: the player's
// session facts and whether the opponent is currently gone too.
type Reconnected struct {
	View                 *game.View
	OpponentDisconnected bool
}

// Reconnect closes the player's grace window if their session is still
// live and re-arms the session clock from current truth (no time is
// granted back). A player with no record who still occupies an active
// seat — a same-tab reload — gets the same answer without consuming
// anything.
func (t *Tracker) Reconnect(playerID string) (*Reconnected, bool) {
	t.mu.Lock()
	rec, hasRecord := t.records[playerID]
	if hasRecord {
		delete(t.records, playerID)
	}
	t.mu.Unlock()

	sessionID := ""
	if hasRecord {
		sessionID = rec.SessionID
	} else {
		id, _, isBot, ok := t.registry.ActiveSessionOf(playerID)
		if !ok || isBot {
			return nil, false
		}
		sessionID = id
	}

	view, err := t.registry.ViewFor(sessionID, playerID)
	if err != nil || view.Status != game.StatusActive || view.Side == "" {
		return nil, false
	}

	t.registry.RearmClock(sessionID)

	t.mu.Lock()
	oppRec, oppGone := t.records[view.OpponentID]
	t.mu.Unlock()

	t.logger.Info("player reconnected",
		zap.String("player_id", playerID),
		zap.String("session_id", sessionID))

	return &Reconnected{
		View:                 view,
		OpponentDisconnected: oppGone && oppRec.SessionID == sessionID,
	}, true
}

// IsDisconnected reports whether the player has an open grace window.
func (t *Tracker) IsDisconnected(playerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[playerID]
	return ok
}

// SweepExpired forfeits every session whose player has been gone longer
// than the grace window. Sessions already settled by another path are
// skipped; the forfeit itself is idempotent-guarded in the registry.
func (t *Tracker) SweepExpired(grace time.Duration) {
	cutoff := time.Now().Add(-grace)

	t.mu.Lock()
	var expired []*Record
	for id, rec := range t.records {
		if rec.DisconnectedAt.Before(cutoff) {
			expired = append(expired, rec)
			delete(t.records, id)
		}
	}
	t.mu.Unlock()

	for _, rec := range expired {
		t.logger.Info("grace window expired",
			zap.String("player_id", rec.PlayerID),
			zap.String("session_id", rec.SessionID))
		t.registry.Forfeit(rec.SessionID, rec.Side.Opp(), "disconnection")
	}
}

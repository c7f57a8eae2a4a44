// Package matchmaking pairs waiting players by time control. The queue
// holds entries, not sessions; a match atomically consumes the waiting
// entry and creates the paired session, so two requesters can never
// both claim the same opponent.
package matchmaking

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/internal/color"
	"github.com/dmatei/chess-server/pkg/game"
)

// Recipient is the return address a queued player left behind, used to
// deliver MATCH_FOUND or a stale-queue notice.
type Recipient interface {
	SendJSON(v interface{})
}

// Entry is one waiting player.
type Entry struct {
	PlayerID    string
	UserID      string
	Recipient   Recipient
	TimeControl int // minutes per side
	EnqueuedAt  time.Time
}

// Result is what Enqueue returns. When Matched is false the requester
// is queued (or was a no-op duplicate) and waits.
type Result struct {
	Matched bool

	SessionID    string
	Side         color.Color // the requester's side
	OpponentSide color.Color
	OpponentID   string
	Opponent     Recipient
	TimeControl  int
}

// Queue is the matchmaking queue. It performs no timers of its own;
// SweepStale is invoked by an external scheduler.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry

	registry *game.Registry
	logger   *zap.Logger
}

// NewQueue creates an empty queue bound to the session registry.
func NewQueue(registry *game.Registry, logger *zap.Logger) *Queue {
	return &Queue{registry: registry, logger: logger}
}

// Enqueue either matches the player against the first compatible
// waiting entry or inserts a new entry. A player already queued, or
// already playing, is left as-is.
func (q *Queue) Enqueue(playerID, userID string, rcpt Recipient, timeControl int) Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(playerID) >= 0 || q.registry.HasActiveSession(playerID) {
		return Result{TimeControl: timeControl}
	}

	for i, e := range q.entries {
		if e.TimeControl != timeControl || e.PlayerID == playerID {
			continue
		}

		// Consume the waiting entry and create the session while the
		// queue lock is held; a concurrent Enqueue cannot see e again.
		q.entries = append(q.entries[:i], q.entries[i+1:]...)

		sessionID, waiterSide := q.registry.CreatePaired(
			e.PlayerID, e.UserID, playerID, userID, timeControl)

		q.logger.Info("matched players",
			zap.String("session_id", sessionID),
			zap.String("player_a", e.PlayerID),
			zap.String("player_b", playerID),
			zap.Int("time_control", timeControl))

		return Result{
			Matched:      true,
			SessionID:    sessionID,
			Side:         waiterSide.Opp(),
			OpponentSide: waiterSide,
			OpponentID:   e.PlayerID,
			Opponent:     e.Recipient,
			TimeControl:  timeControl,
		}
	}

	q.entries = append(q.entries, &Entry{
		PlayerID:    playerID,
		UserID:      userID,
		Recipient:   rcpt,
		TimeControl: timeControl,
		EnqueuedAt:  time.Now(),
	})
	return Result{TimeControl: timeControl}
}

// Dequeue removes the player's entry if present. Idempotent.
func (q *Queue) Dequeue(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(playerID)
	if i < 0 {
		return false
	}

	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}

// SweepStale removes entries older than maxAge and returns their
// recipients so the caller can notify them.
func (q *Queue) SweepStale(maxAge time.Duration) []Recipient {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []Recipient
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			expired = append(expired, e.Recipient)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept

	return expired
}

// Len reports the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) indexOf(playerID string) int {
	for i, e := range q.entries {
		if e.PlayerID == playerID {
			return i
		}
	}
	return -1
}

package game

import (
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/internal/color"
	"github.com/dmatei/chess-server/pkg/events"
)

// The clock model: each active session carries one armed timer set to
// exactly the side-to-move's remaining time. Every move boundary (and
// every reconnect) replaces the previous timer, so a session never has
// two pending deadlines. When a timer fires the remaining time is
// recomputed from the last charge timestamp before anything is
// finished, so a stale timer that lost the race against a move is a
// no-op.

// remainingLocked derives the side's remaining time at now, clamped at
// zero. Only the side to move is being charged.
func (s *Session) remainingLocked(side color.Color, now time.Time) int64 {
	remaining := s.TimeRemaining[side]
	if s.Status == StatusActive && s.Turn == side {
		remaining -= now.Sub(s.LastMoveAt).Milliseconds()
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// clocksLocked reads both clocks at now.
func (s *Session) clocksLocked(now time.Time) Clocks {
	return Clocks{
		White: s.remainingLocked(color.White, now),
		Black: s.remainingLocked(color.Black, now),
	}
}

// chargeElapsedLocked books the wall-clock time since the last charge
// against the side that just moved, clamped at zero.
func (s *Session) chargeElapsedLocked(now time.Time) {
	elapsed := now.Sub(s.LastMoveAt).Milliseconds()
	s.TimeRemaining[s.Turn] -= elapsed
	if s.TimeRemaining[s.Turn] < 0 {
		s.TimeRemaining[s.Turn] = 0
	}
	s.LastMoveAt = now
}

// armClockLocked replaces the session's pending deadline with one for
// the side currently to move.
func (r *Registry) armClockLocked(s *Session) {
	r.stopClockLocked(s)

	if s.Status != StatusActive {
		return
	}

	remaining := s.remainingLocked(s.Turn, time.Now())
	id := s.ID
	s.timer = time.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
		r.handleTimeout(id)
	})
}

// stopClockLocked cancels any pending deadline.
func (r *Registry) stopClockLocked(s *Session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// handleTimeout is the single flag-fall path, entered by the armed
// timer and by CheckTimeout alike.
func (r *Registry) handleTimeout(sessionID string) {
	s, ok := r.get(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusActive {
		// A move, resignation or disconnect forfeit won the race.
		r.logger.Debug("timer fired on settled session", zap.String("session_id", sessionID))
		return
	}

	// Recompute defensively: a timer armed before a reconnect or an
	// early CheckTimeout may fire while time is actually left.
	remaining := s.remainingLocked(s.Turn, time.Now())
	if remaining > 0 {
		r.armClockLocked(s)
		return
	}

	winner := string(s.Turn.Opp())
	r.finishLocked(s, winner, "timeout")
}

// CheckTimeout reconciles client-reported time with server truth. It
// re-derives the side-to-move's remaining time and, if it has reached
// zero, takes the same path an organic flag fall would.
func (r *Registry) CheckTimeout(sessionID string) {
	r.handleTimeout(sessionID)
}

// RearmClock resets the pending deadline from current truth, e.g. after
// a player reconnects. No extra time is granted.
func (r *Registry) RearmClock(sessionID string) {
	s, ok := r.get(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusActive {
		return
	}
	r.armClockLocked(s)
}

// SweepIdle reclaims sessions whose clock has not moved for the given
// window: waiting sessions are dropped, active ones are finished as
// abandoned. Invoked periodically by the main scheduler.
func (r *Registry) SweepIdle(window time.Duration) {
	cutoff := time.Now().Add(-window)

	r.mu.RLock()
	stale := make([]*Session, 0)
	for _, s := range r.sessions {
		stale = append(stale, s)
	}
	r.mu.RUnlock()

	changed := false
	for _, s := range stale {
		s.mu.Lock()
		switch {
		case s.Status == StatusWaiting && s.CreatedAt.Before(cutoff):
			s.mu.Unlock()
			r.remove(s.ID)
			changed = true
			continue
		case s.Status == StatusActive && s.LastMoveAt.Before(cutoff):
			r.finishLocked(s, "draw", "abandoned")
			r.logger.Info("reclaimed idle session", zap.String("session_id", s.ID))
		}
		s.mu.Unlock()
	}

	if changed {
		r.publisher.Publish(events.Event{Type: events.EventPendingChanged})
	}
}

package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/internal/color"
	"github.com/dmatei/chess-server/pkg/events"
	"github.com/dmatei/chess-server/pkg/rules"
	"github.com/dmatei/chess-server/pkg/store"
)

// Rejected intents. These are reported to the caller only; they carry
// no broadcast and change no state.
var (
	ErrNotFound     = errors.New("game not found")
	ErrFull         = errors.New("game full or invalid")
	ErrNotSeated    = errors.New("player not in game")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrTimeExpired  = errors.New("time out")
	ErrNotActive    = errors.New("game is not active")
	ErrDrawPending  = errors.New("opponent already offered a draw")
	ErrNoDrawOffer  = errors.New("no draw offer to respond to")
	ErrOwnDrawOffer = errors.New("cannot answer your own draw offer")
)

// OpponentDriver sequences the synthetic opponent's replies. The
// registry pokes it whenever a state change makes it the bot's turn.
type OpponentDriver interface {
	RequestMove(sessionID string)
}

// Registry owns the table of sessions. Operations on one session are
// serialized by the session's lock; operations on different sessions
// run in parallel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rules     *rules.Engine
	snapshots store.SnapshotStore
	stats     store.StatsStore
	publisher *events.Publisher
	logger    *zap.Logger

	driver OpponentDriver
}

// NewRegistry creates the session registry. It is constructed once at
// process start and injected wherever sessions are touched.
func NewRegistry(
	rulesEngine *rules.Engine,
	snapshots store.SnapshotStore,
	stats store.StatsStore,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		rules:     rulesEngine,
		snapshots: snapshots,
		stats:     stats,
		publisher: publisher,
		logger:    logger,
	}
}

// SetOpponentDriver wires the bot driver in after construction; the
// driver needs the registry to apply its moves, so the two cannot be
// built in one step.
func (r *Registry) SetOpponentDriver(d OpponentDriver) {
	r.driver = d
}

func (r *Registry) get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.mu.Lock()
		r.stopClockLocked(s)
		s.mu.Unlock()
		r.rules.Remove(id)
	}
}

// CreateParams are the knobs of a new session.
type CreateParams struct {
	PlayerID        string
	UserID          string
	DurationMinutes int
	RandomizeSide   bool
	IsPrivate       bool
	IsBot           bool
	BotDifficulty   int
}

// CreateSession creates a session with the creator seated on one side.
// It never fails: bad knobs are clamped to sane defaults. Bot games
// start active immediately; everything else waits for a join.
func (r *Registry) CreateSession(p CreateParams) *View {
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = 10
	}
	if p.BotDifficulty < 1 {
		p.BotDifficulty = 1
	}
	if p.BotDifficulty > 5 {
		p.BotDifficulty = 5
	}

	side := color.White
	if p.RandomizeSide && rand.Intn(2) == 0 {
		side = color.Black
	}

	durationMs := int64(p.DurationMinutes) * 60 * 1000
	now := time.Now()

	s := &Session{
		Players: map[color.Color]string{color.White: "", color.Black: ""},
		UserIDs: map[color.Color]string{},
		Turn:    color.White,
		TimeRemaining: map[color.Color]int64{
			color.White: durationMs,
			color.Black: durationMs,
		},
		InitialTimeMs: durationMs,
		LastMoveAt:    now,
		IsPrivate:     p.IsPrivate,
		IsBot:         p.IsBot,
		BotDifficulty: p.BotDifficulty,
		Status:        StatusWaiting,
		CreatedAt:     now,
	}
	s.Players[side] = p.PlayerID
	if p.UserID != "" {
		s.UserIDs[side] = p.UserID
	}
	if p.IsBot {
		s.Players[side.Opp()] = BotPlayerID
		s.Status = StatusActive
		s.StartedAt = now
	}

	// Insert under a fresh id; the code space is small enough that a
	// collision retry is worth having.
	r.mu.Lock()
	id := newGameID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = newGameID()
	}
	s.ID = id
	r.sessions[id] = s
	r.mu.Unlock()

	s.FEN = r.rules.StartGame(id)

	s.mu.Lock()
	if s.Status == StatusActive {
		r.armClockLocked(s)
	}
	view := r.viewLocked(s, side)
	snap := r.snapshotLocked(s)
	s.mu.Unlock()

	r.saveSnapshotAsync(snap)
	r.logger.Info("created session",
		zap.String("session_id", id),
		zap.String("player_id", p.PlayerID),
		zap.Bool("bot", p.IsBot))

	if !p.IsPrivate && !p.IsBot {
		r.publisher.Publish(events.Event{Type: events.EventPendingChanged})
	}

	// Bot seated as white opens the game.
	if p.IsBot && side == color.Black {
		r.requestBotMove(id)
	}

	return view
}

// CreatePaired creates an active session with both players seated, used
// by the matchmaking queue. Returns the session id and the side dealt
// to the first player; the second player holds the other side.
func (r *Registry) CreatePaired(firstID, firstUser, secondID, secondUser string, durationMinutes int) (string, color.Color) {
	if durationMinutes <= 0 {
		durationMinutes = 10
	}

	firstSide := color.White
	if rand.Intn(2) == 0 {
		firstSide = color.Black
	}

	durationMs := int64(durationMinutes) * 60 * 1000
	now := time.Now()

	s := &Session{
		Players: map[color.Color]string{
			firstSide:       firstID,
			firstSide.Opp(): secondID,
		},
		UserIDs: map[color.Color]string{},
		Turn:    color.White,
		TimeRemaining: map[color.Color]int64{
			color.White: durationMs,
			color.Black: durationMs,
		},
		InitialTimeMs: durationMs,
		LastMoveAt:    now,
		Status:        StatusActive,
		CreatedAt:     now,
		StartedAt:     now,
	}
	if firstUser != "" {
		s.UserIDs[firstSide] = firstUser
	}
	if secondUser != "" {
		s.UserIDs[firstSide.Opp()] = secondUser
	}

	r.mu.Lock()
	id := newGameID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = newGameID()
	}
	s.ID = id
	r.sessions[id] = s
	r.mu.Unlock()

	s.FEN = r.rules.StartGame(id)

	s.mu.Lock()
	r.armClockLocked(s)
	snap := r.snapshotLocked(s)
	s.mu.Unlock()

	r.saveSnapshotAsync(snap)
	r.logger.Info("created matched session",
		zap.String("session_id", id),
		zap.String("white", s.Players[color.White]),
		zap.String("black", s.Players[color.Black]))

	return id, firstSide
}

// JoinSession fills the first empty seat. Re-joining a side the player
// already occupies returns that side idempotently; joining a finished
// session returns the side the player held so the result can be viewed.
func (r *Registry) JoinSession(sessionID, playerID, userID string) (*View, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()

	if side := s.sideOf(playerID); side != "" {
		view := r.viewLocked(s, side)
		s.mu.Unlock()
		return view, nil
	}

	if s.Status == StatusFinished {
		s.mu.Unlock()
		return nil, ErrFull
	}

	seat := s.openSeat()
	if seat == "" {
		s.mu.Unlock()
		return nil, ErrFull
	}

	s.Players[seat] = playerID
	if userID != "" {
		s.UserIDs[seat] = userID
	}

	if s.openSeat() == "" && s.Status == StatusWaiting {
		s.Status = StatusActive
		s.StartedAt = time.Now()
		s.LastMoveAt = s.StartedAt
		r.armClockLocked(s)
	}

	view := r.viewLocked(s, seat)
	snap := r.snapshotLocked(s)
	s.mu.Unlock()

	r.saveSnapshotAsync(snap)
	r.logger.Info("player joined session",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.String("side", string(view.Side)))

	r.publisher.Publish(events.Event{Type: events.EventPendingChanged})

	return view, nil
}

// ApplyMove validates and applies a move for the given player. Both
// humans and the bot come through here; there is no privileged path.
func (r *Registry) ApplyMove(sessionID, playerID string, mv rules.Move) (*MoveOutcome, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()

	if s.Status != StatusActive {
		s.mu.Unlock()
		return nil, ErrNotActive
	}

	side := s.sideOf(playerID)
	if side == "" {
		s.mu.Unlock()
		return nil, ErrNotSeated
	}
	if s.Turn != side {
		s.mu.Unlock()
		return nil, ErrNotYourTurn
	}

	now := time.Now()
	if s.remainingLocked(side, now) <= 0 {
		// The armed timer settles the session; the move is only
		// rejected here.
		s.mu.Unlock()
		return nil, ErrTimeExpired
	}

	res, err := r.rules.ApplyMove(sessionID, mv)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.chargeElapsedLocked(now)
	s.FEN = res.FEN
	s.MovesUCI = append(s.MovesUCI, res.UCI)
	s.HistorySAN = append(s.HistorySAN, res.SAN)
	s.Turn = s.Turn.Opp()

	outcome := &MoveOutcome{
		GameID:     s.ID,
		FEN:        s.FEN,
		From:       mv.From,
		To:         mv.To,
		HistorySAN: append([]string(nil), s.HistorySAN...),
		Clocks:     s.clocksLocked(now),
	}

	botTurn := false
	if res.Terminal {
		r.finishLocked(s, res.Winner, res.Reason)
		outcome.GameOver = true
		outcome.Winner = res.Winner
		outcome.Reason = res.Reason
	} else {
		r.armClockLocked(s)
		botTurn = s.IsBot && s.Players[s.Turn] == BotPlayerID
	}

	snap := r.snapshotLocked(s)
	s.mu.Unlock()

	r.saveSnapshotAsync(snap)

	if botTurn {
		r.requestBotMove(sessionID)
	}

	return outcome, nil
}

// Resign finishes the session in the opponent's favor.
func (r *Registry) Resign(sessionID, playerID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	side := s.sideOf(playerID)
	if side == "" {
		return ErrNotSeated
	}
	if s.Status != StatusActive {
		return ErrNotActive
	}

	r.finishLocked(s, string(side.Opp()), "resignation")
	return nil
}

// OfferDraw records an outstanding draw offer for the player's side.
// Re-offering from the same side is idempotent; offering while the
// opponent's offer stands is rejected (accept it instead).
func (r *Registry) OfferDraw(sessionID, playerID string) (color.Color, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return "", ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	side := s.sideOf(playerID)
	if side == "" {
		return "", ErrNotSeated
	}
	if s.Status != StatusActive {
		return "", ErrNotActive
	}
	if s.DrawOffer == side.Opp() {
		return "", ErrDrawPending
	}

	s.DrawOffer = side
	return side, nil
}

// AcceptDraw finishes the session as drawn. Only the side that did not
// offer may accept.
func (r *Registry) AcceptDraw(sessionID, playerID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	side := s.sideOf(playerID)
	if side == "" {
		return ErrNotSeated
	}
	if s.Status != StatusActive {
		return ErrNotActive
	}
	if s.DrawOffer == "" {
		return ErrNoDrawOffer
	}
	if s.DrawOffer == side {
		return ErrOwnDrawOffer
	}

	r.finishLocked(s, "draw", "mutual agreement")
	return nil
}

// DeclineDraw clears the outstanding offer without other side effects.
func (r *Registry) DeclineDraw(sessionID, playerID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	side := s.sideOf(playerID)
	if side == "" {
		return ErrNotSeated
	}
	if s.DrawOffer == "" {
		return ErrNoDrawOffer
	}
	if s.DrawOffer == side {
		return ErrOwnDrawOffer
	}

	s.DrawOffer = ""
	return nil
}

// Forfeit finishes an active session in winner's favor, e.g. when the
// other player's disconnect grace window runs out. A session already
// settled by another path is left untouched.
func (r *Registry) Forfeit(sessionID string, winner color.Color, reason string) {
	s, ok := r.get(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusActive {
		return
	}
	r.finishLocked(s, string(winner), reason)
}

// finishLocked is the single terminal transition. Every way a session
// can end funnels through here; the first caller wins and all later
// triggers are silently absorbed.
func (r *Registry) finishLocked(s *Session, winner, reason string) {
	if s.Status == StatusFinished {
		r.logger.Debug("session already finished",
			zap.String("session_id", s.ID),
			zap.String("late_reason", reason))
		return
	}

	s.Status = StatusFinished
	s.Result = &Result{Winner: winner, Reason: reason}
	s.FinishedAt = time.Now()
	s.DrawOffer = ""
	r.stopClockLocked(s)
	r.rules.Remove(s.ID)

	r.logger.Info("session finished",
		zap.String("session_id", s.ID),
		zap.String("winner", winner),
		zap.String("reason", reason))

	snap := r.snapshotLocked(s)
	whiteUser := s.UserIDs[color.White]
	blackUser := s.UserIDs[color.Black]

	r.saveSnapshotAsync(snap)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.stats.RecordResult(ctx, whiteUser, blackUser, winner); err != nil {
			r.logger.Error("stats update failed", zap.String("session_id", snap.GameID), zap.Error(err))
		}
	}()

	from, to := "", ""
	if n := len(s.MovesUCI); n > 0 {
		last := s.MovesUCI[n-1]
		from, to = last[:2], last[2:4]
	}
	r.publisher.Publish(events.Event{
		Type:      events.EventSessionOver,
		SessionID: s.ID,
		Payload: OverInfo{
			GameID:     s.ID,
			Winner:     winner,
			Reason:     reason,
			FEN:        s.FEN,
			From:       from,
			To:         to,
			HistorySAN: append([]string(nil), s.HistorySAN...),
		},
	})
}

// PendingSessions lists open, public sessions still waiting for an
// opponent.
func (r *Registry) PendingSessions() []PendingGame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PendingGame, 0)
	for _, s := range r.sessions {
		s.mu.Lock()
		if s.Status == StatusWaiting && !s.IsPrivate {
			out = append(out, PendingGame{
				GameID:      s.ID,
				TimeControl: int(s.InitialTimeMs / (60 * 1000)),
			})
		}
		s.mu.Unlock()
	}
	return out
}

// CleanupPending removes sessions stuck waiting whose sole occupant
// just left. Reports whether anything was removed.
func (r *Registry) CleanupPending(playerID string) bool {
	r.mu.RLock()
	var target string
	for id, s := range r.sessions {
		s.mu.Lock()
		if s.Status == StatusWaiting && s.sideOf(playerID) != "" {
			target = id
		}
		s.mu.Unlock()
		if target != "" {
			break
		}
	}
	r.mu.RUnlock()

	if target == "" {
		return false
	}

	r.remove(target)
	r.logger.Info("cleaned up pending session",
		zap.String("session_id", target),
		zap.String("player_id", playerID))
	r.publisher.Publish(events.Event{Type: events.EventPendingChanged})
	return true
}

// ActiveSessionOf finds the active session the player is seated in.
func (r *Registry) ActiveSessionOf(playerID string) (sessionID string, side color.Color, isBot bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.sessions {
		s.mu.Lock()
		if s.Status == StatusActive {
			if sd := s.sideOf(playerID); sd != "" {
				side = sd
				sessionID = id
				isBot = s.IsBot
				ok = true
			}
		}
		s.mu.Unlock()
		if ok {
			return
		}
	}
	return
}

// HasActiveSession reports whether the player is seated in any active
// session.
func (r *Registry) HasActiveSession(playerID string) bool {
	_, _, _, ok := r.ActiveSessionOf(playerID)
	return ok
}

// ViewFor returns the session facts from the given player's seat. The
// side is empty when the player is not seated.
func (r *Registry) ViewFor(sessionID, playerID string) (*View, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return r.viewLocked(s, s.sideOf(playerID)), nil
}

// BotTurnFacts reports whether it is currently the bot's move in the
// session, along with what the bot needs to pick one.
func (r *Registry) BotTurnFacts(sessionID string) (fen string, difficulty int, ok bool) {
	s, found := r.get(sessionID)
	if !found {
		return "", 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusActive || !s.IsBot || s.Players[s.Turn] != BotPlayerID {
		return "", 0, false
	}
	return s.FEN, s.BotDifficulty, true
}

// Clocks reads both clocks of a session.
func (r *Registry) Clocks(sessionID string) (Clocks, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return Clocks{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocksLocked(time.Now()), nil
}

func (r *Registry) requestBotMove(sessionID string) {
	if r.driver != nil {
		r.driver.RequestMove(sessionID)
	}
}

func (r *Registry) viewLocked(s *Session, side color.Color) *View {
	opponent := ""
	if side != "" {
		opponent = s.Players[side.Opp()]
	}

	return &View{
		ID:                 s.ID,
		Side:               side,
		OpponentID:         opponent,
		FEN:                s.FEN,
		Clocks:             s.clocksLocked(time.Now()),
		HistorySAN:         append([]string(nil), s.HistorySAN...),
		Status:             s.Status,
		IsBot:              s.IsBot,
		TimeControlMinutes: int(s.InitialTimeMs / (60 * 1000)),
	}
}

const storeTimeout = 5 * time.Second

func (r *Registry) snapshotLocked(s *Session) *store.Snapshot {
	snap := &store.Snapshot{
		GameID: s.ID,
		Players: map[string]string{
			"w": s.Players[color.White],
			"b": s.Players[color.Black],
		},
		UserIDs: map[string]string{
			"w": s.UserIDs[color.White],
			"b": s.UserIDs[color.Black],
		},
		FEN:           s.FEN,
		MovesUCI:      append([]string(nil), s.MovesUCI...),
		MovesSAN:      append([]string(nil), s.HistorySAN...),
		InitialTimeMs: s.InitialTimeMs,
		TimeRemaining: map[string]int64{
			"w": s.TimeRemaining[color.White],
			"b": s.TimeRemaining[color.Black],
		},
		IsBot:         s.IsBot,
		BotDifficulty: s.BotDifficulty,
		IsPrivate:     s.IsPrivate,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
	}
	if s.Result != nil {
		snap.Winner = s.Result.Winner
		snap.Reason = s.Result.Reason
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		snap.StartedAt = &t
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		snap.EndedAt = &t
	}
	return snap
}

func (r *Registry) saveSnapshotAsync(snap *store.Snapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.snapshots.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Error("snapshot save failed", zap.String("session_id", snap.GameID), zap.Error(err))
		}
	}()
}

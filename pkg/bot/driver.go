// Package bot sequences the synthetic opponent. After any state change
// that puts the bot on move, the driver asynchronously asks the
// evaluator for a reply and plays it through the same move path a human
// uses; there is no privileged bypass of move legality.
package bot

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/pkg/engine"
	"github.com/dmatei/chess-server/pkg/events"
	"github.com/dmatei/chess-server/pkg/game"
	"github.com/dmatei/chess-server/pkg/rules"
)

const (
	minThinkingDelay = 500 * time.Millisecond
	maxThinkingDelay = 1500 * time.Millisecond

	searchTimeout = 30 * time.Second
)

// depthByLevel maps configured difficulty (1..5) to search depth.
var depthByLevel = [5]int{1, 3, 5, 8, 12}

// Knobs are the two correlated handicaps the evaluator accepts.
type Knobs struct {
	Skill int // 0..20
	Depth int
}

// KnobsForLevel maps a difficulty level (1..5) to evaluator knobs; both
// rise with the level.
func KnobsForLevel(level int) Knobs {
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}

	return Knobs{
		Skill: (level - 1) * 5,
		Depth: depthByLevel[level-1],
	}
}

// Driver implements game.OpponentDriver.
type Driver struct {
	registry  *game.Registry
	evaluator engine.Evaluator
	publisher *events.Publisher
	logger    *zap.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// NewDriver creates the opponent driver.
func NewDriver(
	registry *game.Registry,
	evaluator engine.Evaluator,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Driver {
	return &Driver{
		registry:  registry,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger,
		minDelay:  minThinkingDelay,
		maxDelay:  maxThinkingDelay,
	}
}

// SetThinkingDelay overrides the simulated thinking window. Tests use
// this to avoid waiting.
func (d *Driver) SetThinkingDelay(min, max time.Duration) {
	d.minDelay = min
	d.maxDelay = max
}

// RequestMove schedules one bot reply for the session. If the session
// has moved on by the time the evaluator answers, the reply is
// discarded.
func (d *Driver) RequestMove(sessionID string) {
	go d.play(sessionID)
}

func (d *Driver) play(sessionID string) {
	// A short randomized pause feels natural and keeps an instant
	// evaluator from tight-looping the session.
	delay := d.minDelay
	if d.maxDelay > d.minDelay {
		delay += time.Duration(rand.Int63n(int64(d.maxDelay - d.minDelay)))
	}
	time.Sleep(delay)

	fen, difficulty, ok := d.registry.BotTurnFacts(sessionID)
	if !ok {
		// Finished, forfeited or no longer the bot's move.
		return
	}

	knobs := KnobsForLevel(difficulty)

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	uci, err := d.evaluator.BestMove(ctx, fen, knobs.Skill, knobs.Depth)
	if err != nil {
		// The bot simply does not move this cycle; the session stays
		// playable and a later trigger can unstick it.
		d.logger.Error("evaluator failed, skipping bot move",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	mv, err := moveFromUCI(uci)
	if err != nil {
		d.logger.Error("evaluator returned unusable move",
			zap.String("session_id", sessionID),
			zap.String("move", uci))
		return
	}

	outcome, err := d.registry.ApplyMove(sessionID, game.BotPlayerID, mv)
	if err != nil {
		if errors.Is(err, game.ErrNotActive) || errors.Is(err, game.ErrNotYourTurn) || errors.Is(err, game.ErrNotFound) {
			// The session settled while we were thinking.
			d.logger.Debug("discarded stale bot move",
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}
		d.logger.Error("bot move rejected",
			zap.String("session_id", sessionID),
			zap.String("move", uci),
			zap.Error(err))
		return
	}

	d.publisher.Publish(events.Event{
		Type:      events.EventBoardUpdated,
		SessionID: sessionID,
		Payload:   outcome,
	})
}

var errBadUCIMove = errors.New("bad uci move")

func moveFromUCI(uci string) (rules.Move, error) {
	if len(uci) < 4 || len(uci) > 5 {
		return rules.Move{}, errBadUCIMove
	}

	mv := rules.Move{From: uci[0:2], To: uci[2:4]}
	if len(uci) == 5 {
		mv.Promotion = uci[4:5]
	}
	return mv, nil
}

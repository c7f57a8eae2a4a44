// Package analysis grades finished games: every position of the stored
// move log is evaluated and each move classified by how much evaluation
// it gave away.
package analysis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/pkg/engine"
	"github.com/dmatei/chess-server/pkg/rules"
	"github.com/dmatei/chess-server/pkg/store"
)

// ErrGameNotFound is returned when no snapshot exists for the game.
var ErrGameNotFound = errors.New("game not found")

// ErrNotFinished is returned when the game is still being played.
var ErrNotFinished = errors.New("game not finished")

const analysisDepth = 12

// Analyzer replays stored games through the evaluator.
type Analyzer struct {
	evaluator engine.Evaluator
	snapshots store.SnapshotStore
	logger    *zap.Logger
}

// NewAnalyzer creates an analyzer over the given evaluator and store.
func NewAnalyzer(evaluator engine.Evaluator, snapshots store.SnapshotStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{evaluator: evaluator, snapshots: snapshots, logger: logger}
}

// Analyze grades the stored game, persisting and returning the result.
// A game analyzed before returns the stored grading unchanged.
func (a *Analyzer) Analyze(ctx context.Context, gameID string) (*store.Analysis, error) {
	if existing, err := a.snapshots.LoadAnalysis(ctx, gameID); err == nil && existing != nil {
		return existing, nil
	}

	snap, err := a.snapshots.LoadSnapshot(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrGameNotFound
	}
	if snap.Status != "finished" {
		return nil, ErrNotFinished
	}

	fens, err := rules.ReplayFENs(snap.MovesUCI)
	if err != nil {
		return nil, err
	}

	result := &store.Analysis{GameID: gameID}
	prevEval := 0
	for i, fen := range fens {
		res, err := a.evaluator.Evaluate(ctx, fen, analysisDepth)
		if err != nil {
			return nil, err
		}

		ev := store.MoveEvaluation{
			MoveIndex:    i,
			FEN:          fen,
			EvaluationCP: res.ScoreCP,
			BestMove:     res.BestMove,
		}
		if i > 0 {
			ev.Classification = Classify(prevEval, res.ScoreCP, moverIsBlack(i))
		}
		result.Evaluations = append(result.Evaluations, ev)

		prevEval = res.ScoreCP
	}

	result.AnalyzedAt = time.Now()
	if err := a.snapshots.SaveAnalysis(ctx, result); err != nil {
		a.logger.Error("failed to persist analysis",
			zap.String("game_id", gameID),
			zap.Error(err))
	}

	a.logger.Info("game analyzed",
		zap.String("game_id", gameID),
		zap.Int("positions", len(result.Evaluations)))

	return result, nil
}

// Stored returns the persisted grading without computing one.
func (a *Analyzer) Stored(ctx context.Context, gameID string) (*store.Analysis, error) {
	res, err := a.snapshots.LoadAnalysis(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrGameNotFound
	}
	return res, nil
}

// moverIsBlack reports whether move i (1-based over the log) was played
// by black.
func moverIsBlack(i int) bool {
	return i%2 == 0
}

// Classify labels one move by the evaluation swing it caused. Scores
// come from white's view; they are flipped to the mover's view before
// comparing, so giving away 300+ centipawns is a blunder for either
// side.
func Classify(prevCP, currentCP int, moverIsBlack bool) string {
	prev, cur := prevCP, currentCP
	if moverIsBlack {
		prev, cur = -prev, -cur
	}

	drop := prev - cur
	switch {
	case drop > 300:
		return "blunder"
	case drop > 150:
		return "mistake"
	case drop > 50:
		return "inaccuracy"
	case drop < -100:
		return "brilliant"
	case drop < -50:
		return "great"
	case drop < -10:
		return "good"
	default:
		return "book"
	}
}

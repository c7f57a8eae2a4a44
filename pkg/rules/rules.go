// Package rules is the move-legality collaborator. It owns one board
// instance per session, validates and applies candidate moves, and
// reports terminal verdicts. The game core never re-derives chess rules
// on its own.
package rules

import (
	"errors"
	"strings"
	"sync"

	"github.com/corentings/chess/v2"

	"github.com/dmatei/chess-server/internal/color"
)

// ErrIllegalMove is returned when a candidate move is not legal in the
// current position.
var ErrIllegalMove = errors.New("illegal move")

// ErrUnknownGame is returned when no board exists for the session.
var ErrUnknownGame = errors.New("unknown game")

// Move is a candidate move in from/to/promotion form as clients send it.
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move in UCI form, e.g. "e2e4" or "e7e8q".
func (m Move) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

// Result describes an accepted move: the new position fingerprint and,
// when the move ended the game, the verdict.
type Result struct {
	FEN string
	SAN string
	UCI string

	Terminal bool
	Winner   string // "w", "b" or "draw" when Terminal
	Reason   string // checkmate, stalemate, insufficient material, ...
}

// Winner values a terminal verdict may carry.
const (
	WinnerWhite = "w"
	WinnerBlack = "b"
	WinnerDraw  = "draw"
)

// Engine keeps the live board for every session. All methods are safe
// for concurrent use.
type Engine struct {
	mu     sync.Mutex
	boards map[string]*chess.Game
}

// NewEngine creates an empty rules engine.
func NewEngine() *Engine {
	return &Engine{boards: make(map[string]*chess.Game)}
}

// StartGame allocates a fresh board for the session and returns the
// starting position fingerprint.
func (e *Engine) StartGame(sessionID string) string {
	g := chess.NewGame()

	e.mu.Lock()
	e.boards[sessionID] = g
	e.mu.Unlock()

	return g.FEN()
}

// ReplayFENs replays a UCI move log on a fresh board and returns the
// position fingerprint before any move and after each one. Used for
// post-game grading.
func ReplayFENs(movesUCI []string) ([]string, error) {
	g := chess.NewGame()
	fens := make([]string, 0, len(movesUCI)+1)
	fens = append(fens, g.FEN())

	for _, raw := range movesUCI {
		mv, err := chess.UCINotation{}.Decode(g.Position(), strings.ToLower(raw))
		if err != nil {
			return nil, ErrIllegalMove
		}
		if err := g.Move(mv, nil); err != nil {
			return nil, ErrIllegalMove
		}
		fens = append(fens, g.FEN())
	}

	return fens, nil
}

// Remove drops the board for a session.
func (e *Engine) Remove(sessionID string) {
	e.mu.Lock()
	delete(e.boards, sessionID)
	e.mu.Unlock()
}

// ApplyMove validates the candidate move against the session's board,
// applies it and reports the outcome.
func (e *Engine) ApplyMove(sessionID string, candidate Move) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.boards[sessionID]
	if !ok {
		return Result{}, ErrUnknownGame
	}

	pos := g.Position()
	mv, err := chess.UCINotation{}.Decode(pos, candidate.UCI())
	if err != nil {
		return Result{}, ErrIllegalMove
	}
	if err := g.Move(mv, nil); err != nil {
		return Result{}, ErrIllegalMove
	}

	res := Result{
		FEN: g.FEN(),
		SAN: chess.AlgebraicNotation{}.Encode(pos, mv),
		UCI: mv.String(),
	}

	// Repetition and fifty-move draws are claimable, not automatic.
	// Claim them on the players' behalf so the game ends immediately.
	for _, m := range g.EligibleDraws() {
		if m == chess.ThreefoldRepetition || m == chess.FiftyMoveRule {
			_ = g.Draw(m)
			break
		}
	}

	if outcome := g.Outcome(); outcome != chess.NoOutcome {
		res.Terminal = true
		res.Winner, res.Reason = verdict(outcome, g.Method())
	}

	return res, nil
}

// Turn reports the side to move on the session's board.
func (e *Engine) Turn(sessionID string) (color.Color, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.boards[sessionID]
	if !ok {
		return "", ErrUnknownGame
	}

	if g.Position().Turn() == chess.White {
		return color.White, nil
	}
	return color.Black, nil
}

// FEN reports the current position fingerprint for the session.
func (e *Engine) FEN(sessionID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.boards[sessionID]
	if !ok {
		return "", ErrUnknownGame
	}

	return g.FEN(), nil
}

func verdict(outcome chess.Outcome, method chess.Method) (string, string) {
	winner := WinnerDraw
	if outcome == chess.WhiteWon {
		winner = WinnerWhite
	} else if outcome == chess.BlackWon {
		winner = WinnerBlack
	}

	var reason string
	switch method {
	case chess.Checkmate:
		reason = "checkmate"
	case chess.Stalemate:
		reason = "stalemate"
	case chess.InsufficientMaterial:
		reason = "insufficient material"
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		reason = "threefold repetition"
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		reason = "fifty-move rule"
	default:
		reason = "draw"
	}

	return winner, reason
}

package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGameReturnsStartingPosition(t *testing.T) {
	e := NewEngine()
	fen := e.StartGame("g1")
	assert.True(t, strings.HasPrefix(fen, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w"))
}

func TestApplyMoveLegal(t *testing.T) {
	e := NewEngine()
	e.StartGame("g1")

	res, err := e.ApplyMove("g1", Move{From: "e2", To: "e4"})
	require.NoError(t, err)
	assert.Equal(t, "e4", res.SAN)
	assert.Equal(t, "e2e4", res.UCI)
	assert.False(t, res.Terminal)
	assert.Contains(t, res.FEN, " b ")

	turn, err := e.Turn("g1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(turn))

	fen, err := e.FEN("g1")
	require.NoError(t, err)
	assert.Equal(t, res.FEN, fen)
}

func TestApplyMoveIllegal(t *testing.T) {
	e := NewEngine()
	e.StartGame("g1")

	_, err := e.ApplyMove("g1", Move{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)

	// Moving out of turn is just as illegal.
	_, err = e.ApplyMove("g1", Move{From: "e7", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestApplyMoveUnknownGame(t *testing.T) {
	e := NewEngine()
	_, err := e.ApplyMove("nope", Move{From: "e2", To: "e4"})
	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestFoolsMateVerdict(t *testing.T) {
	e := NewEngine()
	e.StartGame("g1")

	moves := []Move{
		{From: "f2", To: "f3"},
		{From: "e7", To: "e5"},
		{From: "g2", To: "g4"},
		{From: "d8", To: "h4"},
	}

	var last Result
	for _, mv := range moves {
		res, err := e.ApplyMove("g1", mv)
		require.NoError(t, err, "move %s", mv.UCI())
		last = res
	}

	assert.True(t, last.Terminal)
	assert.Equal(t, WinnerBlack, last.Winner)
	assert.Equal(t, "checkmate", last.Reason)
}

func TestPromotionMove(t *testing.T) {
	e := NewEngine()
	e.StartGame("g1")

	setup := []Move{
		{From: "e2", To: "e4"}, {From: "f7", To: "f5"},
		{From: "e4", To: "f5"}, {From: "g7", To: "g6"},
		{From: "f5", To: "g6"}, {From: "g8", To: "f6"},
		{From: "g6", To: "g7"}, {From: "f6", To: "g8"},
	}
	for _, mv := range setup {
		_, err := e.ApplyMove("g1", mv)
		require.NoError(t, err, "setup move %s", mv.UCI())
	}

	res, err := e.ApplyMove("g1", Move{From: "g7", To: "h8", Promotion: "q"})
	require.NoError(t, err)
	assert.Equal(t, "g7h8q", res.UCI)
}

func TestReplayFENsRejectsBadLog(t *testing.T) {
	_, err := ReplayFENs([]string{"e2e4", "e2e4"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestReplayFENs(t *testing.T) {
	fens, err := ReplayFENs([]string{"e2e4", "e7e5"})
	require.NoError(t, err)
	require.Len(t, fens, 3)
	assert.Contains(t, fens[0], " w ")
	assert.Contains(t, fens[1], " b ")
	assert.Contains(t, fens[2], " w ")
}

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	rs, mr := newTestRedis(t)

	started := time.Now().Truncate(time.Second)
	snap := &Snapshot{
		GameID:        "abc123",
		Players:       map[string]string{"w": "p1", "b": "bot"},
		UserIDs:       map[string]string{"w": "u1"},
		FEN:           "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		MovesUCI:      []string{"e2e4"},
		MovesSAN:      []string{"e4"},
		InitialTimeMs: 600000,
		TimeRemaining: map[string]int64{"w": 597250, "b": 600000},
		IsBot:         true,
		BotDifficulty: 3,
		Status:        "active",
		CreatedAt:     started,
		StartedAt:     &started,
	}

	require.NoError(t, rs.SaveSnapshot(ctx, snap))

	loaded, err := rs.LoadSnapshot(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.GameID, loaded.GameID)
	assert.Equal(t, snap.Players, loaded.Players)
	assert.Equal(t, snap.MovesUCI, loaded.MovesUCI)
	assert.Equal(t, int64(597250), loaded.TimeRemaining["w"])
	assert.Equal(t, 3, loaded.BotDifficulty)

	// Overwrites replace the previous blob.
	snap.Status = "finished"
	snap.Winner = "w"
	snap.Reason = "resignation"
	require.NoError(t, rs.SaveSnapshot(ctx, snap))

	loaded, err = rs.LoadSnapshot(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "finished", loaded.Status)
	assert.Equal(t, "w", loaded.Winner)

	// Snapshots expire instead of accumulating forever.
	assert.Greater(t, mr.TTL("game:abc123"), time.Duration(0))
}

func TestLoadSnapshotAbsent(t *testing.T) {
	rs, _ := newTestRedis(t)

	snap, err := rs.LoadSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAnalysisRoundTrip(t *testing.T) {
	ctx := context.Background()
	rs, _ := newTestRedis(t)

	a := &Analysis{
		GameID: "abc123",
		Evaluations: []MoveEvaluation{
			{MoveIndex: 0, FEN: "start", EvaluationCP: 20, BestMove: "e2e4"},
			{MoveIndex: 1, FEN: "after", EvaluationCP: -40, BestMove: "d7d5", Classification: "inaccuracy"},
		},
		AnalyzedAt: time.Now(),
	}

	require.NoError(t, rs.SaveAnalysis(ctx, a))

	loaded, err := rs.LoadAnalysis(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Evaluations, 2)
	assert.Equal(t, "inaccuracy", loaded.Evaluations[1].Classification)

	absent, err := rs.LoadAnalysis(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

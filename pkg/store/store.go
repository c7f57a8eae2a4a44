// Package store persists session snapshots and user statistics. Every
// write is best-effort: callers log failures and move on, the game core
// never blocks on the store.
package store

import (
	"context"
	"time"
)

// Snapshot mirrors the in-memory session plus a move log suitable for
// replay and post-hoc grading.
type Snapshot struct {
	GameID string `json:"game_id"`

	Players map[string]string `json:"players"`  // side -> player id
	UserIDs map[string]string `json:"user_ids"` // side -> identity id

	FEN      string   `json:"fen"`
	MovesUCI []string `json:"moves_uci"`
	MovesSAN []string `json:"moves_san"`

	InitialTimeMs int64            `json:"initial_time_ms"`
	TimeRemaining map[string]int64 `json:"time_remaining"`

	IsBot         bool `json:"is_bot"`
	BotDifficulty int  `json:"bot_difficulty,omitempty"`
	IsPrivate     bool `json:"is_private"`

	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// MoveEvaluation grades one position of a finished game.
type MoveEvaluation struct {
	MoveIndex      int    `json:"move_index"`
	FEN            string `json:"fen"`
	EvaluationCP   int    `json:"evaluation_cp"`
	BestMove       string `json:"best_move"`
	Classification string `json:"classification,omitempty"`
}

// Analysis is the post-game grading of a full move log.
type Analysis struct {
	GameID      string           `json:"game_id"`
	Evaluations []MoveEvaluation `json:"evaluations"`
	AnalyzedAt  time.Time        `json:"analyzed_at"`
}

// SnapshotStore persists session snapshots and their analyses.
// Load methods return (nil, nil) when nothing is stored.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, gameID string) (*Snapshot, error)
	SaveAnalysis(ctx context.Context, a *Analysis) error
	LoadAnalysis(ctx context.Context, gameID string) (*Analysis, error)
}

// StatsStore updates per-user aggregates when a session finishes.
// winner is "w", "b" or "draw"; empty user ids are skipped.
type StatsStore interface {
	RecordResult(ctx context.Context, whiteUserID, blackUserID, winner string) error
}

// NoopSnapshots is used when no snapshot backend is configured.
type NoopSnapshots struct{}

func (NoopSnapshots) SaveSnapshot(context.Context, *Snapshot) error { return nil }
func (NoopSnapshots) LoadSnapshot(context.Context, string) (*Snapshot, error) {
	return nil, nil
}
func (NoopSnapshots) SaveAnalysis(context.Context, *Analysis) error { return nil }
func (NoopSnapshots) LoadAnalysis(context.Context, string) (*Analysis, error) {
	return nil, nil
}

// NoopStats is used when no stats backend is configured.
type NoopStats struct{}

func (NoopStats) RecordResult(context.Context, string, string, string) error { return nil }

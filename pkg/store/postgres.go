package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStats keeps denormalized per-user aggregates. Rating moves by
// a flat increment; proper rating math lives outside this server.
type PostgresStats struct {
	db *sql.DB
}

const ratingDelta = 10

// NewPostgresStats opens the stats database.
func NewPostgresStats(url string) (*PostgresStats, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	return &PostgresStats{db: db}, nil
}

// RecordResult bumps games/wins/losses/draws and rating for both
// registered players. Guests (empty user ids) are skipped.
func (s *PostgresStats) RecordResult(ctx context.Context, whiteUserID, blackUserID, winner string) error {
	type delta struct {
		userID                   string
		wins, losses, draws, elo int
	}

	var deltas []delta
	switch winner {
	case "w":
		deltas = []delta{
			{whiteUserID, 1, 0, 0, ratingDelta},
			{blackUserID, 0, 1, 0, -ratingDelta},
		}
	case "b":
		deltas = []delta{
			{whiteUserID, 0, 1, 0, -ratingDelta},
			{blackUserID, 1, 0, 0, ratingDelta},
		}
	default:
		deltas = []delta{
			{whiteUserID, 0, 0, 1, 0},
			{blackUserID, 0, 0, 1, 0},
		}
	}

	for _, d := range deltas {
		if d.userID == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE users
			SET games_played = games_played + 1,
			    wins         = wins + $2,
			    losses       = losses + $3,
			    draws        = draws + $4,
			    rating       = rating + $5
			WHERE id = $1`,
			d.userID, d.wins, d.losses, d.draws, d.elo)
		if err != nil {
			return err
		}
	}

	return nil
}

// Close releases the database handle.
func (s *PostgresStats) Close() error {
	return s.db.Close()
}

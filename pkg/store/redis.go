package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Finished games stay loadable for a day; long enough for post-game
// analysis and result viewing.
const snapshotTTL = 24 * time.Hour

// RedisStore keeps session snapshots as JSON blobs keyed by game id.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis instance named by url
// (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

func (s *RedisStore) keyGame(gameID string) string     { return "game:" + gameID }
func (s *RedisStore) keyAnalysis(gameID string) string { return "game:" + gameID + ":analysis" }

// SaveSnapshot overwrites the stored snapshot for the game.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return s.rdb.Set(ctx, s.keyGame(snap.GameID), raw, snapshotTTL).Err()
}

// LoadSnapshot fetches a stored snapshot, (nil, nil) when absent.
func (s *RedisStore) LoadSnapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveAnalysis stores the grading alongside the snapshot.
func (s *RedisStore) SaveAnalysis(ctx context.Context, a *Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}

	return s.rdb.Set(ctx, s.keyAnalysis(a.GameID), raw, snapshotTTL).Err()
}

// LoadAnalysis fetches a stored grading, (nil, nil) when absent.
func (s *RedisStore) LoadAnalysis(ctx context.Context, gameID string) (*Analysis, error) {
	raw, err := s.rdb.Get(ctx, s.keyAnalysis(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

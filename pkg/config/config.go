// Package config collects every tunable the server reads at startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full server configuration. It is built once in main
// and passed by reference to whatever needs it.
type Config struct {
	Debug bool
	Port  string

	// JWT secret for identity tokens. Empty disables authenticated play.
	JWTSecret string

	// UCI engine executable and pool size for the bot/evaluation backend.
	EnginePath string
	EnginePool int

	// Optional stores. Empty values fall back to no-op implementations.
	RedisURL    string
	DatabaseURL string

	// Core timing knobs.
	GraceWindow    time.Duration // disconnect forfeit window
	QueueStaleWait time.Duration // matchmaking entry lifetime
	IdleWindow     time.Duration // abandoned-session reclaim window
	SweepInterval  time.Duration // cadence of the periodic sweeps
}

// Load reads the environment into a Config, applying defaults for
// anything unset. Flags for debug/port are handled by main on top.
func Load() *Config {
	cfg := &Config{
		Port:           "8080",
		EnginePool:     5,
		GraceWindow:    60 * time.Second,
		QueueStaleWait: 30 * time.Second,
		IdleWindow:     time.Hour,
		SweepInterval:  5 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Port = v
	}
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.EnginePath = strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_POOL_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EnginePool = n
		}
	}

	cfg.GraceWindow = durationEnv("DISCONNECT_GRACE_SECONDS", cfg.GraceWindow)
	cfg.QueueStaleWait = durationEnv("QUEUE_STALE_SECONDS", cfg.QueueStaleWait)
	cfg.IdleWindow = durationEnv("IDLE_SWEEP_SECONDS", cfg.IdleWindow)
	cfg.SweepInterval = durationEnv("SWEEP_INTERVAL_SECONDS", cfg.SweepInterval)

	return cfg
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}

	return time.Duration(n) * time.Second
}

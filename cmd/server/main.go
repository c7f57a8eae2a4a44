// Package main is the entry point of the application
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dmatei/chess-server/internal/auth"
	"github.com/dmatei/chess-server/pkg/analysis"
	"github.com/dmatei/chess-server/pkg/bot"
	"github.com/dmatei/chess-server/pkg/config"
	"github.com/dmatei/chess-server/pkg/engine"
	"github.com/dmatei/chess-server/pkg/events"
	"github.com/dmatei/chess-server/pkg/game"
	"github.com/dmatei/chess-server/pkg/matchmaking"
	"github.com/dmatei/chess-server/pkg/messages"
	"github.com/dmatei/chess-server/pkg/presence"
	"github.com/dmatei/chess-server/pkg/rules"
	"github.com/dmatei/chess-server/pkg/server"
	"github.com/dmatei/chess-server/pkg/store"
)

// application encapsulates global dependencies
type application struct {
	Logger    *zap.Logger
	Config    *config.Config
	Verifier  *auth.Verifier
	Publisher *events.Publisher
	Registry  *game.Registry
	Queue     *matchmaking.Queue
	Tracker   *presence.Tracker
	Analyzer  *analysis.Analyzer
	Pool      *engine.Pool
	Hub       *server.Hub
	Server    *http.Server

	StartTime  time.Time
	stopSweeps chan struct{}
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides PORT)")
	flag.Parse()

	// A missing .env is fine in production; everything comes from the
	// real environment there.
	_ = godotenv.Load()

	cfg := config.Load()
	cfg.Debug = *debug
	if *port != "" {
		cfg.Port = *port
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	publisher := events.NewPublisher()
	rulesEngine := rules.NewEngine()

	snapshots, stats := buildStores(cfg, logger)

	registry := game.NewRegistry(rulesEngine, snapshots, stats, publisher, logger)

	pool := engine.NewPool(cfg.EnginePath, cfg.EnginePool, logger)
	if cfg.EnginePath != "" {
		if err := pool.Initialize(); err != nil {
			logger.Fatal("initialize engine error", zap.Error(err))
		}
	} else {
		logger.Warn("ENGINE_PATH not set; bot games and analysis are unavailable")
	}

	driver := bot.NewDriver(registry, pool, publisher, logger)
	registry.SetOpponentDriver(driver)

	queue := matchmaking.NewQueue(registry, logger)
	tracker := presence.NewTracker(registry, publisher, logger)
	analyzer := analysis.NewAnalyzer(pool, snapshots, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	hub := server.NewHub(registry, queue, tracker, verifier, publisher, logger)

	app := &application{
		Logger:     logger,
		Config:     cfg,
		Verifier:   verifier,
		Publisher:  publisher,
		Registry:   registry,
		Queue:      queue,
		Tracker:    tracker,
		Analyzer:   analyzer,
		Pool:       pool,
		Hub:        hub,
		StartTime:  time.Now(),
		stopSweeps: make(chan struct{}),
	}

	go app.Hub.Run()
	go app.runSweeps()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

// buildStores picks the persistence backends from config. Anything not
// configured degrades to a no-op so the server still runs standalone.
func buildStores(cfg *config.Config, logger *zap.Logger) (store.SnapshotStore, store.StatsStore) {
	var snapshots store.SnapshotStore = store.NoopSnapshots{}
	var stats store.StatsStore = store.NoopStats{}

	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		snapshots = rs
		logger.Info("using redis snapshot store")
	}

	if cfg.DatabaseURL != "" {
		ps, err := store.NewPostgresStats(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres connection error", zap.Error(err))
		}
		stats = ps
		logger.Info("using postgres stats store")
	}

	return snapshots, stats
}

// runSweeps drives the periodic maintenance the core leaves to the
// caller: stale queue entries, expired disconnect grace windows and
// abandoned sessions.
func (app *application) runSweeps() {
	ticker := time.NewTicker(app.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, rcpt := range app.Queue.SweepStale(app.Config.QueueStaleWait) {
				rcpt.SendJSON(messages.OutboundMessage{
					Event:   messages.EventQueueTimeout,
					Payload: messages.ErrorPayload{Message: "no opponent found"},
				})
			}
			app.Tracker.SweepExpired(app.Config.GraceWindow)
			app.Registry.SweepIdle(app.Config.IdleWindow)
		case <-app.stopSweeps:
			return
		}
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	close(app.stopSweeps)

	if app.Hub != nil {
		app.Hub.Shutdown()
	}
	if app.Pool != nil {
		app.Pool.Shutdown()
	}

	app.Logger.Info("All components shut down successfully")
}

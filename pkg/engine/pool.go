package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const acquireTimeout = 5 * time.Second

// Pool manages multiple engine processes and implements Evaluator on
// top of them.
type Pool struct {
	engines    map[string]*UCIEngine
	available  chan string // IDs of available engines
	maxEngines int
	enginePath string
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewPool creates a new engine pool.
func NewPool(enginePath string, maxEngines int, logger *zap.Logger) *Pool {
	return &Pool{
		engines:    make(map[string]*UCIEngine),
		available:  make(chan string, maxEngines),
		maxEngines: maxEngines,
		enginePath: enginePath,
		logger:     logger,
	}
}

// Initialize starts the engine processes.
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.maxEngines; i++ {
		eng, err := NewUCIEngine(p.enginePath, p.logger)
		if err != nil {
			return err
		}

		p.engines[eng.ID.String()] = eng
		p.available <- eng.ID.String()
	}

	p.logger.Info("engine pool initialized", zap.Int("count", len(p.engines)))
	return nil
}

func (p *Pool) acquire(ctx context.Context) (*UCIEngine, error) {
	select {
	case engineID := <-p.available:
		p.mu.RLock()
		eng, exists := p.engines[engineID]
		p.mu.RUnlock()

		if !exists {
			return nil, errors.New("invalid engine ID from pool")
		}
		return eng, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-time.After(acquireTimeout):
		return nil, errors.New("no engines available in the pool")
	}
}

func (p *Pool) release(eng *UCIEngine) {
	select {
	case p.available <- eng.ID.String():
	default:
		p.logger.Warn("failed to return engine to pool, channel full",
			zap.String("engine_id", eng.ID.String()))
	}
}

// BestMove searches the position at the given handicap and returns the
// engine's reply in UCI form.
func (p *Pool) BestMove(ctx context.Context, fen string, skill, depth int) (string, error) {
	eng, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer p.release(eng)

	res, err := eng.Search(ctx, fen, skill, depth)
	if err != nil {
		return "", err
	}
	return res.BestMove, nil
}

// Evaluate searches the position at full strength.
func (p *Pool) Evaluate(ctx context.Context, fen string, depth int) (SearchResult, error) {
	eng, err := p.acquire(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	defer p.release(eng)

	// Skill level back to maximum for accurate grading.
	return eng.Search(ctx, fen, 20, depth)
}

// Shutdown closes all engines in the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, eng := range p.engines {
		if err := eng.Close(); err != nil {
			p.logger.Error("error closing engine",
				zap.String("engine_id", id),
				zap.Error(err))
		}
	}

	close(p.available)
	p.engines = make(map[string]*UCIEngine)

	p.logger.Info("engine pool shut down")
}

// Package engine drives UCI chess engines: the bot opponent picks its
// replies here and finished games are graded here.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SearchResult is what a single "go" command yields: the engine's move
// and the score of the position in centipawns from white's view.
type SearchResult struct {
	BestMove string
	ScoreCP  int
}

// Evaluator is the position-evaluator contract the rest of the server
// consumes. BestMove plays at the given handicap; Evaluate always
// searches at full strength.
type Evaluator interface {
	BestMove(ctx context.Context, fen string, skill, depth int) (string, error)
	Evaluate(ctx context.Context, fen string, depth int) (SearchResult, error)
}

// UCIEngine wraps one engine process.
type UCIEngine struct {
	ID uuid.UUID

	cmd *exec.Cmd

	stdinPipe io.WriteCloser
	reader    *bufio.Reader

	writeMu  sync.Mutex
	searchMu sync.Mutex // one search in flight per engine

	results  chan SearchResult
	quitChan chan struct{}

	logger *zap.Logger
}

var (
	scoreCPRe   = regexp.MustCompile(`score cp (-?\d+)`)
	scoreMateRe = regexp.MustCompile(`score mate (-?\d+)`)
)

// NewUCIEngine starts the engine process and switches it to UCI mode.
func NewUCIEngine(enginePath string, logger *zap.Logger) (*UCIEngine, error) {
	cmd := exec.Command(enginePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("StdoutPipe error: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("StdinPipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting engine: %w", err)
	}

	e := &UCIEngine{
		ID:        uuid.New(),
		cmd:       cmd,
		stdinPipe: stdin,
		reader:    bufio.NewReader(stdout),
		results:   make(chan SearchResult, 1),
		quitChan:  make(chan struct{}),
		logger:    logger,
	}

	if err := e.writeCommand("uci"); err != nil {
		return nil, fmt.Errorf("error sending uci cmd: %w", err)
	}
	if err := e.writeCommand("isready"); err != nil {
		return nil, fmt.Errorf("error sending isready cmd: %w", err)
	}

	go e.readLoop()

	return e, nil
}

func (e *UCIEngine) readLoop() {
	// Score of the search in progress, updated by info lines until the
	// engine reports its move.
	var score int

	for {
		select {
		case <-e.quitChan:
			return
		default:
			line, err := e.reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					e.logger.Error("engine read error", zap.Error(err))
				}
				return
			}
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "info ") && strings.Contains(line, "score") {
				score = parseScore(line, score)
				continue
			}

			if strings.HasPrefix(line, "bestmove") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					select {
					case e.results <- SearchResult{BestMove: fields[1], ScoreCP: score}:
					default:
					}
				}
				score = 0
			}
		}
	}
}

// parseScore folds mate announcements into large centipawn values so a
// single scale grades every position.
func parseScore(line string, prev int) int {
	if m := scoreMateRe.FindStringSubmatch(line); m != nil {
		mateIn, _ := strconv.Atoi(m[1])
		if mateIn > 0 {
			return 10000 - mateIn*100
		}
		return -10000 - mateIn*100
	}
	if m := scoreCPRe.FindStringSubmatch(line); m != nil {
		cp, _ := strconv.Atoi(m[1])
		return cp
	}
	return prev
}

// Search runs one fixed-depth search from the given position. A skill
// level below zero leaves the engine at full strength.
func (e *UCIEngine) Search(ctx context.Context, fen string, skill, depth int) (SearchResult, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	// Drop a result a cancelled search may have left behind.
	select {
	case <-e.results:
	default:
	}

	if skill >= 0 {
		if err := e.writeCommand(fmt.Sprintf("setoption name Skill Level value %d", skill)); err != nil {
			return SearchResult{}, err
		}
	}
	if err := e.writeCommand(fmt.Sprintf("position fen %s", fen)); err != nil {
		return SearchResult{}, err
	}
	if err := e.writeCommand(fmt.Sprintf("go depth %d", depth)); err != nil {
		return SearchResult{}, err
	}

	select {
	case res := <-e.results:
		return res, nil
	case <-ctx.Done():
		_ = e.writeCommand("stop")
		return SearchResult{}, ctx.Err()
	}
}

func (e *UCIEngine) writeCommand(cmd string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	_, err := io.WriteString(e.stdinPipe, cmd+"\n")
	return err
}

// Close shuts the engine process down.
func (e *UCIEngine) Close() error {
	close(e.quitChan)
	_ = e.writeCommand("quit")
	return e.cmd.Wait()
}

// Package main is the entry point of the application
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dmatei/chess-server/pkg/analysis"
)

// Analysis replays every move through the evaluator; give slow engines
// room to finish.
const analyzeTimeout = 2 * time.Minute

// handleAnalyze handles POST /api/games/{id}/analyze
func (app *application) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
	defer cancel()

	result, err := app.Analyzer.Analyze(ctx, gameID)
	if err != nil {
		app.writeAnalysisError(w, gameID, err)
		return
	}

	app.writeJSON(w, result)
}

// handleGetAnalysis handles GET /api/games/{id}/analysis
func (app *application) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	result, err := app.Analyzer.Stored(r.Context(), gameID)
	if err != nil {
		app.writeAnalysisError(w, gameID, err)
		return
	}

	app.writeJSON(w, result)
}

func (app *application) writeAnalysisError(w http.ResponseWriter, gameID string, err error) {
	switch {
	case errors.Is(err, analysis.ErrGameNotFound):
		http.Error(w, "game not found", http.StatusNotFound)
	case errors.Is(err, analysis.ErrNotFinished):
		http.Error(w, "game not finished", http.StatusConflict)
	default:
		app.Logger.Error("analysis failed",
			zap.String("game_id", gameID),
			zap.Error(err))
		http.Error(w, "analysis failed", http.StatusInternalServerError)
	}
}

func (app *application) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Error("response encode failed", zap.Error(err))
	}
}

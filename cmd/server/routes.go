// Package main is the entry point of the application
package main

import "net/http"

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.handleHealth)
	mux.HandleFunc("GET /ws", app.handleWebSocket)
	mux.HandleFunc("POST /api/games/{id}/analyze", app.handleAnalyze)
	mux.HandleFunc("GET /api/games/{id}/analysis", app.handleGetAnalysis)

	return mux
}

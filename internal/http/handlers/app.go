// Package handlers exposes the task engine over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/orchestrator"
	"github.com/svjack/Pixelle-Video/internal/store"
)

type App struct {
	Store  *store.TaskStore
	Orch   *orchestrator.Orchestrator
	Logger infra.Logger
}

func NewApp(ts *store.TaskStore, orch *orchestrator.Orchestrator, logger infra.Logger) *App {
	return &App{Store: ts, Orch: orch, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

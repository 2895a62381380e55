package handlers

import (
	"encoding/json"
	"net/http"

	"veostudio/internal/artifact"
	"veostudio/internal/infra"
	"veostudio/internal/shell"
)

type App struct {
	Session  *shell.Session
	Registry *artifact.Registry
	Logger   *infra.Logger
}

func NewApp(session *shell.Session, registry *artifact.Registry, logger *infra.Logger) *App {
	return &App{Session: session, Registry: registry, Logger: infra.OrDiscard(logger)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, codeStr, msg string) {
	a.json(w, code, map[string]errorBody{"error": {Code: codeStr, Message: msg}})
}

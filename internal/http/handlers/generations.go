package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"veostudio/internal/domain"
	"veostudio/internal/middleware"
	"veostudio/internal/shell"
)

const (
	maxGenerationBody = 64 << 10
	sseHeartbeat      = 15 * time.Second
	statusRunning     = "RUNNING"
)

type generationPayload struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"api_key"`
}

// CreateGeneration starts a run on the session. The response never echoes
// the credential.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var payload generationPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerationBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	id, err := a.Session.Start(payload.Prompt, payload.APIKey)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPromptRequired):
		a.error(w, http.StatusBadRequest, "prompt_required", "Please enter a prompt.")
		return
	case errors.Is(err, domain.ErrCredentialRequired):
		a.error(w, http.StatusBadRequest, "api_key_required", "Please enter your API key.")
		return
	case errors.Is(err, domain.ErrBusy):
		a.error(w, http.StatusConflict, "busy", "A video is already being generated.")
		return
	case errors.Is(err, shell.ErrClosed):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "studio is shutting down")
		return
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("handlers: start generation")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		return
	}

	a.Logger.Info().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("generation_id", id).
		Int("prompt_len", len(payload.Prompt)).
		Msg("handlers: generation accepted")
	a.json(w, http.StatusAccepted, map[string]string{
		"generation_id": id,
		"status":        statusRunning,
	})
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Session.Snapshot())
}

func (a *App) AbandonGeneration(w http.ResponseWriter, r *http.Request) {
	if err := a.Session.Abandon(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			a.error(w, http.StatusConflict, "not_running", "no generation in progress")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to abandon generation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionEvents streams session events as server-sent events. The first
// frame is the current snapshot; a closed frame marks session shutdown.
func (a *App) SessionEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := a.Session.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", a.Session.Snapshot()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = writeSSE(w, "closed", map[string]string{})
				_ = rc.Flush()
				return
			}
			if err := writeSSE(w, ev.Type, ev); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

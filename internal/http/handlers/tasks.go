package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/orchestrator"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

type createTaskRequest struct {
	Title           string                      `json:"title"`
	Config          json.RawMessage             `json:"config,omitempty"`
	ContentMetadata *storyboard.ContentMetadata `json:"content_metadata,omitempty"`
	Start           *bool                       `json:"start,omitempty"`
}

// CreateTask registers a new generation task. Unset config fields fall back
// to the defaults. Unless the request says otherwise, execution starts
// immediately in the background.
func (a *App) CreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	raw, err := decodeBody(r, &body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := storyboard.DefaultConfig()
	if len(body.Config) > 0 {
		if err := json.Unmarshal(body.Config, &cfg); err != nil {
			a.error(w, http.StatusBadRequest, "invalid config")
			return
		}
	}

	meta, err := a.Orch.CreateTask(r.Context(), orchestrator.CreateRequest{
		Title:           body.Title,
		Config:          &cfg,
		Input:           raw,
		ContentMetadata: body.ContentMetadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			a.error(w, http.StatusBadRequest, err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: create task")
		a.error(w, http.StatusInternalServerError, "cannot create task")
		return
	}

	if body.Start == nil || *body.Start {
		a.startTask(meta.TaskID)
	}
	a.json(w, http.StatusCreated, meta)
}

// RunTask starts execution of an existing pending task.
func (a *App) RunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if a.Orch.IsRunning(taskID) {
		a.error(w, http.StatusConflict, "task is already running")
		return
	}
	meta, err := a.Store.LoadTaskMetadata(r.Context(), taskID)
	if err != nil {
		a.taskError(w, taskID, err)
		return
	}
	if meta.Status.IsTerminal() {
		a.error(w, http.StatusConflict, "task is already "+string(meta.Status))
		return
	}
	a.startTask(taskID)
	a.json(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": string(domain.StatusRunning)})
}

// ListTasks returns task metadata records, newest first, optionally filtered
// by status and paginated with limit/offset.
func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.TaskStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		a.error(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}
	limit := queryInt(q.Get("limit"), 0)
	offset := queryInt(q.Get("offset"), 0)

	tasks, err := a.Store.ListTasks(r.Context(), status, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: list tasks")
		a.error(w, http.StatusInternalServerError, "cannot list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.TaskMetadata{}
	}
	a.json(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// GetTask returns one task's metadata record.
func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	meta, err := a.Store.LoadTaskMetadata(r.Context(), taskID)
	if err != nil {
		a.taskError(w, taskID, err)
		return
	}
	a.json(w, http.StatusOK, meta)
}

// GetStoryboard returns one task's full storyboard document.
func (a *App) GetStoryboard(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	sb, err := a.Store.LoadStoryboard(r.Context(), taskID)
	if err != nil {
		a.taskError(w, taskID, err)
		return
	}
	a.json(w, http.StatusOK, sb)
}

// CancelTask requests cancellation of a running or pending task.
func (a *App) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ok, err := a.Orch.Cancel(r.Context(), taskID)
	if err != nil {
		a.taskError(w, taskID, err)
		return
	}
	if !ok {
		a.error(w, http.StatusConflict, "task is not cancellable")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": string(domain.StatusCancelled)})
}

// DeleteTask removes the task and all its artifacts. A running task must be
// cancelled first.
func (a *App) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if a.Orch.IsRunning(taskID) {
		a.error(w, http.StatusConflict, "task is running, cancel it first")
		return
	}
	if err := a.Store.DeleteTask(r.Context(), taskID); err != nil {
		a.Logger.Error().Str("task_id", taskID).Err(err).Msg("handlers: delete task")
		a.error(w, http.StatusInternalServerError, "cannot delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) startTask(taskID string) {
	go func() {
		if err := a.Orch.Run(context.Background(), taskID); err != nil {
			a.Logger.Error().Str("task_id", taskID).Err(err).Msg("handlers: task run finished with error")
		}
	}()
}

func (a *App) taskError(w http.ResponseWriter, taskID string, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		a.error(w, http.StatusNotFound, "task "+taskID+" not found")
	case errors.Is(err, domain.ErrCorruptRecord):
		a.Logger.Error().Str("task_id", taskID).Err(err).Msg("handlers: corrupt task record")
		a.error(w, http.StatusInternalServerError, "task record is unreadable")
	default:
		a.Logger.Error().Str("task_id", taskID).Err(err).Msg("handlers: task lookup")
		a.error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes JSON into v and returns the raw bytes for persistence as
// the task's original input.
func decodeBody(r *http.Request, v any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return raw, nil
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

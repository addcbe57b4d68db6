package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/timebank/exchange/internal/models"
	"github.com/timebank/exchange/internal/repository"
	"github.com/timebank/exchange/internal/services"
)

// Lifecycle is the coordinator surface the handler drives.
type Lifecycle interface {
	Create(ctx context.Context, requesterID uuid.UUID, title, description string, creditOffer int64) (*models.Task, error)
	Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, error)
	Update(ctx context.Context, taskID, requesterID uuid.UUID, fields services.UpdateFields) (*models.Task, error)
	Accept(ctx context.Context, taskID, acceptorID uuid.UUID) (*models.Task, error)
	Start(ctx context.Context, taskID, actorID uuid.UUID) (*models.Task, error)
	Complete(ctx context.Context, taskID, actorID uuid.UUID) (*models.Task, error)
	Cancel(ctx context.Context, taskID, actorID uuid.UUID, reason *string) (*models.Task, error)
}

// TaskHandler serves the /v1/tasks endpoints.
type TaskHandler struct {
	Lifecycle Lifecycle
	Logger    *slog.Logger
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RequesterID string `json:"requester_id"`
	CreditOffer int64  `json:"credit_offer"`
}

// CreateTask handles POST /v1/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		http.Error(w, `{"error":"invalid requester_id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Lifecycle.Create(r.Context(), requesterID, req.Title, req.Description, req.CreditOffer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks?state=&requester_id=&acceptor_id=.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var f repository.TaskFilter
	q := r.URL.Query()
	if state := q.Get("state"); state != "" {
		if !models.ValidState(state) {
			http.Error(w, `{"error":"invalid state filter"}`, http.StatusBadRequest)
			return
		}
		f.State = state
	}
	if v := q.Get("requester_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid requester_id filter"}`, http.StatusBadRequest)
			return
		}
		f.RequesterID = &id
	}
	if v := q.Get("acceptor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid acceptor_id filter"}`, http.StatusBadRequest)
			return
		}
		f.AcceptorID = &id
	}
	tasks, err := h.Lifecycle.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type updateTaskRequest struct {
	RequesterID string  `json:"requester_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	CreditOffer *int64  `json:"credit_offer"`
}

// UpdateTask handles PATCH /v1/tasks/{id}. Only legal while the task is open.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		http.Error(w, `{"error":"invalid requester_id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Lifecycle.Update(r.Context(), taskID, requesterID, services.UpdateFields{
		Title:       req.Title,
		Description: req.Description,
		CreditOffer: req.CreditOffer,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type acceptTaskRequest struct {
	AcceptorID string `json:"acceptor_id"`
}

// AcceptTask handles POST /v1/tasks/{id}/accept.
func (h *TaskHandler) AcceptTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req acceptTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	acceptorID, err := uuid.Parse(req.AcceptorID)
	if err != nil {
		http.Error(w, `{"error":"invalid acceptor_id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Lifecycle.Accept(r.Context(), taskID, acceptorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

// StartTask handles POST /v1/tasks/{id}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Start)
}

// CompleteTask handles POST /v1/tasks/{id}/complete. Safe to retry: the
// ledger transfer is keyed by the task id, so repeats observe the applied
// result instead of moving credits again.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Complete)
}

type cancelTaskRequest struct {
	ActorID string  `json:"actor_id"`
	Reason  *string `json:"reason"`
}

// CancelTask handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req cancelTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		http.Error(w, `{"error":"invalid actor_id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Lifecycle.Cancel(r.Context(), taskID, actorID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, taskID, actorID uuid.UUID) (*models.Task, error)) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		http.Error(w, `{"error":"invalid actor_id"}`, http.StatusBadRequest)
		return
	}
	task, err := op(r.Context(), taskID, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// writeError maps the coordinator taxonomy to HTTP status codes.
func (h *TaskHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errBody(err))
	case errors.Is(err, services.ErrUnknownUser):
		writeJSON(w, http.StatusNotFound, errBody(err))
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody(err))
	case errors.Is(err, services.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errBody(err))
	case errors.Is(err, services.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errBody(err))
	case errors.Is(err, services.ErrConflict):
		writeJSON(w, http.StatusConflict, errBody(err))
	case errors.Is(err, services.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, errBody(err))
	default:
		h.Logger.Error("task operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func pathTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

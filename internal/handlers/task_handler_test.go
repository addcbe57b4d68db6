package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/timebank/exchange/internal/models"
	"github.com/timebank/exchange/internal/repository"
	"github.com/timebank/exchange/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockLifecycle returns canned results per operation.
type mockLifecycle struct {
	task *models.Task
	err  error

	lastFilter repository.TaskFilter
}

func (m *mockLifecycle) Create(context.Context, uuid.UUID, string, string, int64) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) Get(context.Context, uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) List(_ context.Context, f repository.TaskFilter) ([]*models.Task, error) {
	m.lastFilter = f
	if m.err != nil {
		return nil, m.err
	}
	return []*models.Task{m.task}, nil
}
func (m *mockLifecycle) Update(context.Context, uuid.UUID, uuid.UUID, services.UpdateFields) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) Accept(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) Start(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) Complete(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}
func (m *mockLifecycle) Cancel(context.Context, uuid.UUID, uuid.UUID, *string) (*models.Task, error) {
	return m.task, m.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestHandler(task *models.Task, err error) (*TaskHandler, *mockLifecycle) {
	lc := &mockLifecycle{task: task, err: err}
	return &TaskHandler{Lifecycle: lc, Logger: slog.Default()}, lc
}

func sampleTask() *models.Task {
	return &models.Task{
		ID:          uuid.New(),
		Title:       "mow the lawn",
		RequesterID: uuid.New(),
		CreditOffer: 3,
		State:       models.TaskStateOpen,
		Version:     1,
	}
}

// serve routes the request through a mux with the real route patterns so
// r.PathValue works.
func serve(h *TaskHandler, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", h.CreateTask)
	mux.HandleFunc("GET /v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("PATCH /v1/tasks/{id}", h.UpdateTask)
	mux.HandleFunc("POST /v1/tasks/{id}/accept", h.AcceptTask)
	mux.HandleFunc("POST /v1/tasks/{id}/start", h.StartTask)
	mux.HandleFunc("POST /v1/tasks/{id}/complete", h.CompleteTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.CancelTask)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateTask_Created(t *testing.T) {
	task := sampleTask()
	h, _ := newTestHandler(task, nil)

	body := fmt.Sprintf(`{"title":"mow the lawn","requester_id":%q,"credit_offer":3}`, task.RequesterID)
	rec := serve(h, http.MethodPost, "/v1/tasks", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("id = %s, want %s", got.ID, task.ID)
	}
}

func TestCreateTask_InvalidRequesterID(t *testing.T) {
	h, _ := newTestHandler(sampleTask(), nil)

	rec := serve(h, http.MethodPost, "/v1/tasks", `{"title":"t","requester_id":"not-a-uuid","credit_offer":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTaskErrors_StatusMapping(t *testing.T) {
	taskID := uuid.New()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", services.ErrInvalidInput, http.StatusBadRequest},
		{"unknown user", services.ErrUnknownUser, http.StatusNotFound},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"invalid state", services.ErrInvalidState, http.StatusConflict},
		{"conflict", services.ErrConflict, http.StatusConflict},
		{"insufficient balance", services.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"internal", fmt.Errorf("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(nil, tc.err)
			body := fmt.Sprintf(`{"actor_id":%q}`, uuid.New())
			rec := serve(h, http.MethodPost, "/v1/tasks/"+taskID.String()+"/complete", body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetTask_OK(t *testing.T) {
	task := sampleTask()
	h, _ := newTestHandler(task, nil)

	rec := serve(h, http.MethodGet, "/v1/tasks/"+task.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetTask_BadID(t *testing.T) {
	h, _ := newTestHandler(sampleTask(), nil)

	rec := serve(h, http.MethodGet, "/v1/tasks/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListTasks_ParsesFilters(t *testing.T) {
	task := sampleTask()
	h, lc := newTestHandler(task, nil)

	requester := uuid.New()
	rec := serve(h, http.MethodGet, "/v1/tasks?state=open&requester_id="+requester.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if lc.lastFilter.State != models.TaskStateOpen {
		t.Errorf("state filter = %q, want open", lc.lastFilter.State)
	}
	if lc.lastFilter.RequesterID == nil || *lc.lastFilter.RequesterID != requester {
		t.Errorf("requester filter = %v, want %s", lc.lastFilter.RequesterID, requester)
	}
}

func TestListTasks_RejectsUnknownState(t *testing.T) {
	h, _ := newTestHandler(sampleTask(), nil)

	rec := serve(h, http.MethodGet, "/v1/tasks?state=doing", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAcceptTask_OK(t *testing.T) {
	task := sampleTask()
	task.State = models.TaskStatePending
	h, _ := newTestHandler(task, nil)

	body := fmt.Sprintf(`{"acceptor_id":%q}`, uuid.New())
	rec := serve(h, http.MethodPost, "/v1/tasks/"+task.ID.String()+"/accept", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelTask_CarriesReason(t *testing.T) {
	task := sampleTask()
	task.State = models.TaskStateCancelled
	h, _ := newTestHandler(task, nil)

	body := fmt.Sprintf(`{"actor_id":%q,"reason":"changed my mind"}`, uuid.New())
	rec := serve(h, http.MethodPost, "/v1/tasks/"+task.ID.String()+"/cancel", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateTask_OK(t *testing.T) {
	task := sampleTask()
	h, _ := newTestHandler(task, nil)

	body := fmt.Sprintf(`{"requester_id":%q,"title":"new title"}`, task.RequesterID)
	rec := serve(h, http.MethodPatch, "/v1/tasks/"+task.ID.String(), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTransition_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler(sampleTask(), nil)

	rec := serve(h, http.MethodPost, "/v1/tasks/"+uuid.NewString()+"/start", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audiarr/audiarr/internal/api/shared"
	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/platform/logger"
	"github.com/audiarr/audiarr/internal/redact"
	"github.com/audiarr/audiarr/internal/task"
)

// Orchestrator is the coordinator surface the handlers depend on.
type Orchestrator interface {
	Enqueue(ctx context.Context, spec task.EnqueueSpec) (string, error)
	GetTask(ctx context.Context, taskID string) (domain.Task, bool)
	ActiveTasks() []domain.Task
	QueuedTasks() []domain.Task
	History(ctx context.Context, limit int) ([]*domain.Task, error)
	Pause(ctx context.Context, taskID string) bool
	Resume(ctx context.Context, taskID string) bool
	Cancel(ctx context.Context, taskID string) bool
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	orch   Orchestrator
	cat    catalog.Catalog
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(orch Orchestrator, cat catalog.Catalog, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		orch:   orch,
		cat:    cat,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTaskRequest represents the request body for submitting an
// acquisition.
type CreateTaskRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

// CreateTaskResponse represents the response for a submitted task.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// CreateTask handles POST /tasks requests. It enqueues a user-initiated
// acquisition for a catalog item. Submitting an item that already has a
// live task returns the existing task's ID.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	item, err := h.cat.Item(r.Context(), req.ItemID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	taskID, err := h.orch.Enqueue(r.Context(), task.EnqueueSpec{
		Class:       domain.ClassAcquisition,
		BusinessKey: item.ID,
		Priority:    domain.PriorityUserAcquisition,
		Meta:        &domain.AcquisitionMeta{ItemID: item.ID, Title: item.Title},
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to enqueue task", err)
		return
	}

	log.Info("acquisition submitted",
		slog.String("item_id", item.ID),
		slog.String("task_id", taskID))
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{TaskID: taskID})
}

// ListTasks handles GET /tasks requests, returning active tasks followed by
// queued ones.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.orch.ActiveTasks()
	tasks = append(tasks, h.orch.QueuedTasks()...)
	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponse(tasks))
}

// GetTask handles GET /tasks/{id} requests, consulting live tasks and then
// history.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	t, ok := h.orch.GetTask(r.Context(), taskID)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListHistory handles GET /tasks/history requests. The optional limit query
// parameter caps the result count, defaulting to 50.
func (h *TaskHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	retired, err := h.orch.History(r.Context(), limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to load task history", err)
		return
	}

	out := make([]TaskResponse, 0, len(retired))
	for _, t := range retired {
		out = append(out, taskToResponse(*t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// PauseTask handles POST /tasks/{id}/pause requests.
func (h *TaskHandler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause", h.orch.Pause)
}

// ResumeTask handles POST /tasks/{id}/resume requests.
func (h *TaskHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume", h.orch.Resume)
}

// CancelTask handles POST /tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "cancel", h.orch.Cancel)
}

// control runs one pause/resume/cancel action. A declined action reports
// conflict: the task exists but is not in a state the action applies to.
func (h *TaskHandler) control(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(ctx context.Context, taskID string) bool,
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	if !fn(r.Context(), taskID) {
		if _, ok := h.orch.GetTask(r.Context(), taskID); !ok {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithError(w, r, http.StatusConflict, "Task is not in a state that allows "+action)
		return
	}

	log.Info("task control applied",
		slog.String("task_id", taskID),
		slog.String("action", action))

	t, _ := h.orch.GetTask(r.Context(), taskID)
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// RefreshCatalog handles POST /catalog/refresh requests by enqueuing a
// catalog sync task.
func (h *TaskHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.orch.Enqueue(r.Context(), task.EnqueueSpec{
		Class:       domain.ClassCatalogSync,
		BusinessKey: "catalog",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.SyncMeta{Kind: "catalog"},
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to enqueue catalog sync", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{TaskID: taskID})
}

// TriggerScan handles POST /policy/scan requests by enqueuing a policy scan
// task.
func (h *TaskHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.orch.Enqueue(r.Context(), task.EnqueueSpec{
		Class:       domain.ClassPolicyScan,
		BusinessKey: "policy-scan",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.ScanMeta{},
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to enqueue policy scan", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{TaskID: taskID})
}
